package database

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	// OwnerScopeKey is the context key for the owner-scoped connection.
	OwnerScopeKey contextKey = "ownerScope"
	// OwnerIDKey is the context key for the authenticated owner.
	OwnerIDKey contextKey = "ownerID"
)

// GetOwnerScope retrieves the owner-scoped connection from context.
// Returns nil and false if not present.
func GetOwnerScope(ctx context.Context) (*OwnerScope, bool) {
	scope, ok := ctx.Value(OwnerScopeKey).(*OwnerScope)
	return scope, ok && scope != nil && scope.Conn != nil
}

// SetOwnerScope stores the owner-scoped connection in context.
func SetOwnerScope(ctx context.Context, scope *OwnerScope) context.Context {
	ctx = context.WithValue(ctx, OwnerScopeKey, scope)
	return WithOwnerID(ctx, scope.OwnerID)
}

// WithOwnerID stores the owner identity in context.
func WithOwnerID(ctx context.Context, ownerID uuid.UUID) context.Context {
	return context.WithValue(ctx, OwnerIDKey, ownerID)
}

// OwnerIDFromContext returns the owner stored by WithOwnerID.
func OwnerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(OwnerIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// OwnerString returns the owner as a string, or "" when absent. It keys the
// per-owner pools of the datasource connection manager.
func OwnerString(ctx context.Context) string {
	if id, ok := OwnerIDFromContext(ctx); ok {
		return id.String()
	}
	return ""
}
