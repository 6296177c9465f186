package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/database"
)

// OwnerHeader carries the authenticated owner, set by the auth layer in
// front of this service.
const OwnerHeader = "X-Owner-ID"

// ScopeOpener acquires owner-scoped metadata connections. *database.DB
// implements it.
type ScopeOpener interface {
	WithOwner(ctx context.Context, ownerID uuid.UUID) (*database.OwnerScope, error)
}

// OwnerScope returns middleware that reads the owner from X-Owner-ID, opens a
// row-level-security scope for it and stores the scope in the request
// context. The scope is released when the handler returns.
func OwnerScope(opener ScopeOpener, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(OwnerHeader)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing_owner", "X-Owner-ID header is required")
				return
			}
			ownerID, err := uuid.Parse(raw)
			if err != nil || ownerID == uuid.Nil {
				writeError(w, http.StatusBadRequest, "invalid_owner", "X-Owner-ID must be a UUID")
				return
			}

			scope, err := opener.WithOwner(r.Context(), ownerID)
			if err != nil {
				logger.Error("Failed to open owner scope",
					zap.String("owner_id", ownerID.String()),
					zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "database_unavailable", "Metadata database is unavailable")
				return
			}
			defer scope.Close()

			next.ServeHTTP(w, r.WithContext(database.SetOwnerScope(r.Context(), scope)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
