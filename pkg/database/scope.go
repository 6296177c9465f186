package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ownerSetting is read by the row level security policies of every bi_ table.
const ownerSetting = "app.current_owner_id"

// OwnerScope is a connection with app.current_owner_id set, so row level
// security only exposes the owner's datasources and diagrams.
type OwnerScope struct {
	Conn    *pgxpool.Conn
	OwnerID uuid.UUID
}

// Close resets the owner setting and returns the connection to the pool.
// It MUST be called, otherwise the next borrower inherits the owner.
func (s *OwnerScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET "+ownerSetting)
	s.Conn.Release()
	s.Conn = nil
}

// WithOwner acquires a connection scoped to ownerID.
// The returned scope MUST be closed with defer scope.Close().
func (db *DB) WithOwner(ctx context.Context, ownerID uuid.UUID) (*OwnerScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('"+ownerSetting+"', $1, false)", ownerID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &OwnerScope{Conn: conn, OwnerID: ownerID}, nil
}
