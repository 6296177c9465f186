package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/database"
)

var errNoScope = errors.New("no owner scope in context")

func ownerScope(ctx context.Context) (*database.OwnerScope, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, errNoScope
	}
	return scope, nil
}

// translate maps driver errors onto the error taxonomy.
func translate(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", what, apperrors.ErrConflict)
		case "23503", "23514", "42501": // foreign key, check, insufficient privilege (row level security)
			return fmt.Errorf("%s: %w: %s", what, apperrors.ErrInvalidInput, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
