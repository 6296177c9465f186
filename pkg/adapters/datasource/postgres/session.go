// Package postgres implements datasource sessions on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Session is a PostgreSQL datasource session.
type Session struct {
	pool      *pgxpool.Pool
	desc      datasource.ConnectionDescriptor
	ownedPool bool // true if we created the pool (no connection manager)
	logger    *zap.Logger
}

// Open creates a session using the connection manager's pool for desc.
// If connMgr is nil, creates an unmanaged pool (for tests).
func Open(ctx context.Context, desc datasource.ConnectionDescriptor, ownerID string, connMgr *datasource.ConnectionManager, logger *zap.Logger) (datasource.Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("postgres")

	if connMgr == nil {
		pool, err := pgxpool.New(ctx, desc.ConnString())
		if err != nil {
			return nil, apperrors.Connectivity(desc.String(), err)
		}
		return &Session{pool: pool, desc: desc, ownedPool: true, logger: logger}, nil
	}

	pool, err := connMgr.GetOrCreatePool(ctx, ownerID, desc)
	if err != nil {
		return nil, err
	}
	return &Session{pool: pool, desc: desc, logger: logger}, nil
}

// NewSession wraps an existing pool. The pool is not closed by Close.
func NewSession(pool *pgxpool.Pool, desc datasource.ConnectionDescriptor, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{pool: pool, desc: desc, logger: logger.Named("postgres")}
}

// Ping verifies the database is reachable with valid credentials and that
// we are connected to the database the descriptor names.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return apperrors.Connectivity(s.desc.String(), err)
	}

	var currentDB string
	if err := s.pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}
	if s.desc.Database != "" && !strings.EqualFold(currentDB, s.desc.Database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", s.desc.Database, currentDB)
	}
	return nil
}

// WithTx runs fn in one transaction.
func (s *Session) WithTx(ctx context.Context, fn func(ctx context.Context, tx datasource.Tx) error) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.Connectivity(s.desc.String(), err)
	}

	if err := fn(ctx, &Tx{tx: pgTx}); err != nil {
		if rbErr := pgTx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return multierr.Append(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close releases the session (but NOT the pool if managed).
func (s *Session) Close() error {
	if s.ownedPool && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Tx is a datasource transaction on pgx.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, apperrors.Execution(stmt, err)
	}
	return tag.RowsAffected(), nil
}

// TryExec runs stmt inside a savepoint (pgx nests Begin as SAVEPOINT).
func (t *Tx) TryExec(ctx context.Context, stmt string) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if _, err := sp.Exec(ctx, stmt); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return multierr.Append(apperrors.Execution(stmt, err), fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		return apperrors.Execution(stmt, err)
	}
	return sp.Commit(ctx)
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (*datasource.QueryResult, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Execution(query, err)
	}
	return collectRows(rows, query)
}

func (t *Tx) TableColumns(ctx context.Context, schema, table string) ([]datasource.ColumnMetadata, error) {
	return tableColumns(ctx, t.tx, schema, table)
}

func (t *Tx) CopyFrom(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error) {
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{schema, table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, apperrors.Execution(fmt.Sprintf("COPY %s", pgx.Identifier{schema, table}.Sanitize()), err)
	}
	return n, nil
}

var (
	_ datasource.Session = (*Session)(nil)
	_ datasource.Tx      = (*Tx)(nil)
)
