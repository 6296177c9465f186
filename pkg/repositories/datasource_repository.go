package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
)

// DataSourceRepository defines data access for datasources. Rows are
// filtered to the scope owner by row level security.
type DataSourceRepository interface {
	// Create inserts a new datasource and sets its ID and timestamps.
	Create(ctx context.Context, ds *models.DataSource) error

	// GetByID retrieves a datasource. Returns apperrors.ErrNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*models.DataSource, error)

	// List retrieves all datasources of the owner, newest first.
	List(ctx context.Context) ([]*models.DataSource, error)

	// SetInternalTarget records the warehouse schema and main table of an import.
	SetInternalTarget(ctx context.Context, id uuid.UUID, schema, table string) error

	// Delete removes a datasource; connections and diagrams cascade.
	Delete(ctx context.Context, id uuid.UUID) error
}

type dataSourceRepository struct{}

// NewDataSourceRepository creates a new datasource repository.
func NewDataSourceRepository() DataSourceRepository {
	return &dataSourceRepository{}
}

const dataSourceColumns = `id, owner_id, name, kind, internal_schema, internal_table, created_at, updated_at`

func (r *dataSourceRepository) Create(ctx context.Context, ds *models.DataSource) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}
	if !ds.Kind.IsValid() {
		return fmt.Errorf("%w: unknown datasource kind %q", apperrors.ErrInvalidInput, ds.Kind)
	}
	if ds.OwnerID == uuid.Nil {
		ds.OwnerID = scope.OwnerID
	}

	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	query := `
		INSERT INTO bi_datasources (owner_id, name, kind, internal_schema, internal_table, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err = scope.Conn.QueryRow(ctx, query,
		ds.OwnerID,
		ds.Name,
		string(ds.Kind),
		ds.InternalSchema,
		ds.InternalTable,
		ds.CreatedAt,
		ds.UpdatedAt,
	).Scan(&ds.ID)
	if err != nil {
		return translate(err, "failed to create datasource")
	}
	return nil
}

func (r *dataSourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DataSource, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	row := scope.Conn.QueryRow(ctx, `SELECT `+dataSourceColumns+` FROM bi_datasources WHERE id = $1`, id)
	ds, err := scanDataSource(row)
	if err != nil {
		return nil, translate(err, "failed to get datasource")
	}
	return ds, nil
}

func (r *dataSourceRepository) List(ctx context.Context) ([]*models.DataSource, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `SELECT `+dataSourceColumns+` FROM bi_datasources ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasources: %w", err)
	}
	defer rows.Close()

	var out []*models.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan datasource: %w", err)
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating datasources: %w", err)
	}
	return out, nil
}

func (r *dataSourceRepository) SetInternalTarget(ctx context.Context, id uuid.UUID, schema, table string) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE bi_datasources
		SET internal_schema = $2, internal_table = $3, updated_at = $4
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, id, schema, table, time.Now())
	if err != nil {
		return translate(err, "failed to update datasource")
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("datasource %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *dataSourceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM bi_datasources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete datasource: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("datasource %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func scanDataSource(row pgx.Row) (*models.DataSource, error) {
	var ds models.DataSource
	var kind string
	err := row.Scan(
		&ds.ID,
		&ds.OwnerID,
		&ds.Name,
		&kind,
		&ds.InternalSchema,
		&ds.InternalTable,
		&ds.CreatedAt,
		&ds.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ds.Kind = models.DataSourceKind(kind)
	return &ds, nil
}

var _ DataSourceRepository = (*dataSourceRepository)(nil)
