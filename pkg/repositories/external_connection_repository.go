package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-bi/pkg/models"
)

// ExternalConnectionRepository stores the explicit connection record of LIVE
// datasources. Passwords arrive already sealed.
type ExternalConnectionRepository interface {
	// Upsert creates or replaces the connection of conn.DataSourceID.
	Upsert(ctx context.Context, conn *models.ExternalConnection) error

	// GetByDataSource returns the connection of a datasource or
	// apperrors.ErrNotFound.
	GetByDataSource(ctx context.Context, dataSourceID uuid.UUID) (*models.ExternalConnection, error)
}

type externalConnectionRepository struct{}

// NewExternalConnectionRepository creates a new external connection repository.
func NewExternalConnectionRepository() ExternalConnectionRepository {
	return &externalConnectionRepository{}
}

func (r *externalConnectionRepository) Upsert(ctx context.Context, conn *models.ExternalConnection) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}
	conn.CreatedAt = time.Now()

	query := `
		INSERT INTO bi_external_connections
			(datasource_id, owner_id, db_type, host, port, database_name, username, sealed_password, schema_name, ssl_mode, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (datasource_id) DO UPDATE SET
			db_type = EXCLUDED.db_type,
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			database_name = EXCLUDED.database_name,
			username = EXCLUDED.username,
			sealed_password = EXCLUDED.sealed_password,
			schema_name = EXCLUDED.schema_name,
			ssl_mode = EXCLUDED.ssl_mode
		RETURNING id, created_at`

	err = scope.Conn.QueryRow(ctx, query,
		conn.DataSourceID,
		scope.OwnerID,
		conn.DBType,
		conn.Host,
		conn.Port,
		conn.Database,
		conn.Username,
		conn.SealedPassword,
		conn.Schema,
		conn.SSLMode,
		conn.CreatedAt,
	).Scan(&conn.ID, &conn.CreatedAt)
	if err != nil {
		return translate(err, "failed to save external connection")
	}
	return nil
}

func (r *externalConnectionRepository) GetByDataSource(ctx context.Context, dataSourceID uuid.UUID) (*models.ExternalConnection, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, datasource_id, db_type, host, port, database_name, username, sealed_password, schema_name, ssl_mode, created_at
		FROM bi_external_connections
		WHERE datasource_id = $1`

	var conn models.ExternalConnection
	err = scope.Conn.QueryRow(ctx, query, dataSourceID).Scan(
		&conn.ID,
		&conn.DataSourceID,
		&conn.DBType,
		&conn.Host,
		&conn.Port,
		&conn.Database,
		&conn.Username,
		&conn.SealedPassword,
		&conn.Schema,
		&conn.SSLMode,
		&conn.CreatedAt,
	)
	if err != nil {
		return nil, translate(err, "failed to get external connection")
	}
	return &conn, nil
}

var _ ExternalConnectionRepository = (*externalConnectionRepository)(nil)
