package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
)

// DiagramRepository defines data access for persisted charts.
type DiagramRepository interface {
	// Create inserts d and sets its ID and timestamps.
	Create(ctx context.Context, d *models.Diagram) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.Diagram, error)

	// ListByDataSource returns the diagrams of a datasource ordered by
	// position, then creation time.
	ListByDataSource(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Diagram, error)

	// NextPosition returns one past the highest position used by the datasource.
	NextPosition(ctx context.Context, dataSourceID uuid.UUID) (int, error)

	// UpdateChartData overwrites the payload of a refreshed diagram.
	UpdateChartData(ctx context.Context, id uuid.UUID, data models.ChartPayload) error

	SetActive(ctx context.Context, id uuid.UUID, active bool) error

	Delete(ctx context.Context, id uuid.UUID) error
}

type diagramRepository struct{}

// NewDiagramRepository creates a new diagram repository.
func NewDiagramRepository() DiagramRepository {
	return &diagramRepository{}
}

const diagramColumns = `id, datasource_id, owner_id, title, description, chart_type, source_type, sql_query,
	chart_data, chart_config, is_active, position, created_at, updated_at`

func (r *diagramRepository) Create(ctx context.Context, d *models.Diagram) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}
	if d.OwnerID == uuid.Nil {
		d.OwnerID = scope.OwnerID
	}
	if d.Source == "" {
		d.Source = models.DiagramSourceAuto
	}
	d.ChartType = models.NormalizeChartType(string(d.ChartType))

	dataJSON, err := json.Marshal(d.ChartData)
	if err != nil {
		return fmt.Errorf("failed to marshal chart data: %w", err)
	}
	config := d.ChartConfig
	if config == nil {
		config = map[string]any{}
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal chart config: %w", err)
	}

	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now

	query := `
		INSERT INTO bi_diagrams
			(datasource_id, owner_id, title, description, chart_type, source_type, sql_query,
			 chart_data, chart_config, is_active, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	err = scope.Conn.QueryRow(ctx, query,
		d.DataSourceID,
		d.OwnerID,
		d.Title,
		d.Description,
		string(d.ChartType),
		string(d.Source),
		d.SQLQuery,
		dataJSON,
		configJSON,
		d.IsActive,
		d.Position,
		d.CreatedAt,
		d.UpdatedAt,
	).Scan(&d.ID)
	if err != nil {
		return translate(err, "failed to create diagram")
	}
	return nil
}

func (r *diagramRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Diagram, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	d, err := scanDiagram(scope.Conn.QueryRow(ctx, `SELECT `+diagramColumns+` FROM bi_diagrams WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err, "failed to get diagram")
	}
	return d, nil
}

func (r *diagramRepository) ListByDataSource(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Diagram, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + diagramColumns + `
		FROM bi_diagrams
		WHERE datasource_id = $1
		ORDER BY position, created_at`

	rows, err := scope.Conn.Query(ctx, query, dataSourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagrams: %w", err)
	}
	defer rows.Close()

	diagrams := make([]*models.Diagram, 0)
	for rows.Next() {
		d, err := scanDiagram(rows)
		if err != nil {
			return nil, err
		}
		diagrams = append(diagrams, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating diagrams: %w", err)
	}
	return diagrams, nil
}

func (r *diagramRepository) NextPosition(ctx context.Context, dataSourceID uuid.UUID) (int, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return 0, err
	}

	var next int
	err = scope.Conn.QueryRow(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM bi_diagrams WHERE datasource_id = $1`, dataSourceID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to compute diagram position: %w", err)
	}
	return next, nil
}

func (r *diagramRepository) UpdateChartData(ctx context.Context, id uuid.UUID, data models.ChartPayload) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal chart data: %w", err)
	}
	return r.update(ctx, id, "chart_data", dataJSON)
}

func (r *diagramRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.update(ctx, id, "is_active", active)
}

// update sets one column; column is always a constant of this file.
func (r *diagramRepository) update(ctx context.Context, id uuid.UUID, column string, value any) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE bi_diagrams SET %s = $2, updated_at = $3 WHERE id = $1`, column)
	result, err := scope.Conn.Exec(ctx, query, id, value, time.Now())
	if err != nil {
		return translate(err, "failed to update diagram")
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("diagram %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *diagramRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM bi_diagrams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete diagram: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("diagram %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func scanDiagram(row pgx.Row) (*models.Diagram, error) {
	var d models.Diagram
	var chartType, source string
	var dataJSON, configJSON []byte

	err := row.Scan(
		&d.ID,
		&d.DataSourceID,
		&d.OwnerID,
		&d.Title,
		&d.Description,
		&chartType,
		&source,
		&d.SQLQuery,
		&dataJSON,
		&configJSON,
		&d.IsActive,
		&d.Position,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan diagram: %w", err)
	}
	d.ChartType = models.ChartType(chartType)
	d.Source = models.DiagramSource(source)

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &d.ChartData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chart_data: %w", err)
		}
	}
	if len(configJSON) > 0 && string(configJSON) != "null" {
		if err := json.Unmarshal(configJSON, &d.ChartConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chart_config: %w", err)
		}
	}
	return &d, nil
}

var _ DiagramRepository = (*diagramRepository)(nil)
