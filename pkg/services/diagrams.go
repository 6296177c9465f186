package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/logging"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
	"github.com/ekaya-inc/ekaya-bi/pkg/repositories"
	"github.com/ekaya-inc/ekaya-bi/pkg/sql"
)

const dimensionSampleSize = 5

// DiagramService creates and maintains persisted charts.
type DiagramService interface {
	// GenerateAutomatic analyzes the main table of a FILE datasource and
	// stores up to three complementary charts.
	GenerateAutomatic(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Diagram, error)

	// SaveChat stores the chart of a chat turn.
	SaveChat(ctx context.Context, dataSourceID uuid.UUID, outcome *ChatOutcome) (*models.Diagram, error)

	// Refresh re-runs the diagram query and overwrites its chart data.
	Refresh(ctx context.Context, id uuid.UUID) (*models.Diagram, error)

	// Duplicate copies a diagram. An empty title appends " (Copia)".
	Duplicate(ctx context.Context, id uuid.UUID, title string) (*models.Diagram, error)

	SetActive(ctx context.Context, id uuid.UUID, active bool) error

	List(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Diagram, error)

	Delete(ctx context.Context, id uuid.UUID) error
}

type diagramService struct {
	repo      repositories.DiagramRepository
	resolver  Resolver
	connector datasource.Connector
	logger    *zap.Logger
}

// NewDiagramService creates a new diagram service.
func NewDiagramService(repo repositories.DiagramRepository, resolver Resolver, connector datasource.Connector, logger *zap.Logger) DiagramService {
	return &diagramService{
		repo:      repo,
		resolver:  resolver,
		connector: connector,
		logger:    logger.Named("diagrams"),
	}
}

func (s *diagramService) GenerateAutomatic(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Diagram, error) {
	resolved, err := s.resolver.Resolve(ctx, dataSourceID, nil)
	if err != nil {
		return nil, err
	}
	table := resolved.DataSource.InternalTable
	if table == "" {
		return nil, fmt.Errorf("%w: datasource has no imported table", apperrors.ErrInvalidInput)
	}
	schema := resolved.Descriptor.Schema

	session, err := s.connector.Open(ctx, resolved.Descriptor)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	profile, err := s.profile(ctx, session, schema, table)
	if err != nil {
		return nil, err
	}
	if profile.TotalRows == 0 {
		s.logger.Info("Table has no rows, no diagrams generated", zap.String("table", table))
		return []*models.Diagram{}, nil
	}

	plans := planCharts(profile, schema, table)
	s.logger.Info("Planned automatic diagrams",
		zap.String("table", table),
		zap.String("domain", profile.Domain),
		zap.Int("metrics", len(profile.Metrics)),
		zap.Int("dimensions", len(profile.Dimensions)),
		zap.Int("plans", len(plans)))

	position, err := s.repo.NextPosition(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}

	created := []*models.Diagram{}
	var errs error
	for _, plan := range plans {
		res, err := session.ExecuteReadOnly(ctx, plan.SQL, 0)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", plan.Title, err))
			continue
		}
		data := shapeChart(res, plan.ChartType)
		if data.IsEmpty() {
			continue
		}
		if plan.ChartType == models.ChartBar || plan.ChartType == models.ChartLine {
			data = data.Truncate(maxAutoPoints)
		}

		d := &models.Diagram{
			DataSourceID: dataSourceID,
			Title:        plan.Title,
			Description:  describeChart(data, plan.Analysis, profile.TotalRows),
			ChartType:    plan.ChartType,
			Source:       models.DiagramSourceAuto,
			SQLQuery:     plan.SQL,
			ChartData:    data,
			ChartConfig:  map[string]any{},
			IsActive:     true,
			Position:     position,
		}
		if err := s.repo.Create(ctx, d); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", plan.Title, err))
			continue
		}
		position++
		created = append(created, d)
	}

	if errs != nil {
		if len(created) == 0 {
			return nil, errs
		}
		s.logger.Warn("Some automatic diagrams failed",
			zap.Int("created", len(created)),
			zap.Errors("errors", multierr.Errors(errs)))
	}
	return created, nil
}

// profile gathers the statistics the planner needs.
func (s *diagramService) profile(ctx context.Context, session datasource.Session, schema, table string) (*columnProfile, error) {
	counts, err := session.RowCounts(ctx, schema, []string{table})
	if err != nil {
		return nil, err
	}
	total := counts[table]
	if total == 0 {
		return &columnProfile{}, nil
	}

	cols, err := session.TableColumns(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	stats, err := session.ColumnStats(ctx, schema, table, cols)
	if err != nil {
		return nil, err
	}

	samples := map[string][]string{}
	for _, st := range stats {
		if st.DistinctCount < 2 || st.DistinctCount > maxDimensionValues {
			continue
		}
		c := sql.QuoteIdent(st.ColumnName)
		q := fmt.Sprintf("SELECT DISTINCT %[1]s FROM %[2]s WHERE %[1]s IS NOT NULL", c, sql.QuoteQualified(schema, table))
		res, err := session.ExecuteReadOnly(ctx, q, dimensionSampleSize)
		if err != nil {
			s.logger.Debug("Failed to sample column", zap.String("column", st.ColumnName), zap.Error(err))
			continue
		}
		for _, row := range res.Rows {
			samples[st.ColumnName] = append(samples[st.ColumnName], formatLabel(row[0]))
		}
	}

	return analyzeColumns(total, cols, stats, samples), nil
}

func (s *diagramService) SaveChat(ctx context.Context, dataSourceID uuid.UUID, outcome *ChatOutcome) (*models.Diagram, error) {
	if outcome == nil || outcome.Kind != OutcomeChart {
		return nil, fmt.Errorf("%w: only chart outcomes can be saved", apperrors.ErrInvalidInput)
	}
	if _, err := sql.EnsureReadOnly(outcome.SQL); err != nil {
		return nil, err
	}

	position, err := s.repo.NextPosition(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(outcome.Title)
	if title == "" {
		title = "Consulta"
	}
	d := &models.Diagram{
		DataSourceID: dataSourceID,
		Title:        title,
		Description:  outcome.Text,
		ChartType:    models.NormalizeChartType(string(outcome.ChartType)),
		Source:       models.DiagramSourceChat,
		SQLQuery:     outcome.SQL,
		ChartData:    outcome.Chart,
		ChartConfig:  map[string]any{},
		IsActive:     true,
		Position:     position,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *diagramService) Refresh(ctx context.Context, id uuid.UUID) (*models.Diagram, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	query, err := sql.EnsureReadOnly(d.SQLQuery)
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolver.Resolve(ctx, d.DataSourceID, nil)
	if err != nil {
		return nil, err
	}
	session, err := s.connector.Open(ctx, resolved.Descriptor)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	res, err := session.ExecuteReadOnly(ctx, query, 0)
	if err != nil {
		return nil, err
	}
	data := shapeChart(res, d.ChartType)
	if d.Source == models.DiagramSourceAuto && (d.ChartType == models.ChartBar || d.ChartType == models.ChartLine) {
		data = data.Truncate(maxAutoPoints)
	}

	if err := s.repo.UpdateChartData(ctx, id, data); err != nil {
		return nil, err
	}
	d.ChartData = data

	s.logger.Info("Refreshed diagram",
		zap.String("id", id.String()),
		zap.String("sql", logging.TruncateQuery(query, 120)),
		zap.Int("points", len(data.Labels)))
	return d, nil
}

func (s *diagramService) Duplicate(ctx context.Context, id uuid.UUID, title string) (*models.Diagram, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c := d.Copy(strings.TrimSpace(title))
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *diagramService) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.repo.SetActive(ctx, id, active)
}

func (s *diagramService) List(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Diagram, error) {
	return s.repo.ListByDataSource(ctx, dataSourceID)
}

func (s *diagramService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

var _ DiagramService = (*diagramService)(nil)
