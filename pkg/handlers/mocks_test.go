package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
	"github.com/ekaya-inc/ekaya-bi/pkg/services"
)

type mockDataSourceService struct {
	datasources []*models.DataSource
	conn        *models.ExternalConnection
	err         error

	created   []string
	connected []services.ExternalConnectionRequest
	deleted   []uuid.UUID
}

func (m *mockDataSourceService) Resolve(ctx context.Context, id uuid.UUID, override *datasource.ConnectionDescriptor) (*services.ResolvedDataSource, error) {
	return nil, m.err
}

func (m *mockDataSourceService) Create(ctx context.Context, name string, kind models.DataSourceKind) (*models.DataSource, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.created = append(m.created, name+":"+string(kind))
	return &models.DataSource{ID: uuid.New(), Name: name, Kind: kind}, nil
}

func (m *mockDataSourceService) Get(ctx context.Context, id uuid.UUID) (*models.DataSource, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, ds := range m.datasources {
		if ds.ID == id {
			return ds, nil
		}
	}
	return nil, errNotFound
}

func (m *mockDataSourceService) List(ctx context.Context) ([]*models.DataSource, error) {
	return m.datasources, m.err
}

func (m *mockDataSourceService) CreateExternalConnection(ctx context.Context, id uuid.UUID, req services.ExternalConnectionRequest) (*models.ExternalConnection, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.connected = append(m.connected, req)
	return m.conn, nil
}

func (m *mockDataSourceService) RecordImport(ctx context.Context, id uuid.UUID, schema, mainTable string) error {
	return m.err
}

func (m *mockDataSourceService) Delete(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

type mockSchemaService struct {
	view          *services.SchemaView
	err           error
	withRowCounts []bool
}

func (m *mockSchemaService) Describe(ctx context.Context, id uuid.UUID, override *datasource.ConnectionDescriptor, withRowCounts bool) (*services.SchemaView, error) {
	m.withRowCounts = append(m.withRowCounts, withRowCounts)
	return m.view, m.err
}

type importCall struct {
	id       uuid.UUID
	filename string
	data     []byte
}

type mockImportService struct {
	report *models.ImportReport
	err    error
	calls  []importCall
}

func (m *mockImportService) ImportSQL(ctx context.Context, desc datasource.ConnectionDescriptor, schema string, raw []byte) (*models.ImportReport, error) {
	return m.report, m.err
}

func (m *mockImportService) ImportTabular(ctx context.Context, desc datasource.ConnectionDescriptor, schema, table, filename string, data []byte) (*models.ImportReport, error) {
	return m.report, m.err
}

func (m *mockImportService) ImportDataSource(ctx context.Context, id uuid.UUID, filename string, data []byte) (*models.ImportReport, error) {
	m.calls = append(m.calls, importCall{id: id, filename: filename, data: data})
	return m.report, m.err
}

type mockChatService struct {
	outcome  *services.ChatOutcome
	err      error
	requests []services.ChatRequest
}

func (m *mockChatService) Ask(ctx context.Context, req services.ChatRequest) (*services.ChatOutcome, error) {
	m.requests = append(m.requests, req)
	return m.outcome, m.err
}

type mockCleaningService struct {
	suggestion *services.CleaningSuggestion
	ack        *services.CleaningAck
	err        error

	requests []services.CleaningRequest
	plans    []*models.CleaningPlan
}

func (m *mockCleaningService) Suggest(ctx context.Context, req services.CleaningRequest) (*services.CleaningSuggestion, error) {
	m.requests = append(m.requests, req)
	return m.suggestion, m.err
}

func (m *mockCleaningService) Apply(ctx context.Context, req services.CleaningRequest) (*services.CleaningAck, error) {
	m.requests = append(m.requests, req)
	return m.ack, m.err
}

func (m *mockCleaningService) ApplyPlan(ctx context.Context, id uuid.UUID, table string, plan *models.CleaningPlan) (*services.CleaningAck, error) {
	m.plans = append(m.plans, plan)
	return m.ack, m.err
}

type mockDiagramService struct {
	diagrams []*models.Diagram
	err      error

	saved      []*services.ChatOutcome
	generated  int
	refreshed  []uuid.UUID
	duplicated []string
	active     map[uuid.UUID]bool
	deleted    []uuid.UUID
}

func (m *mockDiagramService) first() *models.Diagram {
	if len(m.diagrams) == 0 {
		return &models.Diagram{ID: uuid.New()}
	}
	return m.diagrams[0]
}

func (m *mockDiagramService) GenerateAutomatic(ctx context.Context, id uuid.UUID) ([]*models.Diagram, error) {
	m.generated++
	return m.diagrams, m.err
}

func (m *mockDiagramService) SaveChat(ctx context.Context, id uuid.UUID, outcome *services.ChatOutcome) (*models.Diagram, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.saved = append(m.saved, outcome)
	return &models.Diagram{ID: uuid.New(), DataSourceID: id, Title: outcome.Title, Source: models.DiagramSourceChat}, nil
}

func (m *mockDiagramService) Refresh(ctx context.Context, id uuid.UUID) (*models.Diagram, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.refreshed = append(m.refreshed, id)
	return m.first(), nil
}

func (m *mockDiagramService) Duplicate(ctx context.Context, id uuid.UUID, title string) (*models.Diagram, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.duplicated = append(m.duplicated, title)
	return m.first(), nil
}

func (m *mockDiagramService) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if m.err != nil {
		return m.err
	}
	if m.active == nil {
		m.active = map[uuid.UUID]bool{}
	}
	m.active[id] = active
	return nil
}

func (m *mockDiagramService) List(ctx context.Context, id uuid.UUID) ([]*models.Diagram, error) {
	return m.diagrams, m.err
}

func (m *mockDiagramService) Delete(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

var (
	_ services.DataSourceService = (*mockDataSourceService)(nil)
	_ services.SchemaService     = (*mockSchemaService)(nil)
	_ services.ImportService     = (*mockImportService)(nil)
	_ services.ChatService       = (*mockChatService)(nil)
	_ services.CleaningService   = (*mockCleaningService)(nil)
	_ services.DiagramService    = (*mockDiagramService)(nil)
)
