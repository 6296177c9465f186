package services

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
)

// stubConnector hands out a single stub session and counts Open calls.
type stubConnector struct {
	session *stubSession
	openErr error

	mu    sync.Mutex
	opens int
	descs []datasource.ConnectionDescriptor
}

func newStubConnector(session *stubSession) *stubConnector {
	return &stubConnector{session: session}
}

func (c *stubConnector) Open(ctx context.Context, desc datasource.ConnectionDescriptor) (datasource.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	c.descs = append(c.descs, desc)
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.session, nil
}

// stubSession serves canned catalog data and records executed queries.
type stubSession struct {
	schema *datasource.SchemaDescription
	fks    []datasource.ForeignKeyMetadata
	counts map[string]int64
	stats  []datasource.ColumnStats
	sample *datasource.QueryResult
	tx     *stubTx

	// executeFunc answers ExecuteReadOnly; nil returns an empty result.
	executeFunc func(query string, limit int) (*datasource.QueryResult, error)

	executed []string
	txCalls  int
	closed   int
}

func newStubSession(schema *datasource.SchemaDescription) *stubSession {
	return &stubSession{schema: schema, counts: map[string]int64{}, tx: newStubTx()}
}

func (s *stubSession) Ping(ctx context.Context) error { return nil }

func (s *stubSession) ExecuteReadOnly(ctx context.Context, query string, limit int) (*datasource.QueryResult, error) {
	s.executed = append(s.executed, query)
	if s.executeFunc != nil {
		return s.executeFunc(query, limit)
	}
	return &datasource.QueryResult{}, nil
}

func (s *stubSession) DescribeSchema(ctx context.Context, schema string, withRowCounts bool) (*datasource.SchemaDescription, error) {
	if s.schema == nil {
		return &datasource.SchemaDescription{Schema: schema}, nil
	}
	return s.schema, nil
}

func (s *stubSession) ForeignKeys(ctx context.Context, schema string) ([]datasource.ForeignKeyMetadata, error) {
	return s.fks, nil
}

func (s *stubSession) RowCounts(ctx context.Context, schema string, tables []string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, t := range tables {
		if n, ok := s.counts[t]; ok {
			out[t] = n
		}
	}
	return out, nil
}

func (s *stubSession) TableColumns(ctx context.Context, schema, table string) ([]datasource.ColumnMetadata, error) {
	if s.schema == nil {
		return nil, nil
	}
	t, ok := s.schema.Table(table)
	if !ok {
		return nil, nil
	}
	return t.Columns, nil
}

func (s *stubSession) SampleRows(ctx context.Context, schema, table string, n int) (*datasource.QueryResult, error) {
	if s.sample == nil {
		return &datasource.QueryResult{}, nil
	}
	return s.sample, nil
}

func (s *stubSession) ColumnStats(ctx context.Context, schema, table string, columns []datasource.ColumnMetadata) ([]datasource.ColumnStats, error) {
	return s.stats, nil
}

func (s *stubSession) WithTx(ctx context.Context, fn func(ctx context.Context, tx datasource.Tx) error) error {
	s.txCalls++
	if err := fn(ctx, s.tx); err != nil {
		s.tx.rolledBack = true
		return err
	}
	s.tx.committed = true
	return nil
}

func (s *stubSession) Close() error {
	s.closed++
	return nil
}

type copyCall struct {
	schema, table string
	columns       []string
	rows          [][]any
}

// stubTx records statements. execFunc may fail a statement; queryFunc
// answers Query.
type stubTx struct {
	execFunc  func(stmt string) error
	queryFunc func(query string, args []any) (*datasource.QueryResult, error)
	// columns is the live catalog seen by TableColumns, keyed by table.
	columns map[string][]datasource.ColumnMetadata

	statements []string
	args       [][]any
	tried      []string
	copies     []copyCall

	committed  bool
	rolledBack bool
}

func newStubTx() *stubTx {
	return &stubTx{columns: map[string][]datasource.ColumnMetadata{}}
}

func (t *stubTx) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	t.statements = append(t.statements, stmt)
	t.args = append(t.args, args)
	if t.execFunc != nil {
		if err := t.execFunc(stmt); err != nil {
			return 0, apperrors.Execution(stmt, err)
		}
	}
	return 1, nil
}

func (t *stubTx) TryExec(ctx context.Context, stmt string) error {
	t.tried = append(t.tried, stmt)
	if t.execFunc != nil {
		if err := t.execFunc(stmt); err != nil {
			return apperrors.Execution(stmt, err)
		}
	}
	return nil
}

func (t *stubTx) Query(ctx context.Context, query string, args ...any) (*datasource.QueryResult, error) {
	if t.queryFunc != nil {
		return t.queryFunc(query, args)
	}
	return &datasource.QueryResult{}, nil
}

func (t *stubTx) TableColumns(ctx context.Context, schema, table string) ([]datasource.ColumnMetadata, error) {
	return t.columns[table], nil
}

func (t *stubTx) CopyFrom(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error) {
	t.copies = append(t.copies, copyCall{schema: schema, table: table, columns: columns, rows: rows})
	return int64(len(rows)), nil
}

// executedMatching returns the recorded statements containing substr.
func (t *stubTx) executedMatching(substr string) []string {
	var out []string
	for _, s := range t.statements {
		if strings.Contains(s, substr) {
			out = append(out, s)
		}
	}
	return out
}

// stubResolver resolves every datasource to the same target.
type stubResolver struct {
	ds   *models.DataSource
	desc datasource.ConnectionDescriptor
	err  error

	resolved []uuid.UUID
	recorded []string
}

func newStubResolver(schema, table string) *stubResolver {
	return &stubResolver{
		ds: &models.DataSource{
			ID:             uuid.New(),
			Name:           "demo",
			Kind:           models.DataSourceFile,
			InternalSchema: schema,
			InternalTable:  table,
		},
		desc: datasource.ConnectionDescriptor{Host: "warehouse", Port: 5432, Database: "wh", User: "u", Schema: schema},
	}
}

func (r *stubResolver) Resolve(ctx context.Context, id uuid.UUID, override *datasource.ConnectionDescriptor) (*ResolvedDataSource, error) {
	r.resolved = append(r.resolved, id)
	if r.err != nil {
		return nil, r.err
	}
	return &ResolvedDataSource{DataSource: r.ds, Descriptor: r.desc.Merge(override)}, nil
}

// stubDataSources adds the DataSourceService methods the import service uses.
type stubDataSources struct {
	*stubResolver
}

func (s *stubDataSources) Create(ctx context.Context, name string, kind models.DataSourceKind) (*models.DataSource, error) {
	return &models.DataSource{ID: uuid.New(), Name: name, Kind: kind}, nil
}

func (s *stubDataSources) Get(ctx context.Context, id uuid.UUID) (*models.DataSource, error) {
	return s.ds, nil
}

func (s *stubDataSources) List(ctx context.Context) ([]*models.DataSource, error) {
	return []*models.DataSource{s.ds}, nil
}

func (s *stubDataSources) CreateExternalConnection(ctx context.Context, id uuid.UUID, req ExternalConnectionRequest) (*models.ExternalConnection, error) {
	return nil, apperrors.ErrInvalidInput
}

func (s *stubDataSources) RecordImport(ctx context.Context, id uuid.UUID, schema, mainTable string) error {
	s.recorded = append(s.recorded, schema+"."+mainTable)
	return nil
}

func (s *stubDataSources) Delete(ctx context.Context, id uuid.UUID) error { return nil }

// memDiagramRepo keeps diagrams in memory.
type memDiagramRepo struct {
	diagrams map[uuid.UUID]*models.Diagram
	order    []uuid.UUID
	createErr error
}

func newMemDiagramRepo() *memDiagramRepo {
	return &memDiagramRepo{diagrams: map[uuid.UUID]*models.Diagram{}}
}

func (r *memDiagramRepo) Create(ctx context.Context, d *models.Diagram) error {
	if r.createErr != nil {
		return r.createErr
	}
	d.ID = uuid.New()
	r.diagrams[d.ID] = d
	r.order = append(r.order, d.ID)
	return nil
}

func (r *memDiagramRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Diagram, error) {
	d, ok := r.diagrams[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return d, nil
}

func (r *memDiagramRepo) ListByDataSource(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Diagram, error) {
	var out []*models.Diagram
	for _, id := range r.order {
		if d := r.diagrams[id]; d != nil && d.DataSourceID == dataSourceID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memDiagramRepo) NextPosition(ctx context.Context, dataSourceID uuid.UUID) (int, error) {
	next := 0
	for _, d := range r.diagrams {
		if d.DataSourceID == dataSourceID && d.Position >= next {
			next = d.Position + 1
		}
	}
	return next, nil
}

func (r *memDiagramRepo) UpdateChartData(ctx context.Context, id uuid.UUID, data models.ChartPayload) error {
	d, ok := r.diagrams[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	d.ChartData = data
	return nil
}

func (r *memDiagramRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	d, ok := r.diagrams[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	d.IsActive = active
	return nil
}

func (r *memDiagramRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := r.diagrams[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.diagrams, id)
	return nil
}

// result builds a query result from column names and rows.
func result(cols []string, rows ...[]any) *datasource.QueryResult {
	res := &datasource.QueryResult{Rows: rows, RowCount: len(rows)}
	for _, c := range cols {
		res.Columns = append(res.Columns, datasource.ColumnInfo{Name: c})
	}
	return res
}

func textCol(name string, pos int) datasource.ColumnMetadata {
	return datasource.ColumnMetadata{ColumnName: name, DataType: "text", IsNullable: true, OrdinalPosition: pos}
}

func numCol(name, typ string, pos int) datasource.ColumnMetadata {
	return datasource.ColumnMetadata{ColumnName: name, DataType: typ, IsNullable: true, OrdinalPosition: pos}
}
