package datasource

import "context"

// MaxQueryLimit is the hard cap on rows returned by read-only queries.
const MaxQueryLimit = 1000

// Connector opens sessions against the database a descriptor points to.
type Connector interface {
	Open(ctx context.Context, desc ConnectionDescriptor) (Session, error)
}

// Session is one caller's handle on a database. Every metadata call
// re-queries the catalog; nothing is cached between calls.
type Session interface {
	// Ping verifies the database is reachable with valid credentials and that
	// the connection landed on the expected database.
	Ping(ctx context.Context) error

	// ExecuteReadOnly runs a SELECT inside its own read-only transaction,
	// wrapped as SELECT * FROM (query) AS _limited LIMIT n.
	//   - limit <= 0: uses MaxQueryLimit
	//   - limit > MaxQueryLimit: capped to MaxQueryLimit
	ExecuteReadOnly(ctx context.Context, query string, limit int) (*QueryResult, error)

	// DescribeSchema returns the tables of schema ordered by name with their
	// columns by ordinal position. Row counts are only computed when asked.
	DescribeSchema(ctx context.Context, schema string, withRowCounts bool) (*SchemaDescription, error)

	// ForeignKeys returns the foreign-key edges whose source table lives in schema.
	ForeignKeys(ctx context.Context, schema string) ([]ForeignKeyMetadata, error)

	// RowCounts runs an exact COUNT(*) per table. Missing tables are skipped.
	RowCounts(ctx context.Context, schema string, tables []string) (map[string]int64, error)

	// TableColumns returns the columns of one table, empty if it does not exist.
	TableColumns(ctx context.Context, schema, table string) ([]ColumnMetadata, error)

	// SampleRows returns up to n rows of a table.
	SampleRows(ctx context.Context, schema, table string, n int) (*QueryResult, error)

	// ColumnStats gathers per-column statistics used to plan automatic charts.
	ColumnStats(ctx context.Context, schema, table string, columns []ColumnMetadata) ([]ColumnStats, error)

	// WithTx runs fn in one transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Close releases the session (but not a pool shared through the manager).
	Close() error
}

// Tx is the write side of a session, valid only inside WithTx.
type Tx interface {
	// Exec runs one statement and returns the affected row count.
	Exec(ctx context.Context, stmt string, args ...any) (int64, error)

	// TryExec runs stmt under a savepoint; a failure is rolled back to the
	// savepoint and returned without aborting the enclosing transaction.
	TryExec(ctx context.Context, stmt string) error

	// Query runs a statement returning rows.
	Query(ctx context.Context, query string, args ...any) (*QueryResult, error)

	// TableColumns reads the columns of a table as seen by this transaction.
	TableColumns(ctx context.Context, schema, table string) ([]ColumnMetadata, error)

	// CopyFrom bulk-loads rows into schema.table using the COPY protocol.
	CopyFrom(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error)
}

// ColumnInfo describes a result column with database-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // Database type name (e.g., "TEXT", "INT4", "VARCHAR")
}

// QueryResult holds the rows of a query in column order.
type QueryResult struct {
	Columns  []ColumnInfo `json:"columns"`
	Rows     [][]any      `json:"rows"`
	RowCount int          `json:"row_count"`
}

// ColumnNames returns the result column names in order.
func (r *QueryResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// RowMaps returns the rows keyed by column name.
func (r *QueryResult) RowMaps() []map[string]any {
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for i, c := range r.Columns {
			if i < len(row) {
				m[c.Name] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

// Usable reports whether the result can back a chart: at least two columns
// and one row.
func (r *QueryResult) Usable() bool {
	return r != nil && len(r.Columns) >= 2 && len(r.Rows) > 0
}
