package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
)

// qualifiedTableName returns a properly quoted table reference.
// If schemaName is empty, returns just the quoted table name.
func qualifiedTableName(schemaName, tableName string) string {
	if schemaName == "" {
		return pgx.Identifier{tableName}.Sanitize()
	}
	return pgx.Identifier{schemaName, tableName}.Sanitize()
}

// primaryKeyColumns uses pg_index.indisprimary, which also catches primary
// keys created as unique indexes by ORMs.
const primaryKeyColumns = `
	SELECT t.relname AS table_name, a.attname AS column_name
	FROM pg_index ix
	JOIN pg_class t ON t.oid = ix.indrelid
	JOIN pg_namespace n ON n.oid = t.relnamespace
	JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
	WHERE ix.indisprimary = true
	  AND n.nspname = $1`

// DescribeSchema returns every base table of schema with its columns.
func (s *Session) DescribeSchema(ctx context.Context, schema string, withRowCounts bool) (*datasource.SchemaDescription, error) {
	query := `
		SELECT
			t.table_name,
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES' AS is_nullable,
			pk.column_name IS NOT NULL AS is_primary_key,
			c.ordinal_position,
			c.column_default
		FROM information_schema.tables t
		JOIN information_schema.columns c
			ON c.table_schema = t.table_schema AND c.table_name = t.table_name
		LEFT JOIN (` + primaryKeyColumns + `) pk
			ON pk.table_name = c.table_name AND pk.column_name = c.column_name
		WHERE t.table_schema = $1
		  AND t.table_type = 'BASE TABLE'
		ORDER BY t.table_name, c.ordinal_position
	`

	rows, err := s.pool.Query(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	desc := &datasource.SchemaDescription{Schema: schema}
	for rows.Next() {
		var (
			table string
			c     datasource.ColumnMetadata
		)
		if err := rows.Scan(&table, &c.ColumnName, &c.DataType, &c.IsNullable, &c.IsPrimaryKey, &c.OrdinalPosition, &c.DefaultValue); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if n := len(desc.Tables); n == 0 || desc.Tables[n-1].Name != table {
			desc.Tables = append(desc.Tables, datasource.TableDescription{Name: table})
		}
		last := &desc.Tables[len(desc.Tables)-1]
		last.Columns = append(last.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	if withRowCounts && len(desc.Tables) > 0 {
		counts, err := s.RowCounts(ctx, schema, desc.TableNames())
		if err != nil {
			return nil, err
		}
		for i := range desc.Tables {
			if n, ok := counts[desc.Tables[i].Name]; ok {
				desc.Tables[i].RowCount = &n
			}
		}
	}

	return desc, nil
}

// TableColumns returns columns for a specific table.
func (s *Session) TableColumns(ctx context.Context, schema, table string) ([]datasource.ColumnMetadata, error) {
	return tableColumns(ctx, s.pool, schema, table)
}

func tableColumns(ctx context.Context, q querier, schema, table string) ([]datasource.ColumnMetadata, error) {
	query := `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES' AS is_nullable,
			pk.column_name IS NOT NULL AS is_primary_key,
			c.ordinal_position,
			c.column_default
		FROM information_schema.columns c
		LEFT JOIN (` + primaryKeyColumns + `) pk
			ON pk.table_name = c.table_name AND pk.column_name = c.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`

	rows, err := q.Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var c datasource.ColumnMetadata
		if err := rows.Scan(&c.ColumnName, &c.DataType, &c.IsNullable, &c.IsPrimaryKey, &c.OrdinalPosition, &c.DefaultValue); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

// ForeignKeys returns the foreign-key edges declared on tables of schema.
func (s *Session) ForeignKeys(ctx context.Context, schema string) ([]datasource.ForeignKeyMetadata, error) {
	const query = `
		SELECT
			tc.constraint_name,
			kcu.table_schema AS source_schema,
			kcu.table_name AS source_table,
			kcu.column_name AS source_column,
			ccu.table_schema AS target_schema,
			ccu.table_name AS target_table,
			ccu.column_name AS target_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1
		ORDER BY kcu.table_name, kcu.column_name
	`

	rows, err := s.pool.Query(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []datasource.ForeignKeyMetadata
	for rows.Next() {
		var fk datasource.ForeignKeyMetadata
		if err := rows.Scan(&fk.ConstraintName, &fk.SourceSchema, &fk.SourceTable, &fk.SourceColumn,
			&fk.TargetSchema, &fk.TargetTable, &fk.TargetColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return fks, nil
}

// RowCounts runs an exact COUNT(*) per table. Tables that vanished since
// they were listed are skipped.
func (s *Session) RowCounts(ctx context.Context, schema string, tables []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var n int64
		query := "SELECT COUNT(*) FROM " + qualifiedTableName(schema, table)
		if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (pgErr.Code == "42P01" || pgErr.Code == "3F000") {
				continue
			}
			return nil, apperrors.Execution(query, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// ColumnStats gathers statistics per column. Continues with the remaining
// columns when one fails; the failed column is reported with zero stats.
func (s *Session) ColumnStats(ctx context.Context, schema, table string, columns []datasource.ColumnMetadata) ([]datasource.ColumnStats, error) {
	if len(columns) == 0 {
		return nil, nil
	}
	tableRef := qualifiedTableName(schema, table)

	stats := make([]datasource.ColumnStats, 0, len(columns))
	for _, col := range columns {
		st := datasource.ColumnStats{ColumnName: col.ColumnName, DataType: col.DataType}
		quoted := pgx.Identifier{col.ColumnName}.Sanitize()

		var err error
		switch {
		case col.IsNumeric():
			query := fmt.Sprintf(`
				SELECT COUNT(*), COUNT(%[1]s), COUNT(DISTINCT %[1]s),
					MIN(%[1]s)::float8, MAX(%[1]s)::float8, AVG(%[1]s)::float8, STDDEV_SAMP(%[1]s)::float8
				FROM %[2]s`, quoted, tableRef)
			err = s.pool.QueryRow(ctx, query).Scan(&st.RowCount, &st.NonNullCount, &st.DistinctCount,
				&st.Min, &st.Max, &st.Mean, &st.StdDev)
		case col.IsText():
			query := fmt.Sprintf(`
				SELECT COUNT(*), COUNT(%[1]s), COUNT(DISTINCT %[1]s),
					MIN(LENGTH(%[1]s))::bigint, MAX(LENGTH(%[1]s))::bigint
				FROM %[2]s`, quoted, tableRef)
			err = s.pool.QueryRow(ctx, query).Scan(&st.RowCount, &st.NonNullCount, &st.DistinctCount,
				&st.MinLength, &st.MaxLength)
		default:
			query := fmt.Sprintf(`SELECT COUNT(*), COUNT(%[1]s), COUNT(DISTINCT %[1]s) FROM %[2]s`, quoted, tableRef)
			err = s.pool.QueryRow(ctx, query).Scan(&st.RowCount, &st.NonNullCount, &st.DistinctCount)
		}
		if err != nil {
			s.logger.Warn("Failed to analyze column stats, using zero values",
				zap.String("schema", schema),
				zap.String("table", table),
				zap.String("column", col.ColumnName),
				zap.Error(err))
			st = datasource.ColumnStats{ColumnName: col.ColumnName, DataType: col.DataType}
		}
		stats = append(stats, st)
	}
	return stats, nil
}
