package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > datasource.MaxQueryLimit {
		return datasource.MaxQueryLimit
	}
	return limit
}

// ExecuteReadOnly runs query in its own read-only transaction so a failing
// candidate cannot affect the next one.
func (s *Session) ExecuteReadOnly(ctx context.Context, query string, limit int) (*datasource.QueryResult, error) {
	query = strings.TrimRight(strings.TrimSpace(query), ";")
	wrapped := fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", query, clampLimit(limit))

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, apperrors.Connectivity(s.desc.String(), err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only, nothing to keep

	rows, err := tx.Query(ctx, wrapped)
	if err != nil {
		return nil, apperrors.Execution(query, err)
	}
	return collectRows(rows, query)
}

// SampleRows returns up to n rows of schema.table.
func (s *Session) SampleRows(ctx context.Context, schema, table string, n int) (*datasource.QueryResult, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", qualifiedTableName(schema, table), clampLimit(n))
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, apperrors.Execution(query, err)
	}
	return collectRows(rows, query)
}

// collectRows drains rows into a result. pgx reports most execution errors
// only once the rows are consumed.
func collectRows(rows pgx.Rows, query string) (*datasource.QueryResult, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]datasource.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = datasource.ColumnInfo{
			Name: fd.Name,
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, apperrors.Execution(query, fmt.Errorf("failed to read row values: %w", err))
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		resultRows = append(resultRows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Execution(query, err)
	}

	return &datasource.QueryResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// normalizeValue turns pgx driver values into plain JSON-friendly values:
// numerics become exact decimals, uuids strings and intervals seconds.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		if !val.Valid || val.NaN || val.InfinityModifier != pgtype.Finite || val.Int == nil {
			return nil
		}
		return decimal.NewFromBigInt(val.Int, val.Exp)
	case [16]byte:
		return uuid.UUID(val).String()
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		const usPerDay = 86400 * 1e6
		us := float64(val.Microseconds) + float64(val.Days)*usPerDay + float64(val.Months)*30*usPerDay
		return us / 1e6
	default:
		return v
	}
}

// pgTypeNameFromOID maps PostgreSQL type OIDs to human-readable type names.
// This covers the most common types; unknown types return "UNKNOWN".
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 17:
		return "BYTEA"
	case 18:
		return "CHAR"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 26:
		return "OID"
	case 114:
		return "JSON"
	case 142:
		return "XML"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 790:
		return "MONEY"
	case 1042:
		return "BPCHAR"
	case 1043:
		return "VARCHAR"
	case 1082:
		return "DATE"
	case 1083:
		return "TIME"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1186:
		return "INTERVAL"
	case 1266:
		return "TIMETZ"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	case 3802:
		return "JSONB"
	// Array types
	case 1000:
		return "BOOL[]"
	case 1005:
		return "INT2[]"
	case 1007:
		return "INT4[]"
	case 1016:
		return "INT8[]"
	case 1009:
		return "TEXT[]"
	case 1015:
		return "VARCHAR[]"
	case 1021:
		return "FLOAT4[]"
	case 1022:
		return "FLOAT8[]"
	case 2951:
		return "UUID[]"
	case 3807:
		return "JSONB[]"
	default:
		return "UNKNOWN"
	}
}
