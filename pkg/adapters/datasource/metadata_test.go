package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestSchemaDescription_Lookups(t *testing.T) {
	desc := &SchemaDescription{
		Schema: "ds_1",
		Tables: []TableDescription{
			{Name: "venta", Columns: []ColumnMetadata{{ColumnName: "categoria", DataType: "text"}, {ColumnName: "monto", DataType: "numeric"}}},
			{Name: "cliente", Columns: []ColumnMetadata{{ColumnName: "id", DataType: "integer"}}},
		},
	}

	assert.Equal(t, map[string][]string{"venta": {"categoria", "monto"}, "cliente": {"id"}}, desc.Reduced())
	assert.Equal(t, []string{"venta", "cliente"}, desc.TableNames())

	tbl, ok := desc.Table("VENTA")
	assert.True(t, ok)
	col, ok := tbl.Column("Monto")
	assert.True(t, ok)
	assert.True(t, col.IsNumeric())

	_, ok = desc.Table("ventas")
	assert.False(t, ok)
}

func TestColumnMetadata_Kinds(t *testing.T) {
	assert.True(t, ColumnMetadata{DataType: "double precision"}.IsNumeric())
	assert.True(t, ColumnMetadata{DataType: "timestamp without time zone"}.IsTemporal())
	assert.True(t, ColumnMetadata{DataType: "character varying"}.IsText())
	assert.False(t, ColumnMetadata{DataType: "boolean"}.IsNumeric())
}

func TestColumnStats_Ratios(t *testing.T) {
	s := ColumnStats{NonNullCount: 10, DistinctCount: 5, Mean: ptr(-4.0), StdDev: ptr(2.0)}
	assert.InDelta(t, 0.5, s.CoefficientOfVariation(), 1e-9)
	assert.InDelta(t, 0.5, s.DistinctRatio(), 1e-9)
	assert.Zero(t, ColumnStats{}.CoefficientOfVariation())
	assert.Zero(t, ColumnStats{}.DistinctRatio())
}

func TestQueryResult_Usable(t *testing.T) {
	var nilResult *QueryResult
	assert.False(t, nilResult.Usable())

	r := &QueryResult{Columns: []ColumnInfo{{Name: "a"}, {Name: "b"}}, Rows: [][]any{{"x", 1}}}
	assert.True(t, r.Usable())
	assert.Equal(t, []map[string]any{{"a": "x", "b": 1}}, r.RowMaps())
	assert.Equal(t, []string{"a", "b"}, r.ColumnNames())

	assert.False(t, (&QueryResult{Columns: []ColumnInfo{{Name: "a"}}, Rows: [][]any{{1}}}).Usable())
	assert.False(t, (&QueryResult{Columns: r.Columns}).Usable())
}

func TestForeignKeyMetadata_Edge(t *testing.T) {
	fk := ForeignKeyMetadata{SourceTable: "venta", SourceColumn: "cliente_id", TargetTable: "cliente", TargetColumn: "id"}
	assert.Equal(t, `- "venta"."cliente_id" → "cliente"."id"`, fk.Edge())
}
