package datasource

import (
	"fmt"
	"strings"
)

// ColumnMetadata represents a discovered database column.
type ColumnMetadata struct {
	ColumnName      string  `json:"name"`
	DataType        string  `json:"data_type"`
	IsNullable      bool    `json:"is_nullable"`
	IsPrimaryKey    bool    `json:"is_primary_key"`
	OrdinalPosition int     `json:"ordinal_position"`
	DefaultValue    *string `json:"default_value,omitempty"`
}

// IsNumeric reports whether the column holds numbers.
func (c ColumnMetadata) IsNumeric() bool {
	switch strings.ToLower(c.DataType) {
	case "smallint", "integer", "bigint", "numeric", "decimal", "real", "double precision", "money":
		return true
	}
	return false
}

// IsTemporal reports whether the column holds dates or timestamps.
func (c ColumnMetadata) IsTemporal() bool {
	dt := strings.ToLower(c.DataType)
	return dt == "date" || strings.HasPrefix(dt, "timestamp")
}

// IsText reports whether the column holds character data.
func (c ColumnMetadata) IsText() bool {
	switch strings.ToLower(c.DataType) {
	case "text", "character varying", "character", "varchar", "char", "citext", "name":
		return true
	}
	return false
}

// TableDescription is one table of a schema description.
type TableDescription struct {
	Name    string           `json:"name"`
	Columns []ColumnMetadata `json:"columns"`
	// RowCount is set only when requested.
	RowCount *int64 `json:"row_count,omitempty"`
}

// ColumnNames returns the column names in ordinal order.
func (t TableDescription) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.ColumnName
	}
	return names
}

// Column looks a column up case-insensitively.
func (t TableDescription) Column(name string) (ColumnMetadata, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.ColumnName, name) {
			return c, true
		}
	}
	return ColumnMetadata{}, false
}

// SchemaDescription is the catalog view of one schema.
type SchemaDescription struct {
	Schema string             `json:"schema"`
	Tables []TableDescription `json:"tables"`
}

// Reduced maps table name to column names; it is what gets embedded in
// generation prompts.
func (s *SchemaDescription) Reduced() map[string][]string {
	out := make(map[string][]string, len(s.Tables))
	for _, t := range s.Tables {
		out[t.Name] = t.ColumnNames()
	}
	return out
}

// Table looks a table up case-insensitively.
func (s *SchemaDescription) Table(name string) (TableDescription, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return TableDescription{}, false
}

// TableNames returns the table names in discovery order.
func (s *SchemaDescription) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// ForeignKeyMetadata represents a discovered foreign key constraint.
type ForeignKeyMetadata struct {
	ConstraintName string `json:"constraint_name"`
	SourceSchema   string `json:"source_schema"`
	SourceTable    string `json:"source_table"`
	SourceColumn   string `json:"source_column"`
	TargetSchema   string `json:"target_schema"`
	TargetTable    string `json:"target_table"`
	TargetColumn   string `json:"target_column"`
}

// Edge renders the key as - "t"."c" → "t2"."c2".
func (fk ForeignKeyMetadata) Edge() string {
	return fmt.Sprintf(`- "%s"."%s" → "%s"."%s"`, fk.SourceTable, fk.SourceColumn, fk.TargetTable, fk.TargetColumn)
}

// ColumnStats contains statistics for a column.
type ColumnStats struct {
	ColumnName    string
	DataType      string
	RowCount      int64
	NonNullCount  int64
	DistinctCount int64
	// Numeric columns only.
	Min    *float64
	Max    *float64
	Mean   *float64
	StdDev *float64
	// Text columns only.
	MinLength *int64
	MaxLength *int64
}

// CoefficientOfVariation is stddev/|mean|, or 0 when either is unknown.
func (s ColumnStats) CoefficientOfVariation() float64 {
	if s.Mean == nil || s.StdDev == nil || *s.Mean == 0 {
		return 0
	}
	mean := *s.Mean
	if mean < 0 {
		mean = -mean
	}
	return *s.StdDev / mean
}

// DistinctRatio is distinct/non-null, or 0 for empty columns.
func (s ColumnStats) DistinctRatio() float64 {
	if s.NonNullCount == 0 {
		return 0
	}
	return float64(s.DistinctCount) / float64(s.NonNullCount)
}
