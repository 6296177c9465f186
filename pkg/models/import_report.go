package models

// TableReport describes one table after an import.
type TableReport struct {
	Columns []string `json:"columns"`
	Rows    int64    `json:"rows"`
}

// ImportReport is returned by every import call; it is never persisted.
type ImportReport struct {
	Tables    []string               `json:"tables"`
	PerTable  map[string]TableReport `json:"per_table"`
	MainTable string                 `json:"main_table"`

	StatementsExecuted int `json:"statements_executed"`
	StatementsDropped  int `json:"statements_dropped"`
	// Degraded counts statements the grammar path could not handle.
	Degraded int `json:"degraded"`
	// DroppedOptions names column options lost in conversion, as
	// "table.column OPTION".
	DroppedOptions []string `json:"dropped_options,omitempty"`
}

// PickMainTable returns the first table with rows, else the first table.
func PickMainTable(tables []string, perTable map[string]TableReport) string {
	for _, t := range tables {
		if perTable[t].Rows > 0 {
			return t
		}
	}
	if len(tables) > 0 {
		return tables[0]
	}
	return ""
}
