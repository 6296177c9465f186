package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CleaningSystemMessage frames every cleaning plan call.
const CleaningSystemMessage = "Eres un asistente de limpieza de datos para PostgreSQL. Respondes únicamente con un objeto JSON."

// CleaningContext is everything the cleaning prompt embeds.
type CleaningContext struct {
	Table string
	// Columns are "name (data type)" pairs in ordinal order.
	Columns      []ColumnType
	Sample       []map[string]any
	Instructions string
}

// ColumnType is a column name with its catalog type.
type ColumnType struct {
	Name string
	Type string
}

// BuildCleaningPrompt creates the prompt that turns a cleaning request into
// an operation plan restricted to the supported operations.
func BuildCleaningPrompt(c CleaningContext) string {
	var prompt strings.Builder

	fmt.Fprintf(&prompt, "TABLA: %q\n\nCOLUMNAS:\n", c.Table)
	for _, col := range c.Columns {
		fmt.Fprintf(&prompt, "- %q (%s)\n", col.Name, col.Type)
	}

	prompt.WriteString("\nMUESTRA DE FILAS (JSON):\n")
	sample, err := json.Marshal(c.Sample)
	if err != nil || len(c.Sample) == 0 {
		sample = []byte("[]")
	}
	prompt.Write(sample)

	prompt.WriteString("\n\nINSTRUCCIÓN DEL USUARIO:\n")
	fmt.Fprintf(&prompt, "\"\"\"%s\"\"\"\n\n", c.Instructions)

	prompt.WriteString(`OPERACIONES PERMITIDAS (campo "op"):
- {"op": "rename", "mapping": {"columna_actual": "nuevo_nombre"}}
- {"op": "cast", "types": {"columna": "INTEGER|BIGINT|NUMERIC|DOUBLE PRECISION|TEXT|BOOLEAN|DATE|TIMESTAMP"}}
- {"op": "fill_nulls", "cols": ["columna"], "value": "valor"}
- {"op": "drop_nulls", "cols": ["columna"]}
- {"op": "add_calculated", "new_col": "nombre", "expr": "expresión SQL", "type": "DOUBLE PRECISION", "unit": "seconds|minutes|hours"}
- {"op": "trim", "cols": ["columna"]}
- {"op": "lower", "cols": ["columna"]}
- {"op": "upper", "cols": ["columna"]}
- {"op": "regex_replace", "col": "columna", "pattern": "regex", "repl": "reemplazo"}

REGLAS:
- Usa solo columnas que existan en la tabla.
- "expr" es una única expresión escalar sobre columnas de la misma fila: sin ";", sin comentarios, sin subconsultas.
- Para duraciones entre fechas u horas con tipo numérico usa EXTRACT(EPOCH FROM (fin - inicio)):
  segundos tal cual, minutos dividido entre 60.0, horas dividido entre 3600.0.
- Si el resultado debe ser un intervalo, declara "type": "INTERVAL".
- No inventes operaciones fuera de la lista.

Responde SOLO en JSON válido:
{"intent": "resumen breve de la limpieza", "operations": [ ... ]}
`)

	return prompt.String()
}
