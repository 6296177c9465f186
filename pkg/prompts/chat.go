// Package prompts builds the instruction texts sent to the generation service.
package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ChatSystemMessage frames every query synthesis call.
const ChatSystemMessage = "Eres un asistente BI conectado a PostgreSQL. Respondes únicamente con un objeto JSON."

// NoRelationships replaces the foreign key list when the schema has none.
const NoRelationships = "(No hay relaciones detectadas en la BD)"

// ChatContext is everything the query synthesis prompt embeds.
type ChatContext struct {
	// Schema is the reduced schema: table name to ordered column names.
	Schema map[string][]string
	// ForeignKeys are pre-rendered edges, one per line.
	ForeignKeys []string
	Message     string
}

// BuildChatPrompt creates the prompt for turning a free-text request into SQL
// and a chart type. The model must answer with exactly one of the two JSON
// shapes: {sql, grafico, titulo, respuesta} or {ask}.
func BuildChatPrompt(c ChatContext) string {
	var prompt strings.Builder

	prompt.WriteString("ESQUEMA DE TABLAS (resumido: {tabla: [columnas...]}):\n")
	prompt.WriteString(ReducedSchemaJSON(c.Schema))
	prompt.WriteString("\n\nCLAVES FORÁNEAS (detectadas automáticamente):\n")
	if len(c.ForeignKeys) == 0 {
		prompt.WriteString(NoRelationships)
	} else {
		prompt.WriteString(strings.Join(c.ForeignKeys, "\n"))
	}

	prompt.WriteString("\n\nINSTRUCCIÓN DEL USUARIO:\n")
	fmt.Fprintf(&prompt, "\"\"\"%s\"\"\"\n\n", c.Message)

	prompt.WriteString(`REGLAS PARA GENERAR SQL:
- Solo usa tablas y columnas que existan en el esquema. Si el nombre pedido no existe, elige la más similar.
- Usa JOIN siguiendo las claves foráneas detectadas.
- Usa SUM, COUNT, AVG según corresponda.
- Identificadores SIEMPRE con comillas dobles: "tabla"."col"
- El SQL DEBE comenzar con SELECT (modo solo lectura). Una sola sentencia.
- La primera columna del resultado es la etiqueta y la segunda el valor numérico.
- Si NO tienes suficiente información (falta métrica, dimensión o periodo), NO inventes SQL: devuelve una pregunta en "ask".
- Nunca incluyas "sql" y "ask" en la misma respuesta.

Responde SOLO en JSON válido, con uno de estos formatos:

1) Completo:
{"sql": "SELECT ...", "grafico": "bar|line|pie|doughnut|scatter|radar|area", "titulo": "...", "respuesta": "..."}

2) Falta información:
{"ask": "Pregunta concreta para obtener lo que falta."}
`)

	return prompt.String()
}

// ReducedSchemaJSON renders the reduced schema as compact JSON with tables
// in name order.
func ReducedSchemaJSON(schema map[string][]string) string {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		key, _ := json.Marshal(name)
		cols := schema[name]
		if cols == nil {
			cols = []string{}
		}
		val, _ := json.Marshal(cols)
		b.Write(key)
		b.WriteString(": ")
		b.Write(val)
	}
	b.WriteByte('}')
	return b.String()
}
