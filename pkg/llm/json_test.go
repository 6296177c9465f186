package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain object", `{"sql": "SELECT 1", "grafico": "bar"}`, `{"sql": "SELECT 1", "grafico": "bar"}`},
		{"plain array", `[{"op": "trim"}]`, `[{"op": "trim"}]`},
		{"fenced json", "Aquí tienes:\n```json\n{\"ask\": \"¿Qué tabla?\"}\n```\nSaludos", `{"ask": "¿Qué tabla?"}`},
		{"untagged fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"think tags", "<think>\nI should emit {json}\n</think>\n{\"a\": 2}", `{"a": 2}`},
		{"text around", `La consulta es {"sql": "SELECT \"x\" FROM t"} y listo`, `{"sql": "SELECT \"x\" FROM t"}`},
		{"braces in strings", `{"respuesta": "usa {llaves} y [corchetes]"}`, `{"respuesta": "usa {llaves} y [corchetes]"}`},
		{"skips invalid first candidate", `{not json} then {"ok": true}`, `{"ok": true}`},
		{"invalid fence falls back to body", "```json\n{broken\n```\n{\"b\": 1}", `{"b": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSON_NoJSON(t *testing.T) {
	for _, input := range []string{"", "no hay json aquí", "{unterminated", "```json\n```"} {
		_, err := ExtractJSON(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestParseJSONResponse(t *testing.T) {
	type answer struct {
		SQL   string `json:"sql"`
		Chart string `json:"grafico"`
	}

	got, err := ParseJSONResponse[answer]("```json\n{\"sql\": \"SELECT 1\", \"grafico\": \"line\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, answer{SQL: "SELECT 1", Chart: "line"}, got)

	_, err = ParseJSONResponse[answer](`{"sql": 5}`)
	assert.ErrorContains(t, err, "unmarshal JSON")
}
