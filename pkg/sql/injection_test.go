package sql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckValueForInjection(t *testing.T) {
	assert.Nil(t, CheckValueForInjection("value", "laptop computers"))
	assert.Nil(t, CheckValueForInjection("value", "2024-01-15"))

	result := CheckValueForInjection("value", "'; DROP TABLE users--")
	if assert.NotNil(t, result) {
		assert.True(t, result.IsSQLi)
		assert.NotEmpty(t, result.Fingerprint)
		assert.Equal(t, "value", result.Field)
	}
}

func TestCheckExpression(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"interval subtraction", "hora_fin - hora_inicio", false},
		{"epoch extraction", "EXTRACT(EPOCH FROM (hora_fin - hora_inicio)) / 60.0", false},
		{"arithmetic", `"precio" * "cantidad"`, false},
		{"empty", "   ", true},
		{"statement separator", "1; DROP TABLE x", true},
		{"comment", "a -- b", true},
		{"subquery", "(SELECT max(a) FROM t)", true},
		{"unbalanced", "ROUND((a + b)", true},
		{"query_to_xml", "query_to_xml('select * from ds_other.clientes', true, true, '')::text", true},
		{"qualified server function", `pg_catalog."pg_read_file"('/etc/passwd')`, true},
		{"dblink", "dblink_exec('host=x', 'drop table t')", true},
		{"table shorthand", "(TABLE ds_other.clientes)", true},
		{"function name in literal", "COALESCE(nota, 'query_to_xml(')", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckExpression(tt.expr)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnsafeExpression))
				return
			}
			assert.NoError(t, err)
		})
	}
}
