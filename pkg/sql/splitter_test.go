package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		opts     LexOptions
		expected []string
	}{
		{
			name:     "semicolon inside string literal",
			input:    "CREATE TABLE a (x text);\nINSERT INTO a VALUES ('x;y');\n",
			expected: []string{"CREATE TABLE a (x text)", "INSERT INTO a VALUES ('x;y')"},
		},
		{
			name:     "mysql backslash escape",
			input:    `INSERT INTO a VALUES ('it\'s; ok');SET x=1;`,
			opts:     LexOptions{MySQL: true},
			expected: []string{`INSERT INTO a VALUES ('it\'s; ok')`, "SET x=1"},
		},
		{
			name:     "dollar quoted body",
			input:    "CREATE FUNCTION f() RETURNS void AS $$ BEGIN; END $$ LANGUAGE plpgsql; SELECT 1",
			expected: []string{"CREATE FUNCTION f() RETURNS void AS $$ BEGIN; END $$ LANGUAGE plpgsql", "SELECT 1"},
		},
		{
			name:     "block comment with semicolon",
			input:    "/* a; b */ SELECT 1; SELECT 2",
			expected: []string{"/* a; b */ SELECT 1", "SELECT 2"},
		},
		{
			name:     "hash comment in mysql mode",
			input:    "# note; here\nSELECT 1",
			opts:     LexOptions{MySQL: true},
			expected: []string{"# note; here\nSELECT 1"},
		},
		{
			name:     "comment only statements dropped",
			input:    ";; -- nothing here;\n ;",
			expected: nil,
		},
		{
			name:     "quoted identifier with semicolon",
			input:    `SELECT * FROM "a;b"; SELECT 2`,
			expected: []string{`SELECT * FROM "a;b"`, "SELECT 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitStatements(tt.input, tt.opts))
		})
	}
}

func TestStripComments(t *testing.T) {
	assert.Equal(t, "SELECT 1", StripComments("SELECT 1 -- trailing\n", LexOptions{}))
	assert.Equal(t, "SELECT 1", StripComments("SELECT/*c*/1", LexOptions{}))
	assert.Equal(t, "SELECT '-- not a comment'", StripComments("SELECT '-- not a comment'", LexOptions{}))
	assert.Equal(t, "SET x = 1", StripComments("/*!40101 SET x = 1 */ SET x = 1", LexOptions{MySQL: true}))
}

func TestMask_PreservesOffsets(t *testing.T) {
	input := "INSERT INTO t VALUES ('GRANT ALL') -- REVOKE"
	masked := Mask(input, LexOptions{})

	require.Len(t, masked, len(input))
	assert.NotContains(t, masked, "GRANT")
	assert.NotContains(t, masked, "REVOKE")
	assert.Contains(t, masked, "INSERT INTO t VALUES")
}

func TestLex_UnterminatedLiteralRunsToEnd(t *testing.T) {
	tokens := Lex("SELECT 'open", LexOptions{})

	require.NotEmpty(t, tokens)
	last := tokens[len(tokens)-1]
	assert.Equal(t, TokenString, last.Kind)
	assert.Equal(t, "'open", last.Text)
}

func TestLex_EscapeStringAndParameters(t *testing.T) {
	tokens := Lex(`SELECT E'a\'b', $1`, LexOptions{})

	var kinds []TokenKind
	for _, tok := range tokens {
		if !tok.IsTrivia() {
			kinds = append(kinds, tok.Kind)
		}
	}
	assert.Equal(t, []TokenKind{TokenWord, TokenString, TokenPunct, TokenPunct, TokenNumber}, kinds)
}
