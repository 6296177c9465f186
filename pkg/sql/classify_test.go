package sql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		stmt    string
		kind    StatementKind
		keyword string
	}{
		{"create table", "CREATE TABLE t (id int)", StatementAllowed, "CREATE TABLE"},
		{"create table if not exists", "create table if not exists t (id int)", StatementAllowed, "CREATE TABLE"},
		{"insert", "INSERT INTO t VALUES (1)", StatementAllowed, "INSERT INTO"},
		{"insert with deny word in data", "INSERT INTO t VALUES ('grant me a wish')", StatementAllowed, "INSERT INTO"},
		{"leading comment", "-- dump\nINSERT INTO t VALUES (1)", StatementAllowed, "INSERT INTO"},
		{"set is noise", "SET NAMES utf8mb4", StatementNoise, ""},
		{"lock tables is noise", "LOCK TABLES `t` WRITE", StatementNoise, ""},
		{"use is noise", "USE shop", StatementNoise, ""},
		{"drop table is noise", "DROP TABLE IF EXISTS `t`", StatementNoise, ""},
		{"create index is noise", "CREATE INDEX idx ON t (a)", StatementNoise, ""},
		{"grant", "GRANT ALL ON t TO bob", StatementForbidden, "GRANT"},
		{"truncate after comment", "/* x */ TRUNCATE t", StatementForbidden, "TRUNCATE"},
		{"alter system", "ALTER SYSTEM SET work_mem = '1GB'", StatementForbidden, "ALTER SYSTEM"},
		{"owner to", "ALTER TABLE public.t OWNER TO postgres", StatementForbidden, "OWNER TO"},
		{"comment on", "COMMENT ON TABLE t IS 'x'", StatementForbidden, "COMMENT ON"},
		{"create user", "CREATE USER x WITH PASSWORD 'y'", StatementForbidden, "CREATE USER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.stmt, LexOptions{MySQL: true})
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.keyword, c.Keyword)
		})
	}
}

func TestClassify_StripsComments(t *testing.T) {
	c := Classify("/* header */ CREATE TABLE t (id int) -- trailing", LexOptions{})

	assert.True(t, c.IsCreateTable())
	assert.Equal(t, "CREATE TABLE t (id int)", c.SQL)
}

func TestCheckForbidden(t *testing.T) {
	script := "CREATE TABLE t (id int);\nINSERT INTO t VALUES (1);\nALTER TABLE t OWNER TO postgres;\n"

	err := CheckForbidden(script, LexOptions{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrSecurityViolation))
	var sv *apperrors.SecurityViolation
	require.True(t, errors.As(err, &sv))
	assert.Equal(t, "OWNER TO", sv.Keyword)
	assert.Equal(t, "ALTER TABLE t OWNER TO postgres;", sv.Statement)
}

func TestCheckForbidden_IgnoresLiteralsAndComments(t *testing.T) {
	script := "-- GRANT nothing\nCREATE TABLE `grant` (note text);\nINSERT INTO `grant` VALUES ('please TRUNCATE me');\n"

	assert.NoError(t, CheckForbidden(script, LexOptions{MySQL: true}))
}
