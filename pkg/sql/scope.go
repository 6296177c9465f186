package sql

import (
	"strings"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
)

// serverFunctions run SQL text, read server files or settings, or reach
// other databases. dblink* is matched by prefix.
var serverFunctions = map[string]bool{
	"query_to_xml":                  true,
	"query_to_xml_and_xmlschema":    true,
	"query_to_xmlschema":            true,
	"cursor_to_xml":                 true,
	"table_to_xml":                  true,
	"table_to_xml_and_xmlschema":    true,
	"table_to_xmlschema":            true,
	"schema_to_xml":                 true,
	"schema_to_xml_and_xmlschema":   true,
	"schema_to_xmlschema":           true,
	"database_to_xml":               true,
	"database_to_xml_and_xmlschema": true,
	"database_to_xmlschema":         true,
	"pg_read_file":                  true,
	"pg_read_binary_file":           true,
	"pg_ls_dir":                     true,
	"pg_stat_file":                  true,
	"lo_import":                     true,
	"lo_export":                     true,
	"lo_get":                        true,
	"set_config":                    true,
	"current_setting":               true,
	"pg_sleep":                      true,
	"pg_terminate_backend":          true,
	"pg_cancel_backend":             true,
	"pg_reload_conf":                true,
	"pg_advisory_lock":              true,
	"pg_advisory_xact_lock":         true,
}

// tableCommandPrefixes mark TABLE as part of DDL rather than the
// TABLE name query shorthand.
var tableCommandPrefixes = map[string]bool{
	"CREATE": true, "TEMPORARY": true, "TEMP": true, "UNLOGGED": true,
	"ALTER": true, "DROP": true, "LOCK": true, "TRUNCATE": true,
}

// CheckSchemaScope rejects a statement that reaches outside schema: a table
// source qualified with another schema, or a call to a server function.
// Unqualified names resolve against the caller's search path.
func CheckSchemaScope(stmt, schema string, opts LexOptions) error {
	tokens := Lex(stmt, opts)

	var outside *TableRef
	note := func(ref TableRef) {
		if outside == nil && ref.Qualified() && !strings.EqualFold(ref.Schema, schema) {
			outside = &ref
		}
	}
	walkTableRefs(tokens, note)
	tableShorthandRefs(tokens, note)
	if outside != nil {
		return apperrors.NewSecurityViolation("table outside the datasource schema",
			outside.Schema+"."+outside.Name, excerpt(stmt, 0))
	}

	if fn := serverFunctionCall(tokens); fn != "" {
		return apperrors.NewSecurityViolation("server function is not allowed", fn, excerpt(stmt, 0))
	}
	return nil
}

// tableShorthandRefs reports the sources of TABLE name queries
// (INSERT INTO t TABLE s.x, CREATE TABLE t AS TABLE s.x).
func tableShorthandRefs(tokens []Token, fn func(TableRef)) {
	sig := significant(tokens)
	at := func(i int) Token {
		if i < 0 || i >= len(sig) {
			return Token{Kind: TokenSpace}
		}
		return tokens[sig[i]]
	}
	for i := range sig {
		if !at(i).Is("TABLE") {
			continue
		}
		if prev := at(i - 1); prev.Kind == TokenWord && tableCommandPrefixes[strings.ToUpper(prev.Text)] {
			continue
		}
		start := i + 1
		if at(start).Is("ONLY") {
			start++
		}
		if ref, ok := readTableRef(tokens, sig, start, at); ok {
			fn(ref)
		}
	}
}

// serverFunctionCall returns the first server function called in tokens.
func serverFunctionCall(tokens []Token) string {
	sig := significant(tokens)
	for n, i := range sig {
		tok := tokens[i]
		if !tok.IsIdent() || n+1 >= len(sig) || tokens[sig[n+1]].Text != "(" {
			continue
		}
		name := strings.ToLower(UnquoteIdent(tok.Text))
		if serverFunctions[name] || strings.HasPrefix(name, "dblink") {
			return name
		}
	}
	return ""
}
