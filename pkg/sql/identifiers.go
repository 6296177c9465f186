package sql

import (
	"regexp"
	"strings"
)

// QuoteIdent double-quotes an identifier for PostgreSQL.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteQualified quotes schema.name.
func QuoteQualified(schema, name string) string {
	if schema == "" {
		return QuoteIdent(name)
	}
	return QuoteIdent(schema) + "." + QuoteIdent(name)
}

// UnquoteIdent strips double quotes or backticks from an identifier token.
func UnquoteIdent(text string) string {
	if len(text) >= 2 {
		switch {
		case text[0] == '"' && text[len(text)-1] == '"':
			return strings.ReplaceAll(text[1:len(text)-1], `""`, `"`)
		case text[0] == '`' && text[len(text)-1] == '`':
			return strings.ReplaceAll(text[1:len(text)-1], "``", "`")
		}
	}
	return text
}

var nonIdentChars = regexp.MustCompile(`[^a-z0-9_]+`)

// SanitizeIdentifier turns an arbitrary label (file name, header) into a
// lowercase identifier of letters, digits and underscores. Empty results
// become fallback.
func SanitizeIdentifier(label, fallback string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = foldAccents(s)
	s = nonIdentChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 60 {
		s = strings.TrimRight(s[:60], "_")
	}
	if s == "" {
		return fallback
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s
}

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"à", "a", "è", "e", "ì", "i", "ò", "o", "ù", "u", "ç", "c",
)

func foldAccents(s string) string { return accentFolder.Replace(s) }

// reserved holds keywords that can never be a bare table or column name here.
var reserved = map[string]bool{}

func init() {
	for _, kw := range strings.Fields(`
		ALL AND ANY ARRAY AS ASC BETWEEN BOTH BY CASE CAST CROSS CURRENT_DATE
		CURRENT_TIME CURRENT_TIMESTAMP DESC DISTINCT ELSE END EXCEPT EXISTS
		EXTRACT FALSE FETCH FILTER FOR FROM FULL GROUP HAVING ILIKE IN INNER
		INTERSECT INTERVAL INTO IS JOIN LATERAL LEADING LEFT LIKE LIMIT NATURAL
		NOT NULL NULLS OFFSET ON OR ORDER OUTER OVER PARTITION RIGHT ROWS SELECT
		SIMILAR SOME THEN TRAILING TRUE UNION USING VALUES WHEN WHERE WINDOW WITH
		COUNT SUM AVG MIN MAX COALESCE NULLIF ROUND DATE_TRUNC TO_CHAR LOWER UPPER
		TRIM EPOCH YEAR MONTH DAY HOUR MINUTE SECOND WEEK QUARTER DOW DATE
		TIMESTAMP TEXT INTEGER INT NUMERIC BIGINT DOUBLE PRECISION BOOLEAN VARCHAR
		FIRST LAST RECURSIVE MATERIALIZED
	`) {
		reserved[kw] = true
	}
}

func isReserved(word string) bool { return reserved[strings.ToUpper(word)] }

// ColumnIdentifiers returns the distinct names (lowercase, unquoted) used as
// column references in query: identifiers that are not keywords, table
// references, aliases, qualifiers or function names.
func ColumnIdentifiers(query string) []string {
	tokens := Lex(query, LexOptions{})
	exclude := map[int]bool{}
	aliases := map[string]bool{}
	walkTableRefs(tokens, func(ref TableRef) {
		exclude[ref.nameTok] = true
		if ref.schemaTok >= 0 {
			exclude[ref.schemaTok] = true
		}
		if ref.aliasTok >= 0 {
			exclude[ref.aliasTok] = true
			aliases[strings.ToLower(ref.Alias)] = true
		}
	})

	sig := significant(tokens)
	seen := map[string]bool{}
	var names []string
	for n, i := range sig {
		tok := tokens[i]
		if exclude[i] || !tok.IsIdent() {
			continue
		}
		if tok.Kind == TokenWord && isReserved(tok.Text) {
			continue
		}
		if n+1 < len(sig) {
			if next := tokens[sig[n+1]]; next.Text == "." || next.Text == "(" {
				continue
			}
		}
		if n > 0 && tokens[sig[n-1]].Is("AS") {
			aliases[strings.ToLower(UnquoteIdent(tok.Text))] = true
			continue
		}
		name := strings.ToLower(UnquoteIdent(tok.Text))
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	out := names[:0]
	for _, name := range names {
		if !aliases[name] {
			out = append(out, name)
		}
	}
	return out
}

// RenameColumn replaces column references named from (case-insensitive) with
// the quoted name to. Table references, qualifiers and function names are
// not touched.
func RenameColumn(query, from, to string) string {
	tokens := Lex(query, LexOptions{})
	tables := map[int]bool{}
	walkTableRefs(tokens, func(ref TableRef) {
		tables[ref.nameTok] = true
		if ref.schemaTok >= 0 {
			tables[ref.schemaTok] = true
		}
		if ref.aliasTok >= 0 {
			tables[ref.aliasTok] = true
		}
	})

	sig := significant(tokens)
	for n, i := range sig {
		tok := tokens[i]
		if tables[i] || !tok.IsIdent() || !strings.EqualFold(UnquoteIdent(tok.Text), from) {
			continue
		}
		if n+1 < len(sig) {
			if next := tokens[sig[n+1]]; next.Text == "." || next.Text == "(" {
				continue
			}
		}
		tokens[i].Text = QuoteIdent(to)
	}
	return Render(tokens)
}
