package dialect

import (
	"regexp"
	"strings"

	"github.com/ekaya-inc/ekaya-bi/pkg/sql"
)

// Each rewrite below operates on protected code (see protect) and is safe to
// apply more than once.

var createTablePattern = regexp.MustCompile(`(?is)^\s*CREATE\s+(?:TEMPORARY\s+)?TABLE\b`)

func isCreateTable(code string) bool { return createTablePattern.MatchString(code) }

// stripTrailers drops everything after the closing parenthesis of a CREATE
// TABLE body: ENGINE=, DEFAULT CHARSET=, COLLATE=, AUTO_INCREMENT=, COMMENT=,
// ROW_FORMAT= and MySQL partitioning clauses.
func stripTrailers(stmt string) string {
	tokens := sql.Lex(stmt, sql.LexOptions{MySQL: true})
	_, closeIdx, ok := sql.CreateTableBody(tokens)
	if !ok {
		return stmt
	}
	return strings.TrimSpace(sql.Render(tokens[:closeIdx+1]))
}

// stripSecondaryKeys removes KEY, INDEX, UNIQUE KEY, FULLTEXT and SPATIAL
// declarations from a CREATE TABLE body, keeping the primary key. Foreign
// keys are lifted out and returned as ALTER TABLE ... NOT VALID statements to
// run once every table exists.
func stripSecondaryKeys(stmt string) (string, []string) {
	opts := sql.LexOptions{MySQL: true}
	tokens := sql.Lex(stmt, opts)
	open, closeIdx, ok := sql.CreateTableBody(tokens)
	if !ok {
		return stmt, nil
	}
	table, _ := sql.CreateTableName(stmt, opts)

	var (
		kept     []string
		deferred []string
	)
	for _, part := range sql.SplitTopLevel(tokens[open+1 : closeIdx]) {
		part = sql.SkipTrivia(part)
		if len(part) == 0 {
			continue
		}
		text := sql.Render(part)
		switch classifyBodyElement(sql.FirstWords(part, 4)) {
		case elementIndex:
			continue
		case elementForeignKey:
			if table != "" {
				deferred = append(deferred, "ALTER TABLE "+sql.QuoteIdent(table)+" ADD "+text+" NOT VALID")
			}
			continue
		}
		kept = append(kept, text)
	}

	var sb strings.Builder
	sb.WriteString(sql.Render(tokens[:open+1]))
	sb.WriteString("\n  ")
	sb.WriteString(strings.Join(kept, ",\n  "))
	sb.WriteString("\n")
	sb.WriteString(sql.Render(tokens[closeIdx:]))
	return sb.String(), deferred
}

// booleanConversions returns one ALTER per TINYINT(1) column of a CREATE
// TABLE statement, converting the loaded 0/1 values to BOOLEAN. A column
// default is carried over as TRUE or FALSE.
func booleanConversions(stmt string) []string {
	opts := sql.LexOptions{MySQL: true}
	tokens := sql.Lex(stmt, opts)
	open, closeIdx, ok := sql.CreateTableBody(tokens)
	if !ok {
		return nil
	}
	table, ok := sql.CreateTableName(stmt, opts)
	if !ok {
		return nil
	}

	var out []string
	for _, part := range sql.SplitTopLevel(tokens[open+1 : closeIdx]) {
		if classifyBodyElement(sql.FirstWords(part, 4)) != elementColumn {
			continue
		}
		words := codeTokens(part)
		if len(words) < 5 || !words[0].IsIdent() || !isTinyIntFlag(words[1:5]) {
			continue
		}
		col := sql.QuoteIdent(sql.UnquoteIdent(words[0].Text))
		prefix := " ALTER COLUMN " + col
		clauses := []string{prefix + " TYPE BOOLEAN USING " + col + " <> 0"}
		if def, has := flagDefault(words[5:]); has {
			clauses = append([]string{prefix + " DROP DEFAULT"}, clauses...)
			if def != "" {
				clauses = append(clauses, prefix+" SET DEFAULT "+def)
			}
		}
		out = append(out, "ALTER TABLE "+sql.QuoteIdent(table)+strings.Join(clauses, ","))
	}
	return out
}

func codeTokens(tokens []sql.Token) []sql.Token {
	var out []sql.Token
	for _, t := range tokens {
		if !t.IsTrivia() {
			out = append(out, t)
		}
	}
	return out
}

func isTinyIntFlag(t []sql.Token) bool {
	return t[0].Is("TINYINT") && t[1].Text == "(" && strings.TrimSpace(t[2].Text) == "1" && t[3].Text == ")"
}

// flagDefault reads the DEFAULT of a flag column. has is false when the
// column declares none; def is empty for a NULL or unreadable default.
func flagDefault(words []sql.Token) (def string, has bool) {
	for i, w := range words {
		if !w.Is("DEFAULT") {
			continue
		}
		if i+1 >= len(words) {
			return "", true
		}
		v := strings.Trim(words[i+1].Text, `'"`)
		switch {
		case words[i+1].Is("NULL"), v == "":
			return "", true
		case v == "0":
			return "FALSE", true
		case strings.Trim(v, "0123456789") == "":
			return "TRUE", true
		}
		return "", true
	}
	return "", false
}

type bodyElement int

const (
	elementColumn bodyElement = iota
	elementIndex
	elementForeignKey
)

func classifyBodyElement(words []string) bodyElement {
	if len(words) == 0 {
		return elementColumn
	}
	at := func(i int) string {
		if i < len(words) {
			return words[i]
		}
		return ""
	}
	switch at(0) {
	case "KEY", "INDEX", "FULLTEXT", "SPATIAL":
		return elementIndex
	case "UNIQUE":
		if at(1) == "KEY" || at(1) == "INDEX" {
			return elementIndex
		}
	case "FOREIGN":
		return elementForeignKey
	case "CONSTRAINT":
		// CONSTRAINT name FOREIGN KEY / CONSTRAINT name UNIQUE KEY
		switch {
		case at(2) == "FOREIGN":
			return elementForeignKey
		case at(2) == "UNIQUE" && (at(3) == "KEY" || at(3) == "INDEX"):
			return elementIndex
		}
	}
	return elementColumn
}

var (
	tinyIntPattern     = regexp.MustCompile(`(?i)\bTINYINT\b(?:\s*\(\s*\d+\s*\))?`)
	smallIntPattern    = regexp.MustCompile(`(?i)\bSMALLINT\s*\(\s*\d+\s*\)`)
	mediumIntPattern   = regexp.MustCompile(`(?i)\bMEDIUMINT\b(?:\s*\(\s*\d+\s*\))?`)
	intPattern         = regexp.MustCompile(`(?i)\bINT(?:EGER)?\s*\(\s*\d+\s*\)`)
	bigIntPattern      = regexp.MustCompile(`(?i)\bBIGINT\s*\(\s*\d+\s*\)`)
)

// mapIntegerWidths maps MySQL display-width integers to portable types:
// TINYINT(n) to SMALLINT, INT(n) to INTEGER and so on. TINYINT(1) flags stay
// SMALLINT so the dump's 0/1 values load; booleanConversions turns them into
// BOOLEAN afterwards.
func mapIntegerWidths(code string) string {
	code = tinyIntPattern.ReplaceAllString(code, "SMALLINT")
	code = smallIntPattern.ReplaceAllString(code, "SMALLINT")
	code = mediumIntPattern.ReplaceAllString(code, "INTEGER")
	code = intPattern.ReplaceAllString(code, "INTEGER")
	code = bigIntPattern.ReplaceAllString(code, "BIGINT")
	return code
}

var (
	autoIncrementColumnPattern = regexp.MustCompile(`(?i)((?:\x00\d+\x00|[A-Za-z_]\w*)\s+)(INTEGER|INT|BIGINT|SMALLINT)\b([^,]*?)\bAUTO_INCREMENT\b`)
	autoIncrementPattern       = regexp.MustCompile(`(?i)\s*\bAUTO_INCREMENT\b(?:\s*=\s*\d+)?`)
	unsignedPattern            = regexp.MustCompile(`(?i)\s*\b(?:UNSIGNED|ZEROFILL)\b`)
	identityDefaultPattern     = regexp.MustCompile(`(?i)\s*\bDEFAULT\s+(?:NULL\b|\x00\d+\x00|\d+)`)
	nullablePattern            = regexp.MustCompile(`(?i)\s*\b(?:NOT\s+)?NULL\b`)
)

// convertAutoIncrement turns `id INTEGER ... AUTO_INCREMENT` into an identity
// column. UNSIGNED, DEFAULT and NULL markers on the column are dropped; the
// integer type is never widened.
func convertAutoIncrement(code string) string {
	return autoIncrementColumnPattern.ReplaceAllStringFunc(code, func(m string) string {
		parts := autoIncrementColumnPattern.FindStringSubmatch(m)
		middle := unsignedPattern.ReplaceAllString(parts[3], "")
		middle = identityDefaultPattern.ReplaceAllString(middle, "")
		middle = nullablePattern.ReplaceAllStringFunc(middle, func(n string) string {
			if strings.Contains(strings.ToUpper(n), "NOT") {
				return n
			}
			return ""
		})
		middle = strings.TrimRight(middle, " \t\n")
		return parts[1] + strings.ToUpper(parts[2]) + middle + " GENERATED BY DEFAULT AS IDENTITY"
	})
}

// removeAutoIncrement drops AUTO_INCREMENT tokens that were not attached to an
// integer column, including AUTO_INCREMENT=n table options.
func removeAutoIncrement(code string) string {
	return autoIncrementPattern.ReplaceAllString(code, "")
}

var (
	smallUnsignedPattern = regexp.MustCompile(`(?i)\bSMALLINT\s+UNSIGNED\b`)
	intUnsignedPattern   = regexp.MustCompile(`(?i)\bINT(?:EGER)?\s+UNSIGNED\b`)
	bigUnsignedPattern   = regexp.MustCompile(`(?i)\bBIGINT\s+UNSIGNED\b`)
)

// widenUnsigned replaces UNSIGNED integers with the next wider signed type.
func widenUnsigned(code string) string {
	code = smallUnsignedPattern.ReplaceAllString(code, "INTEGER")
	code = intUnsignedPattern.ReplaceAllString(code, "BIGINT")
	code = bigUnsignedPattern.ReplaceAllString(code, "NUMERIC(20,0)")
	return unsignedPattern.ReplaceAllString(code, "")
}

var enumTypePattern = regexp.MustCompile(`(?is)\b(?:ENUM|SET)\s*\([^)]*\)`)

// convertEnums maps inline ENUM(...) and SET(...) column types to TEXT.
func convertEnums(code string) string {
	return enumTypePattern.ReplaceAllString(code, "TEXT")
}

var datetimePattern = regexp.MustCompile(`(?i)\bDATETIME\b(?:\s*\(\s*\d+\s*\))?`)

// convertDatetime maps DATETIME and DATETIME(n) to TIMESTAMP.
func convertDatetime(code string) string {
	return datetimePattern.ReplaceAllString(code, "TIMESTAMP")
}

var onUpdatePattern = regexp.MustCompile(`(?i)\s*\bON\s+UPDATE\s+(?:CURRENT_TIMESTAMP|NOW|LOCALTIMESTAMP)\b(?:\s*\(\s*\d*\s*\))?`)

// dropOnUpdate removes ON UPDATE CURRENT_TIMESTAMP column clauses.
func dropOnUpdate(code string) string {
	return onUpdatePattern.ReplaceAllString(code, "")
}

var (
	charsetPattern = regexp.MustCompile(`(?i)\s*\b(?:CHARACTER\s+SET|CHARSET)\s*=?\s*\w+`)
	collatePattern = regexp.MustCompile(`(?i)\s*\bCOLLATE\s*=?\s*\w+`)
	commentPattern = regexp.MustCompile(`(?i)\s*\bCOMMENT\s*=?\s*\x00\d+\x00`)
)

// dropColumnCharsets removes column-level CHARACTER SET, COLLATE and COMMENT.
func dropColumnCharsets(code string) string {
	code = charsetPattern.ReplaceAllString(code, "")
	code = collatePattern.ReplaceAllString(code, "")
	return commentPattern.ReplaceAllString(code, "")
}

var portableTypes = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile(`(?i)\bDOUBLE(?:\s+PRECISION)?(?:\s*\(\s*\d+\s*,\s*\d+\s*\))?`), "DOUBLE PRECISION"},
	{regexp.MustCompile(`(?i)\bFLOAT\s*\(\s*\d+\s*,\s*\d+\s*\)`), "REAL"},
	{regexp.MustCompile(`(?i)\b(?:TINY|MEDIUM|LONG)TEXT\b`), "TEXT"},
	{regexp.MustCompile(`(?i)\b(?:TINY|MEDIUM|LONG)?BLOB\b`), "BYTEA"},
	{regexp.MustCompile(`(?i)\b(?:VAR)?BINARY\s*\(\s*\d+\s*\)`), "BYTEA"},
	{regexp.MustCompile(`(?i)\bYEAR\s*\(\s*4\s*\)`), "SMALLINT"},
	{regexp.MustCompile(`(?i)\bCURRENT_TIMESTAMP\s*\(\s*\)`), "CURRENT_TIMESTAMP"},
}

// mapPortableTypes maps the remaining MySQL-only type names.
func mapPortableTypes(code string) string {
	for _, t := range portableTypes {
		code = t.pattern.ReplaceAllString(code, t.repl)
	}
	return code
}

var (
	defaultLiteralPattern  = regexp.MustCompile(`(?i)\s*\bDEFAULT\s+\x00\d+\x00`)
	sequenceDefaultPattern = regexp.MustCompile(`(?i)\s*\bDEFAULT\s+nextval\s*\(\s*\x00\d+\x00(?:\s*::\s*regclass)?\s*\)`)
	introducerPattern      = regexp.MustCompile(`(?i)\b_(?:utf8mb4|utf8mb3|utf8|latin1|binary|ascii)\s*(\x00)`)
)

// dropZeroDateDefaults removes DEFAULT '0000-00-00...' which PostgreSQL rejects.
func (p *protected) dropZeroDateDefaults(code string) string {
	return defaultLiteralPattern.ReplaceAllStringFunc(code, func(m string) string {
		if strings.HasPrefix(p.literal(m), "'0000-00-00") {
			return ""
		}
		return m
	})
}

// dropSequenceDefaults removes DEFAULT nextval('seq'::regclass); the sequences
// of a plain dump are never created by an import.
func dropSequenceDefaults(code string) string {
	return sequenceDefaultPattern.ReplaceAllString(code, "")
}

// stripIntroducers removes charset introducers such as _utf8mb4'text'.
func stripIntroducers(code string) string {
	return introducerPattern.ReplaceAllString(code, "$1")
}

var spacePattern = regexp.MustCompile(`\s+`)

func collapseSpace(code string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(code, " "))
}
