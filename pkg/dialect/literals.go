package dialect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-bi/pkg/sql"
)

// protected is a statement whose literals and quoted names have been swapped
// for \x00n\x00 placeholders, so rewrites only ever see SQL code. Comments
// are dropped on the way in.
type protected struct {
	code     string
	literals []string
}

var placeholderPattern = regexp.MustCompile(`\x00(\d+)\x00`)

func protect(stmt string, mysqlLiterals bool) *protected {
	p := &protected{}
	var sb strings.Builder
	for _, tok := range sql.Lex(stmt, sql.LexOptions{MySQL: mysqlLiterals}) {
		switch tok.Kind {
		case sql.TokenLineComment, sql.TokenBlockComment:
			sb.WriteByte(' ')
		case sql.TokenString:
			lit := tok.Text
			if mysqlLiterals && strings.HasPrefix(lit, "'") {
				lit = convertMySQLString(lit)
			}
			sb.WriteString(p.add(lit))
		case sql.TokenBacktickIdent:
			sb.WriteString(p.add(sql.QuoteIdent(sql.UnquoteIdent(tok.Text))))
		case sql.TokenQuotedIdent:
			sb.WriteString(p.add(tok.Text))
		default:
			sb.WriteString(tok.Text)
		}
	}
	p.code = sb.String()
	return p
}

func (p *protected) add(lit string) string {
	p.literals = append(p.literals, lit)
	return fmt.Sprintf("\x00%d\x00", len(p.literals)-1)
}

// literal returns the literal behind placeholder text such as "\x003\x00".
func (p *protected) literal(placeholder string) string {
	m := placeholderPattern.FindStringSubmatch(placeholder)
	if m == nil {
		return ""
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n >= len(p.literals) {
		return ""
	}
	return p.literals[n]
}

func (p *protected) restore(code string) string {
	return placeholderPattern.ReplaceAllStringFunc(code, p.literal)
}

// convertMySQLString rewrites a MySQL '...' literal with backslash escapes into
// a standard-conforming PostgreSQL literal.
func convertMySQLString(lit string) string {
	body := lit[1:]
	if strings.HasSuffix(body, "'") {
		body = body[:len(body)-1]
	}
	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\\' && i+1 < len(body):
			i++
			switch body[i] {
			case '0':
				// PostgreSQL text cannot hold NUL
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'b':
				sb.WriteByte('\b')
			case 'Z':
				sb.WriteByte(0x1a)
			case '%', '_':
				sb.WriteByte('\\')
				sb.WriteByte(body[i])
			default:
				sb.WriteByte(body[i])
			}
		case c == '\'' && i+1 < len(body) && body[i+1] == '\'':
			sb.WriteByte('\'')
			i++
		default:
			sb.WriteByte(c)
		}
	}
	return "'" + strings.ReplaceAll(sb.String(), "'", "''") + "'"
}
