package sql

import "strings"

// SplitStatements splits a script on semicolons that sit outside literals and
// comments. Statements that contain only whitespace and comments are dropped.
// The returned texts keep their comments and have no trailing semicolon.
func SplitStatements(text string, opts LexOptions) []string {
	var (
		statements []string
		current    []Token
	)
	flush := func() {
		if hasCode(current) {
			statements = append(statements, strings.TrimSpace(Render(current)))
		}
		current = current[:0]
	}

	for _, tok := range Lex(text, opts) {
		if tok.Kind == TokenSemicolon {
			flush()
			continue
		}
		current = append(current, tok)
	}
	flush()

	return statements
}

// StripComments removes comments from stmt. A comment between two tokens is
// replaced by a single space so the neighbours never fuse.
func StripComments(stmt string, opts LexOptions) string {
	tokens := Lex(stmt, opts)
	var sb strings.Builder
	for _, t := range tokens {
		if t.IsComment() {
			sb.WriteByte(' ')
			continue
		}
		sb.WriteString(t.Text)
	}
	return strings.TrimSpace(sb.String())
}

// Mask returns text with the bodies of string literals, quoted identifiers and
// comments blanked out, preserving byte offsets. Keyword scans over the masked
// text cannot be fooled by data or names.
func Mask(text string, opts LexOptions) string {
	tokens := Lex(text, opts)
	var sb strings.Builder
	sb.Grow(len(text))
	for _, t := range tokens {
		switch t.Kind {
		case TokenString, TokenQuotedIdent, TokenBacktickIdent, TokenLineComment, TokenBlockComment:
			sb.WriteString(strings.Repeat(" ", len(t.Text)))
		default:
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

func hasCode(tokens []Token) bool {
	for _, t := range tokens {
		if !t.IsTrivia() {
			return true
		}
	}
	return false
}
