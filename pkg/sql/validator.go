package sql

import (
	"errors"
	"strings"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	ErrEmptyQuery         = errors.New("empty query")
	ErrNotSelect          = errors.New("only SELECT queries are allowed")
)

// EnsureReadOnly is the gate every generated query passes before execution.
// It strips comments and a trailing semicolon, rejects multiple statements and
// requires the first keyword to be SELECT. The returned SQL is what may be run.
// Every rejection unwraps to apperrors.ErrSecurityViolation.
func EnsureReadOnly(query string) (string, error) {
	normalized := stripTrailingSemicolon(StripComments(query, LexOptions{}))
	if normalized == "" {
		return "", violation(ErrEmptyQuery, query)
	}

	tokens := Lex(normalized, LexOptions{})
	for _, t := range tokens {
		if t.Kind == TokenSemicolon {
			return "", violation(ErrMultipleStatements, query)
		}
	}

	sig := significant(tokens)
	if len(sig) == 0 || !tokens[sig[0]].Is("SELECT") {
		return "", violation(ErrNotSelect, query)
	}

	return normalized, nil
}

func violation(reason error, stmt string) error {
	return &apperrors.SecurityViolation{Reason: reason.Error(), Statement: stmt, Cause: reason}
}

// stripTrailingSemicolon removes trailing semicolons and any whitespace around them.
func stripTrailingSemicolon(q string) string {
	q = strings.TrimSpace(q)
	for strings.HasSuffix(q, ";") {
		q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	}
	return q
}
