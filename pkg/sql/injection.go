package sql

import (
	"errors"
	"fmt"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

var ErrUnsafeExpression = errors.New("unsafe SQL expression")

// InjectionCheckResult contains the result of an injection check on a value
// that is about to be interpolated into DDL or DML.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Field       string
	Value       string
}

// CheckValueForInjection runs libinjection over a single literal payload.
// Returns nil when the value looks clean.
func CheckValueForInjection(field, value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Field:       field,
		Value:       value,
	}
}

// CheckExpression accepts a single scalar SQL expression destined for a
// computed column: no statement separators, no comments, no subqueries or
// server functions, and no string literal inside it may carry an injection
// fingerprint.
func CheckExpression(expr string) error {
	tokens := Lex(expr, LexOptions{})
	if !hasCode(tokens) {
		return fmt.Errorf("%w: empty expression", ErrUnsafeExpression)
	}
	depth := 0
	for _, t := range tokens {
		switch {
		case t.Kind == TokenSemicolon:
			return fmt.Errorf("%w: statement separator", ErrUnsafeExpression)
		case t.IsComment():
			return fmt.Errorf("%w: comment", ErrUnsafeExpression)
		case t.Text == "(":
			depth++
		case t.Text == ")":
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced parentheses", ErrUnsafeExpression)
			}
		case t.Kind == TokenString:
			if r := CheckValueForInjection("literal", strings.Trim(t.Text, "'")); r != nil {
				return fmt.Errorf("%w: literal matches %s", ErrUnsafeExpression, r.Fingerprint)
			}
		case t.Is("SELECT"), t.Is("INSERT"), t.Is("UPDATE"), t.Is("DELETE"), t.Is("DROP"), t.Is("ALTER"), t.Is("CREATE"),
			t.Is("TABLE"), t.Is("WITH"), t.Is("VALUES"):
			return fmt.Errorf("%w: %s is not allowed in an expression", ErrUnsafeExpression, t.Text)
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: unbalanced parentheses", ErrUnsafeExpression)
	}
	if fn := serverFunctionCall(tokens); fn != "" {
		return fmt.Errorf("%w: %s is not allowed in an expression", ErrUnsafeExpression, fn)
	}
	return nil
}
