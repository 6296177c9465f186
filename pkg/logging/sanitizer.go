// Package logging builds the process logger and redacts secrets before they
// reach it.
package logging

import (
	"fmt"
	"regexp"
)

const (
	// MaxQueryLogLength is the default length a logged query is cut to.
	MaxQueryLogLength = 200
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer tokens and provider API keys (sk-..., sk-ant-...)
	bearerPattern  = regexp.MustCompile(`Bearer\s+[A-Za-z0-9._~+/=-]+`)
	apiKeyPattern  = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)
	secretKeyShape = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`)

	// user:pass@host in URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`)
)

// SanitizeConnectionString removes credentials from a DSN or URL.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
}

// SanitizeError returns err's message with credentials and keys removed.
// Use this before logging any error from database or generation-service calls.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return sanitize(err.Error())
}

func sanitize(s string) string {
	s = passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+RedactedText)
	s = apiKeyPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = secretKeyShape.ReplaceAllString(s, RedactedText)
	return connStringPattern.ReplaceAllString(s, "://"+RedactedText+"@")
}

// TruncateQuery shortens a SQL text for logging. A non-positive max uses
// MaxQueryLogLength.
func TruncateQuery(query string, max int) string {
	if max <= 0 {
		max = MaxQueryLogLength
	}
	return sanitize(TruncateString(query, max))
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// SanitizeDescriptor renders a connection descriptor for logs with any
// credential material redacted.
func SanitizeDescriptor(d fmt.Stringer) string {
	if d == nil {
		return ""
	}
	return sanitize(d.String())
}
