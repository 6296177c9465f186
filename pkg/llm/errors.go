package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrorType classifies a generation failure.
type ErrorType string

const (
	ErrorTypeEndpoint  ErrorType = "endpoint"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeModel     ErrorType = "model"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeEmpty     ErrorType = "empty"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool  // Whether a higher layer may retry; this package never does
	Cause      error // Underlying error
	StatusCode int   // HTTP status code if applicable
	Model      string
	Endpoint   string
}

// Error implements the error interface.
func (e *Error) Error() string {
	parts := []string{string(e.Type)}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// NewErrorWithContext creates a new structured LLM error with model and endpoint context.
func NewErrorWithContext(errType ErrorType, message string, retryable bool, cause error, model, endpoint string, statusCode int) *Error {
	e := NewError(errType, message, retryable, cause)
	e.Model = model
	e.Endpoint = endpoint
	e.StatusCode = statusCode
	return e
}

var statusCodePattern = regexp.MustCompile(`\b(4\d\d|5\d\d)\b`)

func extractStatusCode(s string) int {
	m := statusCodePattern.FindString(s)
	if m == "" {
		return 0
	}
	code, _ := strconv.Atoi(m)
	return code
}

type classifyRule struct {
	match     func(lower string, status int) bool
	errType   ErrorType
	message   string
	retryable bool
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Rules are evaluated in order; the first match wins.
var classifyRules = []classifyRule{
	{
		match: func(l string, st int) bool { return st == 401 || st == 403 || containsAny(l, "unauthorized", "invalid api key", "invalid x-api-key") },
		errType: ErrorTypeAuth, message: "authentication failed",
	},
	{
		match: func(l string, _ int) bool { return strings.Contains(l, "model") && containsAny(l, "not found", "does not exist") },
		errType: ErrorTypeModel, message: "model not found",
	},
	{
		match: func(_ string, st int) bool { return st == 404 },
		errType: ErrorTypeEndpoint, message: "endpoint not found",
	},
	{
		match: func(l string, st int) bool { return st == 429 || containsAny(l, "rate limit", "overloaded") },
		errType: ErrorTypeRateLimit, message: "rate limited", retryable: true,
	},
	{
		match: func(l string, _ int) bool { return containsAny(l, "connection refused", "no such host", "connection reset", "eof") },
		errType: ErrorTypeEndpoint, message: "connection failed", retryable: true,
	},
	{
		match: func(l string, _ int) bool { return containsAny(l, "timeout", "deadline exceeded") },
		errType: ErrorTypeTimeout, message: "request timeout", retryable: true,
	},
	{
		match: func(_ string, st int) bool { return st >= 500 },
		errType: ErrorTypeEndpoint, message: "server error", retryable: true,
	},
}

// ClassifyError categorizes an error and returns a structured Error.
// Context cancellation is never retryable.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	status := extractStatusCode(msg)

	if strings.Contains(lower, "context canceled") {
		return &Error{Type: ErrorTypeTimeout, Message: "request canceled", Cause: err, StatusCode: status}
	}

	for _, rule := range classifyRules {
		if rule.match(lower, status) {
			return &Error{Type: rule.errType, Message: rule.message, Retryable: rule.retryable, Cause: err, StatusCode: status}
		}
	}
	return &Error{Type: ErrorTypeUnknown, Message: "llm error", Cause: err, StatusCode: status}
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
