package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")

	// ErrSecurityViolation marks deny-listed statements and generated SQL that fails the read-only gate.
	ErrSecurityViolation = errors.New("security violation")
	// ErrContractViolation marks generation output that is not one of the accepted JSON shapes.
	ErrContractViolation = errors.New("contract violation")
	ErrExecution         = errors.New("execution error")
	ErrTranspileDegraded = errors.New("transpile degraded")
	ErrConnectivity      = errors.New("connectivity error")
	ErrNoUsableResult    = errors.New("no usable result")

	ErrCredentialsKeyMismatch = errors.New("connection credentials were encrypted with a different key")
)

// SecurityViolation describes why SQL was refused before reaching the database.
type SecurityViolation struct {
	Reason    string
	Keyword   string
	Statement string
	// Cause is an optional sentinel naming the failed check.
	Cause error
}

func (e *SecurityViolation) Error() string {
	if e.Keyword != "" {
		return fmt.Sprintf("security violation: %s (%s)", e.Reason, e.Keyword)
	}
	return "security violation: " + e.Reason
}

func (e *SecurityViolation) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrSecurityViolation, e.Cause}
	}
	return []error{ErrSecurityViolation}
}

// NewSecurityViolation builds a SecurityViolation.
func NewSecurityViolation(reason, keyword, statement string) *SecurityViolation {
	return &SecurityViolation{Reason: reason, Keyword: keyword, Statement: statement}
}

// ExecutionError carries the database error verbatim together with the statement that failed.
type ExecutionError struct {
	Statement string
	Cause     error
}

func (e *ExecutionError) Error() string {
	if e.Cause == nil {
		return "execution error"
	}
	return e.Cause.Error()
}

func (e *ExecutionError) Unwrap() []error { return []error{ErrExecution, e.Cause} }

// Execution wraps a database error raised while running stmt.
func Execution(stmt string, cause error) error {
	if cause == nil {
		return nil
	}
	return &ExecutionError{Statement: stmt, Cause: cause}
}

// ContractError records what was wrong with a generation-service reply.
type ContractError struct {
	Detail string
}

func (e *ContractError) Error() string { return "contract violation: " + e.Detail }

func (e *ContractError) Unwrap() error { return ErrContractViolation }

// Contract builds a ContractError.
func Contract(format string, args ...any) error {
	return &ContractError{Detail: fmt.Sprintf(format, args...)}
}

type connectivityError struct {
	target string
	cause  error
}

func (e *connectivityError) Error() string {
	return fmt.Sprintf("cannot reach %s: %v", e.target, e.cause)
}

func (e *connectivityError) Unwrap() []error { return []error{ErrConnectivity, e.cause} }

// Connectivity marks err as an unreachable database or generation service.
func Connectivity(target string, err error) error {
	if err == nil {
		return nil
	}
	return &connectivityError{target: target, cause: err}
}
