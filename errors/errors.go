// Package errors provides error handling for fnpulse.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Details that are logged but never sent to HTTP clients
//
// On top of that it defines the platform's error taxonomy:
//
//	ErrNotFound        missing function artifact or unknown job id (not retried)
//	ErrExecution       non-zero exit, handler error or timeout (job fails, cost charged)
//	ErrInfrastructure  queue or process-spawn failure (logged, retried next tick)
//
// Usage:
//
//	if _, err := os.Stat(path); err != nil {
//	    return errors.NewNotFoundError("function file %s not found", filename)
//	}
//
//	if errors.IsExecutionError(err) {
//	    // record job failure
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef

	CombineErrors = crdb.CombineErrors
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
	Mark           = crdb.Mark
)

// Sentinel errors. Use errors.Is() against these; the helpers below mark
// errors with them so the original message survives wrapping.
var (
	// ErrNotFound indicates a missing function artifact or unknown job id
	ErrNotFound = New("not found")

	// ErrExecution indicates the function itself failed: non-zero exit,
	// raised handler error, or timeout
	ErrExecution = New("execution failed")

	// ErrInfrastructure indicates a queue, database or process-spawn failure
	ErrInfrastructure = New("infrastructure failure")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsExecutionError checks if an error is or wraps ErrExecution
func IsExecutionError(err error) bool {
	return err != nil && Is(err, ErrExecution)
}

// IsInfrastructureError checks if an error is or wraps ErrInfrastructure
func IsInfrastructureError(err error) bool {
	return err != nil && Is(err, ErrInfrastructure)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsTimeoutError checks if an error is or wraps ErrTimeout
func IsTimeoutError(err error) bool {
	return err != nil && Is(err, ErrTimeout)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewExecutionError creates an execution error with a formatted message
func NewExecutionError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrExecution)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}

// WrapExecution marks err as an execution failure with context
func WrapExecution(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrExecution)
}

// WrapInfrastructure marks err as an infrastructure failure with context
func WrapInfrastructure(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrInfrastructure)
}

// WrapTimeout marks err as an execution timeout. Timeouts are execution
// failures, so the result matches both ErrTimeout and ErrExecution.
func WrapTimeout(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Mark(Wrap(err, context), ErrTimeout), ErrExecution)
}
