// Package domain defines core types, interfaces, and errors for the sync client.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// TransientError indicates a delivery failure that is expected to succeed on
// a later flush (network unreachable, timeout, 5xx from the remote).
type TransientError struct {
	Message string
	Cause   error
}

func (e *TransientError) Error() string { return e.Message }

func (e *TransientError) Unwrap() error { return e.Cause }

// RemoteRejectionError indicates the remote authority rejected a mutation for
// a business-rule reason (4xx). It is terminal: the mutation is not retried.
type RemoteRejectionError struct {
	StatusCode int
	Message    string
}

func (e *RemoteRejectionError) Error() string {
	return fmt.Sprintf("remote rejected (%d): %s", e.StatusCode, e.Message)
}

// EngineInitError indicates the analytical engine session could not be
// brought up (no compatible variant, worker failed to start). The session
// that produced it is unusable and must be recreated.
type EngineInitError struct {
	Message string
	Cause   error
}

func (e *EngineInitError) Error() string { return e.Message }

func (e *EngineInitError) Unwrap() error { return e.Cause }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrTransient wraps a cause as a TransientError with a formatted message.
func ErrTransient(cause error, format string, args ...interface{}) *TransientError {
	return &TransientError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ErrEngineInit wraps a cause as an EngineInitError with a formatted message.
func ErrEngineInit(cause error, format string, args ...interface{}) *EngineInitError {
	return &EngineInitError{Message: fmt.Sprintf(format, args...), Cause: cause}
}
