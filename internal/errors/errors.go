// Package errors provides centralized error definitions for the ParaPR
// engine. It defines the sentinel errors of the orchestration taxonomy,
// semantic error types with context, and classification helpers used by
// the monitor's retry policy and the HTTP surface.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Re-export standard library functions for convenience so callers can
// import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Session-related sentinel errors.
var (
	// ErrSessionNotFound indicates an operation on an unknown session id.
	ErrSessionNotFound = New("session not found")
	// ErrSessionExists indicates a create on an id that is already live.
	ErrSessionExists = New("session already exists")
)

// Adapter-related sentinel errors.
var (
	// ErrTargetNotFound indicates the underlying tmux session vanished.
	ErrTargetNotFound = New("tmux target not found")
	// ErrLaunchFailed indicates tmux session creation failed outright.
	ErrLaunchFailed = New("session launch failed")
	// ErrAdapterTransient indicates a capture or send failure that should
	// be retried on the next detection cycle.
	ErrAdapterTransient = New("transient adapter failure")
)

// Classifier-related sentinel errors.
var (
	// ErrGatewayDegraded indicates the external classification oracle was
	// unavailable (timeout, non-2xx, or malformed response). Recovered
	// locally by the pattern-only fallback; never surfaced to callers.
	ErrGatewayDegraded = New("classification gateway degraded")
)

// General sentinel errors.
var (
	// ErrTimeout indicates an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates input validation failed.
	ErrInvalidInput = New("invalid input")
)

// NotFoundError represents a resource that could not be found.
//
//	err := errors.NewNotFoundError("session", "eng-1423")
//	fmt.Println(err) // "session 'eng-1423' not found"
type NotFoundError struct {
	ResourceType string
	ResourceID   string
	cause        error
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Unwrap returns the underlying cause, if any.
func (e *NotFoundError) Unwrap() error { return e.cause }

// Is reports whether this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if target == ErrSessionNotFound && e.ResourceType == "session" {
		return true
	}
	return errors.Is(e.cause, target)
}

// AlreadyExistsError represents a resource that already exists.
type AlreadyExistsError struct {
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{ResourceType: resourceType, ResourceID: resourceID}
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s '%s' already exists", e.ResourceType, e.ResourceID)
}

// Is reports whether this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return target == ErrSessionExists && e.ResourceType == "session"
}

// TimeoutError represents an operation that timed out.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	cause     error
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: duration}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout: %s (after %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Unwrap returns the underlying cause, if any.
func (e *TimeoutError) Unwrap() error { return e.cause }

// Is reports whether this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return errors.Is(e.cause, target)
}

// LaunchError represents a failed session launch. Per the lifecycle
// contract, a launch failure leaves no session record behind.
type LaunchError struct {
	Ticket string
	cause  error
}

// NewLaunchError creates a new LaunchError.
func NewLaunchError(ticket string, cause error) *LaunchError {
	return &LaunchError{Ticket: ticket, cause: cause}
}

// Error returns the formatted error message.
func (e *LaunchError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("launch failed for session '%s': %v", e.Ticket, e.cause)
	}
	return fmt.Sprintf("launch failed for session '%s'", e.Ticket)
}

// Unwrap returns the underlying cause, if any.
func (e *LaunchError) Unwrap() error { return e.cause }

// Is reports whether this error matches the target.
func (e *LaunchError) Is(target error) bool {
	if _, ok := target.(*LaunchError); ok {
		return true
	}
	if target == ErrLaunchFailed {
		return true
	}
	return errors.Is(e.cause, target)
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed on the next detection cycle. The monitor uses this to
// decide between retrying a capture and marking a session as errored.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrAdapterTransient) || Is(err, ErrTimeout)
}

// IsNotFound returns true if the error indicates a missing session or
// tmux target. The HTTP surface maps these to 404 responses.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrSessionNotFound) || Is(err, ErrTargetNotFound)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
