// Package blueflameerr implements the five-way error taxonomy of spec.md §7:
// Transient, Invalid, Conflict, Fatal, and PolicyViolation. Every service in
// the control plane classifies its errors using these sentinel wrappers so
// callers can decide whether to retry, surface, or refuse.
package blueflameerr

import (
	"errors"
	"fmt"
)

// Sentinel errors callers can compare against with errors.Is.
var (
	// ErrTransient wraps network and vector-store timeouts: retried where
	// safe, otherwise surfaced.
	ErrTransient = errors.New("transient failure")

	// ErrInvalid wraps bad input, signature failures, and unknown agents:
	// reported, never retried.
	ErrInvalid = errors.New("invalid input")

	// ErrConflict wraps concurrent writes (Git, duplicate consensus round):
	// the caller re-reads state and decides.
	ErrConflict = errors.New("conflicting state")

	// ErrFatal wraps corrupt identity or an unreadable repository: the
	// process should exit with a clear log.
	ErrFatal = errors.New("fatal error")

	// ErrPolicyViolation wraps a quarantined peer or untrusted manifest:
	// surfaced as a permission refusal.
	ErrPolicyViolation = errors.New("policy violation")
)

// Wrap annotates err with sentinel so errors.Is(wrapped, sentinel) succeeds
// while %w still chains to the original cause.
func Wrap(sentinel, err error, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), sentinel, err)
}

// Transient classifies err as retried-where-safe.
func Transient(err error, format string, args ...any) error {
	return Wrap(ErrTransient, err, format, args...)
}

// Invalid classifies err as a non-retryable input problem.
func Invalid(err error, format string, args ...any) error {
	return Wrap(ErrInvalid, err, format, args...)
}

// Conflict classifies err as a concurrent-state clash requiring re-read.
func Conflict(err error, format string, args ...any) error {
	return Wrap(ErrConflict, err, format, args...)
}

// Fatal classifies err as unrecoverable for this process.
func Fatal(err error, format string, args ...any) error {
	return Wrap(ErrFatal, err, format, args...)
}

// PolicyViolation classifies err as a refusal driven by quarantine or trust
// policy rather than a technical failure.
func PolicyViolation(err error, format string, args ...any) error {
	return Wrap(ErrPolicyViolation, err, format, args...)
}

// ValidationError carries a field-level validation failure, mirroring the
// shape services.ValidationError uses for HTTP-facing input checks.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %q: %s", e.Field, e.Message)
}

// NewValidationError creates a field-scoped validation error, classified as
// Invalid.
func NewValidationError(field, message string) error {
	return Invalid(&ValidationError{Field: field, Message: message}, "validation failed")
}

// IsValidationError reports whether err (or its chain) is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
