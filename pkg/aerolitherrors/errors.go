// Package aerolitherrors provides the structured error system used across
// AerolithDB's core: every public operation returns either a result or an
// *Error carrying a kind, a retry hint, and a correlation id so callers can
// always distinguish retryable from terminal failures.
package aerolitherrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the category of failure, matching the error kinds in
// the core's error handling design.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindVersionMismatch   Kind = "version_mismatch"
	KindConflict          Kind = "conflict"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindUnavailable       Kind = "unavailable"
	KindCorruption        Kind = "corruption"
	KindPartitionReadOnly Kind = "partition_read_only"
	KindTimeout           Kind = "timeout"
	KindInternal          Kind = "internal"
	KindTooLarge          Kind = "too_large"
)

// Retryable reports whether operations failing with this kind may be
// retried by the caller. Unavailable, Timeout and Conflict are retryable;
// everything else is terminal.
func (k Kind) Retryable() bool {
	switch k {
	case KindUnavailable, KindTimeout, KindConflict:
		return true
	default:
		return false
	}
}

// Error is the structured error type returned by every public operation.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	RetryAfter    time.Duration
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, aerolitherrors.New(aerolitherrors.KindConflict, "")) style checks by
// comparing kinds when the target is itself an *Error.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Retryable reports whether err carries a retryable Kind. Non-Error values
// are treated as non-retryable.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.Retryable()
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithCorrelationID attaches a correlation id for cross-system tracing.
func (e *Error) WithCorrelationID(id string) *Error {
	e.CorrelationID = id
	return e
}

// WithRetryAfter attaches a retry-after hint for retryable errors.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// KindOf extracts the Kind from err, returning KindInternal if err does not
// carry a structured kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// NotFound, VersionMismatch, Conflict, QuotaExceeded, Unavailable,
// Corruption, PartitionReadOnly, Timeout and Internal are convenience
// constructors for the error kinds named in the core's error handling design.
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func VersionMismatch(format string, args ...interface{}) *Error {
	return New(KindVersionMismatch, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func QuotaExceeded(format string, args ...interface{}) *Error {
	return New(KindQuotaExceeded, fmt.Sprintf(format, args...))
}

func Unavailable(format string, args ...interface{}) *Error {
	return New(KindUnavailable, fmt.Sprintf(format, args...))
}

func Corruption(format string, args ...interface{}) *Error {
	return New(KindCorruption, fmt.Sprintf(format, args...))
}

func PartitionReadOnly(format string, args ...interface{}) *Error {
	return New(KindPartitionReadOnly, fmt.Sprintf(format, args...))
}

func Timeout(format string, args ...interface{}) *Error {
	return New(KindTimeout, fmt.Sprintf(format, args...))
}

func Internal(format string, args ...interface{}) *Error {
	return New(KindInternal, fmt.Sprintf(format, args...))
}

// TooLarge reports that a document payload exceeded the configured size
// limit for put_document.
func TooLarge(format string, args ...interface{}) *Error {
	return New(KindTooLarge, fmt.Sprintf(format, args...))
}
