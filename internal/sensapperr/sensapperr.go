// Package sensapperr defines the error kinds shared across SensApp's ingest,
// storage and query paths. Every error that crosses a package boundary is
// wrapped with Wrap so callers can recover the Kind with As/Is instead of
// string-matching messages.
package sensapperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for HTTP status mapping and retry policy.
type Kind int

const (
	// KindUnknown is never returned by SensApp code; it is the zero value
	// so a missing classification is obvious in tests.
	KindUnknown Kind = iota
	// KindParse marks ingest input that could not be decoded.
	KindParse
	// KindValidation marks a schema invariant violation (type mismatch,
	// invalid sensor name, ...).
	KindValidation
	// KindNotFound marks a missed entity lookup.
	KindNotFound
	// KindConflict marks an identity collision: a uuid re-registered with
	// an incompatible declared type.
	KindConflict
	// KindBackendTransient marks a retryable backend failure (deadlock,
	// serialization failure, connection reset).
	KindBackendTransient
	// KindBackendFatal marks an unrecoverable backend failure.
	KindBackendFatal
	// KindBusy marks pool/queue saturation.
	KindBusy
	// KindTimeout marks a bound (e.g. the sync barrier) being exceeded.
	KindTimeout
	// KindCancelled marks a caller-initiated cancellation; no response
	// should be sent for it.
	KindCancelled
	// KindUnsupported marks an operation a backend's contract names but
	// does not implement.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBackendTransient:
		return "backend_transient"
	case KindBackendFatal:
		return "backend_fatal"
	case KindBusy:
		return "busy"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and an operation label,
// keeping the kind machine-readable instead of baked into the message
// string.
type Error struct {
	Kind Kind
	Op   string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("sensapp: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("sensapp: %s: %v", e.Op, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// New creates a new Error of the given kind for operation op.
func New(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, err: fmt.Errorf(format, args...)}
}

// Wrap attaches kind and op to an existing error. If err is nil, Wrap
// returns nil so it composes with the usual `if err != nil` guard.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, err: err}
}

// KindOf extracts the Kind of err, walking the unwrap chain. Errors that
// were never classified report KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// Retryable reports whether the backend should retry the operation that
// produced err internally before surfacing it.
func Retryable(err error) bool {
	return KindOf(err) == KindBackendTransient
}
