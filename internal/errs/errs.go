// Package errs defines the error-kind taxonomy shared across the engine.
// Domain errors are plain values (never panics) that implement Kind(); the
// rate-limit controller, pipeline stages and driver branch on Kind() rather
// than on concrete types so a new transient-error source never requires
// touching call sites outside the package that raises it.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorises an error for propagation-policy decisions (spec §7):
// per-unit errors never abort neighbours, per-session errors suspend only
// that session, driver-level errors abort the run before any worker starts.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorisation
	KindRateLimit
	KindTransientIO
	KindResource
	KindCancellation
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorisation:
		return "authorisation"
	case KindRateLimit:
		return "rate_limit"
	case KindTransientIO:
		return "transient_io"
	case KindResource:
		return "resource"
	case KindCancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// Kinded is implemented by every domain error so callers can classify an
// error without a type switch over every concrete error type in the tree.
type Kinded interface {
	error
	Kind() Kind
}

// kindError is the concrete Kinded implementation used by New/Wrap.
type kindError struct {
	kind Kind
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *kindError) Unwrap() error { return e.err }
func (e *kindError) Kind() Kind    { return e.kind }

// New builds a Kinded error carrying no wrapped cause.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Wrap attaches kind to cause, preserving it for errors.Unwrap/errors.Is.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &kindError{kind: kind, msg: msg, err: cause}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind() == kind
	}
	return false
}

// KindOf returns the Kind of err, or KindUnknown if err does not implement
// Kinded anywhere in its Unwrap chain.
func KindOf(err error) Kind {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}
