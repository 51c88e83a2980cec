// Package errdefs defines the error kinds shared across the tracker.
// Callers branch on the kind (HTTP status mapping, retry decisions) with
// the Is* helpers instead of matching error strings.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that must branch on it.
type Kind int

const (
	// KindValidation marks caller mistakes: malformed addresses,
	// unsupported chains, duplicate wallets. Never retried.
	KindValidation Kind = iota + 1

	// KindConfiguration marks a component without a usable endpoint.
	// Fatal for that component until reconfigured.
	KindConfiguration

	// KindTransient marks timeouts, connection resets and 5xx responses.
	// Eligible for retry.
	KindTransient

	// KindNotFound marks lookups of unknown resources.
	KindNotFound

	// KindPersistence marks database failures. The enclosing transaction
	// is rolled back before the error is surfaced.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration"
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error pairs a Kind with an underlying cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the classification of the error.
func (e *Error) Kind() Kind { return e.kind }

// New creates a classified error.
func New(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err returns nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// KindOf returns the kind of err, or 0 when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return 0
}

func IsValidation(err error) bool    { return KindOf(err) == KindValidation }
func IsConfiguration(err error) bool { return KindOf(err) == KindConfiguration }
func IsTransient(err error) bool     { return KindOf(err) == KindTransient }
func IsNotFound(err error) bool      { return KindOf(err) == KindNotFound }
func IsPersistence(err error) bool   { return KindOf(err) == KindPersistence }
