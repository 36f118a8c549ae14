// Package meshnet holds the domain types and pure logic shared by the
// coordinator server and its clients: the CIDR address plan, peer and
// association records, endpoints, and the error taxonomy used to map
// failures onto transport-level responses.
package meshnet

import (
	"errors"
	"net/http"
)

// Kind classifies a domain error into one of a small set of outcomes that
// the API layer maps onto HTTP status codes.
type Kind int

const (
	// KindInternal covers database, I/O, and tunnel-driver failures that
	// carry no information safe to return to a caller.
	KindInternal Kind = iota
	KindUnauthorized
	KindNotFound
	KindInvalidQuery
	KindGone
)

// Error is the error type returned by store and authorization code. Callers
// that need to distinguish kinds should use errors.As.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status this error's kind maps to.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidQuery:
		return http.StatusBadRequest
	case KindGone:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func newErr(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Unauthorized marks msg as an unauthorized failure.
func Unauthorized(msg string) error { return newErr(KindUnauthorized, msg, nil) }

// NotFound marks msg as a not-found failure.
func NotFound(msg string) error { return newErr(KindNotFound, msg, nil) }

// InvalidQuery marks msg as a constraint-violation style failure.
func InvalidQuery(msg string) error { return newErr(KindInvalidQuery, msg, nil) }

// Gone marks msg as a double-redemption style failure.
func Gone(msg string) error { return newErr(KindGone, msg, nil) }

// Internal wraps an underlying error (database, I/O, tunnel driver) that
// should not be echoed to the caller verbatim.
func Internal(msg string, err error) error { return newErr(KindInternal, msg, err) }

// KindOf extracts the Kind from err, defaulting to KindInternal for errors
// that did not originate in this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusCode maps any error to the HTTP status its kind corresponds to.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode()
	}
	return http.StatusInternalServerError
}
