package xrbridge

import (
	"errors"
	"net/http"
	"strings"
)

// Error is the xrbridge error domain type.
//
// Errors coming from xrbridge components should be able to be inspected as
// ([errors.As]) an *Error at some point in the error chain.
//
// Implementers of components should create an Error at the system boundary
// (e.g. when talking to an upstream or reading a snapshot file) and
// intermediate layers should not wrap in another Error except to add
// additional [ErrorKind] information. That is to say, use [fmt.Errorf] with a
// "%w" verb in preference to creating a containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

// Assert this implements all the cool features.
var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	if e.Kind.Status() != 0 {
		b.WriteString(string(e.Kind))
	} else {
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] over a specific error.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents classes of errors to be checked against.
//
// The kind strings double as the RFC 9457 problem "type" suffixes emitted on
// the wire. If an error is unsure which kind to use, ErrInternal should be
// used.
type ErrorKind string

// Defined error kinds.
var (
	ErrInvalidData    = ErrorKind("invalid_data")        // malformed flag or value
	ErrCapability     = ErrorKind("capability_error")    // unknown flag or attribute
	ErrNotFound       = ErrorKind("entity_not_found")    // missing group/resource/version
	ErrAPINotFound    = ErrorKind("api_not_found")       // unknown path
	ErrUnauthorized   = ErrorKind("unauthorized")        // missing or bad credentials
	ErrForbidden      = ErrorKind("forbidden")           // authenticated but not allowed
	ErrInternal       = ErrorKind("internal_error")      // non-specific internal error
	ErrUnavailable    = ErrorKind("service_unavailable") // downstream unreachable or budget exhausted
	ErrGatewayTimeout = ErrorKind("gateway_timeout")     // proxy deadline exceeded
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}

// Status reports the HTTP status code corresponding to the kind, or 0 for an
// unknown kind.
func (e ErrorKind) Status() int {
	switch e {
	case ErrInvalidData, ErrCapability:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound, ErrAPINotFound:
		return http.StatusNotFound
	case ErrInternal:
		return http.StatusInternalServerError
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	case ErrGatewayTimeout:
		return http.StatusGatewayTimeout
	}
	return 0
}
