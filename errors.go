package lattice

import (
	"fmt"
	"net/http"
)

// Error is a typed error bearing an HTTP status code, a message and
// optional response headers. It is the currency of every deliberate
// HTTP-level outcome raised by a resource, a filter, or the framework
// itself.
//
// Grounded on air.go's NewHTTPError-shaped error in binder.go, widened
// with Headers to satisfy the auth-scheme challenge requirement
// (spec.md section 7).
type Error struct {
	Status  int
	Message string
	Headers http.Header
}

// NewError returns a new *Error with the status and a message built
// from format and args the way fmt.Errorf does.
func NewError(status int, format string, args ...interface{}) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	return &Error{Status: status, Message: msg}
}

// WithHeader attaches a response header to the error and returns it for
// chaining, e.g. NewError(405, "...").WithHeader("Allow", "GET, HEAD").
func (e *Error) WithHeader(name, value string) *Error {
	if e.Headers == nil {
		e.Headers = http.Header{}
	}

	e.Headers.Add(name, value)

	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return http.StatusText(e.Status)
}

// AuthSchemeError is an authentication failure that a resource or
// filter can return. It carries an optional WWW-Authenticate challenge
// and always maps to 401 Unauthorized (spec.md section 7). The schemes
// in package auth return their own *auth.SchemeError instead, which
// normalizeError does not map to 401.
type AuthSchemeError struct {
	Scheme    string
	Message   string
	Challenge string
}

func (e *AuthSchemeError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "authentication failed"
}

// ParserError wraps a failure inside a codec parser or encoder. When it
// surfaces from Request.Body it is mapped to 415 Unsupported Media Type
// (spec.md section 7).
type ParserError struct {
	ContentType string
	Err         error
}

func (e *ParserError) Error() string {
	return fmt.Sprintf("lattice: failed to parse %s: %v", e.ContentType, e.Err)
}

func (e *ParserError) Unwrap() error { return e.Err }

// Sentinel errors for the remaining taxonomy entries named in
// spec.md section 7. Each is translated to its status code by
// normalizeError.
var (
	// ErrNotFound means no route matched the request path.
	ErrNotFound = NewError(http.StatusNotFound, "not found")

	// ErrPayloadTooLarge means the request body exceeded the
	// configured or requested size limit.
	ErrPayloadTooLarge = NewError(http.StatusRequestEntityTooLarge, "payload too large")
)

// MethodNotAllowedError is raised when a route matched by path but not
// by method; it always carries the Allow header (spec.md section 4.6
// step 5 and section 7).
type MethodNotAllowedError struct {
	Allow []string
}

func (e *MethodNotAllowedError) Error() string {
	return http.StatusText(http.StatusMethodNotAllowed)
}

// normalizeError maps any error raised during dispatch to an *Error,
// following the propagation order described in spec.md section 7: a
// resource's own catch runs first (handled by the caller before this
// function is reached), then the service-wide handler (also handled
// by the caller), then this default mapping.
func normalizeError(err error) *Error {
	switch e := err.(type) {
	case *Error:
		return e
	case *AuthSchemeError:
		he := NewError(http.StatusUnauthorized, e.Error())
		if e.Challenge != "" {
			he.WithHeader("WWW-Authenticate", e.Challenge)
		}

		return he
	case *ParserError:
		return NewError(http.StatusUnsupportedMediaType, e.Error())
	case *MethodNotAllowedError:
		he := NewError(http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
		if len(e.Allow) > 0 {
			allow := e.Allow[0]
			for _, m := range e.Allow[1:] {
				allow += ", " + m
			}

			he.WithHeader("Allow", allow)
		}

		return he
	default:
		return NewError(http.StatusInternalServerError, err.Error())
	}
}
