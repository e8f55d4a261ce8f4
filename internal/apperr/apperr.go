// Package apperr defines the error kinds that cross the HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindNotConfigured
	KindNotFound
	KindProtected
	KindRateLimited
	KindUpstream
	KindUpstreamAuth
	KindPartial
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindNotConfigured:
		return "not_configured"
	case KindNotFound:
		return "not_found"
	case KindProtected:
		return "protected"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream"
	case KindUpstreamAuth:
		return "upstream_auth"
	case KindPartial:
		return "partial"
	default:
		return "internal"
	}
}

// Error is an application error. Message is shown to the caller verbatim,
// Err is kept for logging only.
type Error struct {
	Kind    Kind
	Message string
	// Status is the upstream HTTP status for upstream kinds, 0 otherwise.
	Status int
	Err    error
	// Applied lists the steps that completed before a partial failure.
	Applied []string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to the status returned to the browser.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindNotConfigured:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden, KindProtected:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		// Upstream 401/403 would be read as our own auth failure by the UI.
		if e.Status >= 400 && e.Status < 500 && e.Status != http.StatusUnauthorized && e.Status != http.StatusForbidden {
			return e.Status
		}
		return http.StatusBadGateway
	case KindUpstreamAuth, KindPartial:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Auth(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return &Error{Kind: KindAuth, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func NotConfigured() *Error {
	return &Error{
		Kind:    KindNotConfigured,
		Message: "DigitalOcean configuration is incomplete. Please configure your credentials in Settings.",
	}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Protected(name, recordType string) *Error {
	return &Error{
		Kind:    KindProtected,
		Message: fmt.Sprintf("Root %s records (%s) are managed by DigitalOcean and cannot be modified", recordType, name),
	}
}

func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimited, Message: message, Status: http.StatusTooManyRequests}
}

func Upstream(status int, message string, err error) *Error {
	if status == http.StatusTooManyRequests {
		return &Error{Kind: KindRateLimited, Message: message, Status: status, Err: err}
	}
	return &Error{Kind: KindUpstream, Message: message, Status: status, Err: err}
}

func UpstreamAuth(status int, err error) *Error {
	return &Error{
		Kind:    KindUpstreamAuth,
		Message: "Authentication failed. Please check your API token.",
		Status:  status,
		Err:     err,
	}
}

// Partial reports a multi-call sequence that stopped after some upstream
// changes were already applied.
func Partial(message string, applied []string, err error) *Error {
	return &Error{Kind: KindPartial, Message: message, Applied: applied, Err: err}
}

func Internal(message string, err error) *Error {
	if message == "" {
		message = "internal error"
	}
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}
