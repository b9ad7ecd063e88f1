package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP status mapping and client messaging.
type Kind int

const (
	// Internal is an unexpected store or infrastructure failure.
	Internal Kind = iota
	// Validation is missing or malformed input.
	Validation
	// Conflict is a uniqueness or state violation.
	Conflict
	// InvalidCredentials is a failed login or password check.
	InvalidCredentials
	// InvalidToken is a malformed, badly signed, or expired token.
	InvalidToken
	// Unauthenticated is a missing or rejected bearer token.
	Unauthenticated
	// AccountDisabled is a login attempt against an inactive account.
	AccountDisabled
	// Forbidden is a role or membership policy failure.
	Forbidden
	// NotFound is a missing resource.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Conflict:
		return "conflict"
	case InvalidCredentials:
		return "invalid_credentials"
	case InvalidToken:
		return "invalid_token"
	case Unauthenticated:
		return "unauthenticated"
	case AccountDisabled:
		return "account_disabled"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to its response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case Validation, Conflict, InvalidCredentials:
		return http.StatusBadRequest
	case InvalidToken, Unauthenticated:
		return http.StatusUnauthorized
	case AccountDisabled, Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified application error. Message is safe to show to clients;
// Err carries the underlying cause for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a client-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted client-facing message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors are Internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the client-facing message of a classified error, or a
// generic message for unclassified (internal) errors.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != Internal {
		return appErr.Message
	}
	return "Internal server error"
}
