// Package apperr defines the operational error taxonomy shared by all
// services. Services return *Error values; the HTTP boundary maps Kind to a
// transport status and never echoes internal detail to the client.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an operational (expected, user-facing) failure.
type Kind int

const (
	// Validation covers malformed input and business-rule violations
	// (expired OTP, invite not pending, bad MFA method).
	Validation Kind = iota
	// Authentication covers bad credentials and invalid, expired or
	// revoked tokens.
	Authentication
	// Authorization covers role-permission failures.
	Authorization
	// NotFound covers absent entities.
	NotFound
	// Conflict covers uniqueness violations (duplicate email, slug).
	Conflict
)

// Error carries a kind and a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	err     error // optional wrapped cause, for logs only
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.err }

// Is makes errors.Is match on kind so call sites can compare against the
// package sentinels below without caring about the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// New builds an operational error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an operational error around an internal cause. The cause is
// reachable via errors.Unwrap for logging but never serialized to clients.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, err: err}
}

// Kind sentinels for errors.Is checks.
var (
	ErrValidation     = &Error{Kind: Validation}
	ErrAuthentication = &Error{Kind: Authentication}
	ErrAuthorization  = &Error{Kind: Authorization}
	ErrNotFound       = &Error{Kind: NotFound}
	ErrConflict       = &Error{Kind: Conflict}
)

// KindOf extracts the kind of an operational error. The second return is
// false for unexpected internal faults, which callers must map to a generic
// 500 without detail leakage.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// HTTPStatus maps a kind to its transport status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case Authentication:
		return http.StatusUnauthorized
	case Authorization:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
