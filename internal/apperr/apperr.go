// Package apperr defines the error kinds shared by the security services.
// Callers test the kind with errors.Is(err, apperr.ErrNotFound) and friends.
package apperr

import (
	"errors"
)

var (
	// ErrValidation marks malformed input (missing session header, bad date range, weak password).
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an absent resource, or one the caller does not own.
	ErrNotFound = errors.New("not found")
	// ErrAuthorization marks a caller lacking the role for an operation.
	ErrAuthorization = errors.New("not authorized")
	// ErrStorage marks an unreachable or failing audit, session or account store.
	ErrStorage = errors.New("storage unavailable")
	// ErrRateLimited marks a request rejected by a rate limiter.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrAccountLocked marks an operation refused because the account is locked.
	ErrAccountLocked = errors.New("account locked")
	// ErrUnauthenticated marks bad credentials or a missing identity.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Error carries a kind, a client-safe message and an optional cause.
type Error struct {
	kind    error
	msg     string
	cause   error
	Details []string
}

func (e *Error) Error() string {
	if e.cause != nil && e.msg != "" {
		return e.msg + ": " + e.cause.Error()
	}
	if e.msg != "" {
		return e.msg
	}
	if e.cause != nil {
		return e.kind.Error() + ": " + e.cause.Error()
	}
	return e.kind.Error()
}

// Message returns the client-safe message without the cause.
func (e *Error) Message() string {
	if e.msg != "" {
		return e.msg
	}
	return e.kind.Error()
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool { return target == e.kind }

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the sentinel kind.
func (e *Error) Kind() error { return e.kind }

// Validation returns an ErrValidation error with msg and optional details.
func Validation(msg string, details ...string) error {
	return &Error{kind: ErrValidation, msg: msg, Details: details}
}

// NotFound returns an ErrNotFound error.
func NotFound(msg string) error {
	return &Error{kind: ErrNotFound, msg: msg}
}

// Authorization returns an ErrAuthorization error.
func Authorization(msg string) error {
	return &Error{kind: ErrAuthorization, msg: msg}
}

// Unauthenticated returns an ErrUnauthenticated error.
func Unauthenticated(msg string) error {
	return &Error{kind: ErrUnauthenticated, msg: msg}
}

// RateLimited returns an ErrRateLimited error.
func RateLimited(msg string) error {
	return &Error{kind: ErrRateLimited, msg: msg}
}

// AccountLocked returns an ErrAccountLocked error.
func AccountLocked(msg string) error {
	return &Error{kind: ErrAccountLocked, msg: msg}
}

// Storage wraps cause as ErrStorage. A nil cause returns nil; an error that already is ErrStorage is returned as is.
func Storage(op string, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, ErrStorage) {
		return cause
	}
	return &Error{kind: ErrStorage, msg: op, cause: cause}
}

// DetailsOf returns the details attached to err, if any.
func DetailsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// MessageOf returns a client-safe message for err. Unknown errors map to "internal error".
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return "internal error"
}
