package odontology

import (
	"errors"
	"fmt"
)

// Kind classifies a lifecycle failure so callers can react without string matching.
type Kind string

const (
	KindInvalidTransition Kind = "invalid_transition"
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindAuthorization     Kind = "authorization"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// Error is the structured error reported to callers: a kind plus a human message.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is reports whether target is the sentinel for the same kind, so that
// errors.Is(err, ErrConflict) holds for every conflict regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is matching.
var (
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrAuthorization     = &Error{Kind: KindAuthorization}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition builds an error for a transition not permitted from the current status.
func InvalidTransition(format string, args ...interface{}) *Error {
	return newError(KindInvalidTransition, format, args...)
}

// Validation builds an error for missing or malformed input.
func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

// Conflict builds an error for a state that moved underneath the caller.
func Conflict(format string, args ...interface{}) *Error {
	return newError(KindConflict, format, args...)
}

// Unauthorized builds an error for an actor lacking the capability for an action.
func Unauthorized(format string, args ...interface{}) *Error {
	return newError(KindAuthorization, format, args...)
}

// NotFound builds an error for a missing entity.
func NotFound(entity string, id interface{}) *Error {
	return newError(KindNotFound, "%s %v not found", entity, id)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError converts any error into its structured form. Errors that do not
// carry a kind are reported as internal with their original message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: err.Error()}
}
