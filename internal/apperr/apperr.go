// Package apperr defines the single tagged error type used by the engine's
// business logic. Expected failure modes carry a Kind; handlers map kinds to
// transport status codes at the boundary and nowhere else.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnexpected Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindStale
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindStale:
		return "stale"
	default:
		return "unexpected"
	}
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Fields carries field-name to message pairs for validation failures.
	Fields map[string]string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

func WithField(kind Kind, code, message, field, fieldMessage string) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Fields:  map[string]string{field: fieldMessage},
	}
}

// KindOf reports the Kind of err, or KindUnexpected for anything that is not
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
