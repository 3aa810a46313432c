package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the transport layer can report it without
// inspecting messages.
type Kind string

const (
	KindIO              Kind = "IO_FAILURE"
	KindInvalidRange    Kind = "INVALID_RANGE"
	KindArchiveCorrupt  Kind = "ARCHIVE_CORRUPT"
	KindStorage         Kind = "STORAGE_FAILURE"
	KindMalformedStatus Kind = "MALFORMED_STATUS"
	KindPrecondition    Kind = "PRECONDITION_VIOLATED"
	KindNotFound        Kind = "NOT_FOUND"
	KindInvalidKey      Kind = "INVALID_CONTENT_KEY"
)

// Error is a structured error carrying a kind, a user-facing message and
// the underlying cause.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Key     string `json:"key,omitempty"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Key != "" {
		return fmt.Sprintf("[%s] %s (key: %s)", e.Kind, msg, e.Key)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.New(k, ""))
// works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithKey attaches the content key the failure belongs to.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or KindIO for
// unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIO
}

// MessageOf returns the user-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Cause)
		}
		return e.Message
	}
	return err.Error()
}
