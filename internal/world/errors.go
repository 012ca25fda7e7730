package world

import "fmt"

// ErrorKind classifies input-handler failures for the journal's returnValue.
type ErrorKind string

const (
	ErrInvalidInput ErrorKind = "invalidInput"
	ErrRateLimited  ErrorKind = "rateLimited"
	ErrNotFound     ErrorKind = "notFound"
	ErrConflict     ErrorKind = "conflict"
	ErrTimedOut     ErrorKind = "timedOut"
	ErrInternal     ErrorKind = "internal"
)

// Error is the failure shape recorded on an input. Handlers return these so
// the engine can store kind+message without string matching.
type Error struct {
	Kind ErrorKind `json:"kind"`
	Msg  string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return Errorf(ErrNotFound, format, args...)
}

func InvalidInput(format string, args ...any) *Error {
	return Errorf(ErrInvalidInput, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return Errorf(ErrConflict, format, args...)
}

// AsError coerces any handler error to *Error, defaulting to internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if we, ok := err.(*Error); ok {
		return we
	}
	return &Error{Kind: ErrInternal, Msg: err.Error()}
}
