// Package errs defines the engine's error taxonomy: every error kind a
// caller needs to branch on implements Kind() so callers can errors.As to
// the concrete type without string matching.
package errs

import "fmt"

// Kind names one of the error categories from the error-handling design:
// LoadError, SchemaError, DuplicateIdError, PropertyParseError,
// EvaluationError, ReloadError, SchemaMismatchError.
type Kind string

const (
	KindLoad            Kind = "LoadError"
	KindSchema          Kind = "SchemaError"
	KindDuplicateId      Kind = "DuplicateIdError"
	KindPropertyParse    Kind = "PropertyParseError"
	KindEvaluation       Kind = "EvaluationError"
	KindReload           Kind = "ReloadError"
	KindSchemaMismatch   Kind = "SchemaMismatchError"
)

// Error is the concrete type every engine error wraps into, carrying its
// Kind and an optional underlying cause.
type Error struct {
	ErrKind Kind
	Msg     string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrKind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.ErrKind, e.Msg)
}

func (e *Error) Kind() Kind   { return e.ErrKind }
func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{ErrKind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{ErrKind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	type kinder interface{ Kind() Kind }
	for err != nil {
		if k, ok := err.(kinder); ok {
			return k.Kind(), true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return "", false
}
