package core

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrUnsupportedDialect = errors.New("unsupported dialect")
	ErrValidationFailed   = errors.New("validation failed")
	ErrGenerationFailed   = errors.New("query generation failed")
	ErrUnsafeQuery        = errors.New("unsafe query")
	ErrExecutionTimeout   = errors.New("query execution timed out")
	ErrDriver             = errors.New("driver error")
	ErrHistoryPersistence = errors.New("history persistence failed")
	ErrSchemaNotFound     = errors.New("schema snapshot not found")
	ErrInvalidAPIKey      = errors.New("invalid api key")
)

// UnsafeQueryError is returned when the deterministic safety check rejects SQL.
type UnsafeQueryError struct {
	SQL    string
	Reason string
}

func (e *UnsafeQueryError) Error() string {
	return fmt.Sprintf("unsafe query: %s", e.Reason)
}

func (e *UnsafeQueryError) Is(target error) bool {
	return target == ErrUnsafeQuery
}

// KindError tags a driver cause with one of the sentinels above. errors.Is
// matches the sentinel and errors.As still reaches the cause.
type KindError struct {
	Kind error
	Err  error
}

func (e *KindError) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *KindError) Is(target error) bool {
	return target == e.Kind
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// WithKind tags err with kind.
func WithKind(kind, err error) error {
	return &KindError{Kind: kind, Err: err}
}

// ValidationError wraps ErrValidationFailed with a field-level message.
func ValidationError(format string, args ...interface{}) error {
	return errors.Wrap(ErrValidationFailed, fmt.Sprintf(format, args...))
}

// Classify maps an execution error onto the structured error kinds.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsafeQuery):
		return ErrorKindUnsafe
	case errors.Is(err, ErrExecutionTimeout):
		return ErrorKindTimeout
	default:
		return ErrorKindDriver
	}
}
