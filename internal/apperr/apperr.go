// Package apperr defines the error kinds shared by every studyloop service.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidInput = errors.New("invalid input")
	ErrUpstream     = errors.New("upstream failure")
)

// Error attaches a kind and the failing operation to an error.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NotFound reports a missing entity.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

// InvalidState reports an operation rejected by the entity's lifecycle.
func InvalidState(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidState, Op: op, Err: fmt.Errorf(format, args...)}
}

// InvalidInput reports a malformed argument.
func InvalidInput(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidInput, Op: op, Err: fmt.Errorf(format, args...)}
}

// Upstream wraps a provider failure (LLM, embeddings, notification channel).
func Upstream(op string, err error) error {
	return &Error{Kind: ErrUpstream, Op: op, Err: err}
}

// IsNotFound reports whether err is of kind ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
