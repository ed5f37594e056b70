package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorType int

const (
	ErrValidation ErrorType = iota
	ErrNotFound
	ErrConflict
	ErrAborted
	ErrTranslation
	ErrUnknown
)

func (t ErrorType) String() string {
	switch t {
	case ErrValidation:
		return "Validation"
	case ErrNotFound:
		return "NotFound"
	case ErrConflict:
		return "Conflict"
	case ErrAborted:
		return "Aborted"
	case ErrTranslation:
		return "Translation"
	default:
		return "Unknown"
	}
}

// Error is the typed error returned by the engine.
type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *Error {
	e := NewError(errorType, message)
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Type, e.Message)}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func IsErrorType(err error, errorType ErrorType) bool {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Type == errorType
	}
	return false
}

// IsAborted reports whether err ended a run because of an abort or cancellation.
func IsAborted(err error) bool {
	return IsErrorType(err, ErrAborted)
}

// errAborted unwraps to context.Canceled so callers outside the engine can
// classify it without importing this package.
func errAborted(cause error) error {
	if cause == nil {
		cause = context.Canceled
	}
	if !errors.Is(cause, context.Canceled) {
		cause = fmt.Errorf("%w: %w", context.Canceled, cause)
	}
	return NewErrorWithCause(ErrAborted, "translation aborted", cause)
}

// SafeExecute runs fn and converts a panic into an ErrUnknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}

// reason is the message recorded on items when err fails their batch.
func reason(err error) string {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		if engineErr.Cause != nil {
			return engineErr.Cause.Error()
		}
		return engineErr.Message
	}
	return err.Error()
}
