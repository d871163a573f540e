// Package errors defines the sentinel errors shared by the index core and
// the AppError wrapper used to attach context to them.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput    = errors.New("empty input")
	ErrStopword      = errors.New("token is a stopword")
	ErrNotFound      = errors.New("not found")
	ErrIO            = errors.New("index i/o failure")
	ErrCorruptRecord = errors.New("corrupt record")
	ErrInvalidInput  = errors.New("invalid input")
	ErrClosed        = errors.New("index closed")
)

type AppError struct {
	Err     error
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// IOf wraps cause as an ErrIO AppError. Both ErrIO and cause stay reachable
// through errors.Is.
func IOf(cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %w", Newf(ErrIO, format, args...), cause)
}

// Recoverable reports whether err belongs to a class the index absorbs
// locally (log and skip) instead of failing the caller.
func Recoverable(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrEmptyInput), errors.Is(err, ErrStopword),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrIO),
		errors.Is(err, ErrCorruptRecord):
		return true
	default:
		return false
	}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
