// Package errors adds cheap context wrapping on top of the standard
// library. Wrapped errors keep their chain intact for errors.Is/As.
package errors

import (
	"errors"
	"fmt"
)

// New mirrors the standard constructor so callers need one import.
func New(text string) error {
	return errors.New(text)
}

// Wrap annotates err with a context prefix. A nil err stays nil and an
// empty prefix returns err untouched.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return &contextError{cause: err, context: context}
}

// Wrapf annotates err with a formatted context prefix.
func Wrapf(err error, format string, args ...any) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

type contextError struct {
	cause   error
	context string
}

func (e *contextError) Error() string {
	return e.context + ": " + e.cause.Error()
}

func (e *contextError) Unwrap() error {
	return e.cause
}
