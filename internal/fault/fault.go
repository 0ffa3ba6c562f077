// Package fault defines the coded errors shared by the job pipeline.
//
// Every error that crosses a component boundary carries a stable Code and
// a retriability flag. Input errors surface synchronously to callers;
// transient errors are converted to broker nacks by the worker.
package fault

import (
	"errors"
	"fmt"
)

// Code identifies an error condition with a stable, user-visible name.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeActionNotFound     Code = "ACTION_NOT_FOUND"
	CodeActionNotSupported Code = "ACTION_NOT_SUPPORTED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeIllegalState       Code = "ILLEGAL_STATE"
	CodeStateMismatch      Code = "STATE_MISMATCH"
	CodeStorage            Code = "STORAGE_ERROR"
	CodeTimeout            Code = "TIMEOUT"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeProcessing         Code = "PROCESSING_ERROR"
	CodeStalled            Code = "STALLED"
)

// Error is a coded pipeline error.
type Error struct {
	Code      Code
	Message   string
	Retriable bool
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is match on equal codes.
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return fe.Code == e.Code
	}
	return false
}

// New constructs a non-retriable coded error.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a non-retriable coded error around a cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Transient constructs a retriable coded error around a cause.
// The worker converts these into broker nacks with backoff.
func Transient(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Retriable: true, cause: cause}
}

// NotFound is shorthand for a NOT_FOUND error.
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

// Validation is shorthand for a VALIDATION_ERROR.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

// IllegalState is shorthand for an ILLEGAL_STATE error.
func IllegalState(format string, args ...any) *Error {
	return New(CodeIllegalState, format, args...)
}

// CodeOf extracts the code from err, or CodeProcessing when err carries none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeProcessing
}

// IsRetriable reports whether err is marked retriable.
// Errors without a code are not retriable.
func IsRetriable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retriable
	}
	return false
}
