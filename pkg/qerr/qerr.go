package qerr

import (
	"errors"
	"fmt"
)

// Code represents a stable error category that callers can switch on.
type Code string

const (
	CodeUnknown           Code = "unknown"
	CodeNotFound          Code = "not_found"
	CodeAlreadyExists     Code = "already_exists"
	CodeCannotCancel      Code = "cannot_cancel"
	CodeAlreadyRunning    Code = "already_running"
	CodeInvalidUpdate     Code = "invalid_update"
	CodeInvalidArgument   Code = "invalid_argument"
	CodeConnectionFailure Code = "connection_failure"
	CodeExecutionTimeout  Code = "execution_timeout"
	CodeRemoteCommand     Code = "remote_command_error"
)

// Error is a simple value type that carries a Code plus the underlying error.
type Error struct {
	Code Code
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// New wraps an error with the provided code. If err is nil a nil is returned.
func New(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, err: err}
}

// Newf builds a coded error from a format string.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, err: fmt.Errorf(format, args...)}
}

// CodeOf returns the code of the outermost coded error in the chain, or
// CodeUnknown when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode helps callers compare codes without type assertions. Wrapped errors
// are unwrapped until a coded error is found.
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsTransient reports whether err is an infrastructure failure worth retrying.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeConnectionFailure, CodeExecutionTimeout:
		return true
	}
	return false
}

// Message returns the underlying error text without the code prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.err != nil {
		return e.err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
