package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures surfaced by the daemon.
type ErrorCode string

const (
	CodeBusy                ErrorCode = "busy"
	CodeInvalidArguments    ErrorCode = "invalid_arguments"
	CodeToolExecutionFailed ErrorCode = "tool_execution_failed"
	CodeModelUnavailable    ErrorCode = "model_unavailable"
	CodeDenied              ErrorCode = "denied"
	CodeNotAllowed          ErrorCode = "not_allowed"
	CodeNotFound            ErrorCode = "not_found"
	CodeBadRequest          ErrorCode = "bad_request"
	CodeStepLimit           ErrorCode = "step_limit"
	CodeInvariant           ErrorCode = "invariant_violation"
	CodeInternal            ErrorCode = "internal"
)

// Error is a classified error. Two errors match under errors.Is when their
// codes are equal, so callers can test against the sentinels below.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Info converts the error to its wire form.
func (e *Error) Info() *ErrorInfo {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return &ErrorInfo{Code: e.Code, Message: msg}
}

// Sentinels for errors.Is.
var (
	ErrBusy                = &Error{Code: CodeBusy}
	ErrInvalidArguments    = &Error{Code: CodeInvalidArguments}
	ErrToolExecutionFailed = &Error{Code: CodeToolExecutionFailed}
	ErrModelUnavailable    = &Error{Code: CodeModelUnavailable}
	ErrDenied              = &Error{Code: CodeDenied}
	ErrNotAllowed          = &Error{Code: CodeNotAllowed}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrBadRequest          = &Error{Code: CodeBadRequest}
	ErrInvariant           = &Error{Code: CodeInvariant}
)

// NewError creates a classified error.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error.
func WrapError(code ErrorCode, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of a classified error, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// InfoOf converts any error to its wire form.
func InfoOf(err error) *ErrorInfo {
	var e *Error
	if errors.As(err, &e) {
		return e.Info()
	}
	return &ErrorInfo{Code: CodeInternal, Message: err.Error()}
}
