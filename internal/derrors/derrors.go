// Package derrors defines the coded domain errors shared by the lifecycle
// packages. The transport layer maps codes to status codes; everything
// below it only creates, wraps and inspects them.
package derrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeValidation      Code = "validation"
	CodeNotFound        Code = "not_found"
	CodeUnauthorized    Code = "unauthorized"
	CodeForbidden       Code = "forbidden"
	CodeExternalService Code = "external_service"
	CodeSignature       Code = "signature"
	CodeConflict        Code = "conflict"
	CodeInternal        Code = "internal"
)

// Error is a domain error carrying a Code, a message safe to show to the
// caller, and an optional cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return string(e.Code)
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	default:
		return e.Msg + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare per-code sentinels below, so
// errors.Is(err, derrors.ErrNotFound) holds for every not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrValidation      = &Error{Code: CodeValidation}
	ErrNotFound        = &Error{Code: CodeNotFound}
	ErrUnauthorized    = &Error{Code: CodeUnauthorized}
	ErrForbidden       = &Error{Code: CodeForbidden}
	ErrExternalService = &Error{Code: CodeExternalService}
	ErrSignature       = &Error{Code: CodeSignature}
	ErrConflict        = &Error{Code: CodeConflict}
)

// New returns an error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Msg: msg, Err: err}
}

func Validation(format string, args ...any) error {
	return &Error{Code: CodeValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Code: CodeNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) error {
	return &Error{Code: CodeUnauthorized, Msg: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) error {
	return &Error{Code: CodeForbidden, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Code: CodeConflict, Msg: fmt.Sprintf(format, args...)}
}

func Signature(format string, args ...any) error {
	return &Error{Code: CodeSignature, Msg: fmt.Sprintf(format, args...)}
}

// ExternalService wraps a collaborator failure.
func ExternalService(err error, format string, args ...any) error {
	return &Error{Code: CodeExternalService, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Message returns the caller-facing message of the outermost *Error in
// err's chain.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		if de.Msg != "" {
			return de.Msg
		}
		return string(de.Code)
	}
	return ""
}
