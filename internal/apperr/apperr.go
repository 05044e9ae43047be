// Package apperr defines the typed failure taxonomy shared by every stage
// of the content-view pipeline and the HTTP surface. Each stage either
// returns one of these codes or lets an unexpected error escape, which the
// caller wraps into CodeInternal.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeUnauthenticated  Code = "unauthenticated"
	CodeNotFound         Code = "not-found"
	CodePermissionDenied Code = "permission-denied"
	CodeInvalidArgument  Code = "invalid-argument"
	CodeInternal         Code = "internal"
)

// Error carries a stable code alongside a human-readable message.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause. If err is
// already an *Error its code wins, so codes chosen close to the failure
// are never overwritten on the way up.
func Wrap(err error, code Code, msg string) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		code = ae.Code
	}
	return &Error{Code: code, Msg: msg, Err: err}
}

// Internal wraps an unexpected error into CodeInternal, preserving an
// existing code if one is present in the chain.
func Internal(err error, msg string) *Error {
	return Wrap(err, CodeInternal, msg)
}

// CodeOf extracts the code from an error chain, defaulting to CodeInternal
// for anything untyped.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

func Is(err error, code Code) bool { return CodeOf(err) == code }

// HTTPStatus maps a failure code to the wire status for JSON responses.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
