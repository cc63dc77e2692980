package classifier

import (
	"context"
	"errors"
	"fmt"
)

// Code identifies the kind of classification failure.
type Code string

const (
	CodeMalformedResponse Code = "MALFORMED_RESPONSE"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeTimeout           Code = "TIMEOUT"
	CodeUnavailable       Code = "UNAVAILABLE"
	CodeDisabled          Code = "DISABLED"
)

// Error is a structured failure of a classification request.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Malformed wraps a response that could not be decoded or correlated.
func Malformed(msg string, cause error) *Error {
	return &Error{Code: CodeMalformedResponse, Message: msg, Retryable: true, Cause: cause}
}

// RateLimited wraps a rejection by the remote quota.
func RateLimited(cause error) *Error {
	return &Error{Code: CodeRateLimited, Message: "rate limited", Retryable: true, Cause: cause}
}

// Unavailable wraps transport and server-side failures.
func Unavailable(cause error) *Error {
	return &Error{Code: CodeUnavailable, Message: "classifier unavailable", Retryable: true, Cause: cause}
}

// classify normalizes err into an *Error. Deadline overruns become timeouts.
func classify(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Message: "classification request timed out", Retryable: true, Cause: err}
	}
	return Unavailable(err)
}

// CodeOf returns the failure code carried by err, or "" if err is not a classification error.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
