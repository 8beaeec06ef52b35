// internal/apperr/apperr.go
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error at the boundary where it is reported to a client.
type Code string

const (
	CodeAuthentication Code = "AUTHENTICATION"
	CodeValidation     Code = "VALIDATION"
	CodeAuthorization  Code = "AUTHORIZATION"
	CodeNotFound       Code = "NOT_FOUND"
	CodeFull           Code = "FULL"
	CodeInternal       Code = "INTERNAL"
	CodeUnknown        Code = "UNKNOWN"
)

// internalMessage is what clients see for anything that is not a classified error.
const internalMessage = "internal server error"

// Error is a classified error. Message is safe to show to the requester; Err holds the
// cause and is only logged.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a formatted client message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err, keeping it as the cause.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func Authentication(format string, args ...any) *Error {
	return New(CodeAuthentication, format, args...)
}

func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

func Authorization(format string, args ...any) *Error {
	return New(CodeAuthorization, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

// Full reports a room that already reached capacity.
func Full(format string, args ...any) *Error {
	return New(CodeFull, format, args...)
}

// Internal wraps a storage or infrastructure failure. The cause never reaches clients.
func Internal(err error, message string) *Error {
	return Wrap(CodeInternal, err, message)
}

// GetCode returns the code of the first *Error in err's chain, or CodeUnknown.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// PublicMessage returns the text that may be sent to the requester for err.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Code == CodeInternal || e.Code == CodeUnknown {
		return internalMessage
	}
	return e.Message
}

// PublicCode is GetCode with unclassified errors reported as internal.
func PublicCode(err error) Code {
	code := GetCode(err)
	if code == CodeUnknown {
		return CodeInternal
	}
	return code
}
