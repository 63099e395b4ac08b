package api

import (
	"errors"
	"fmt"
	"net/http"
)

// InternalErrorMessage is the body sent for failures without a status.
const InternalErrorMessage = "Server Internal Error"

var (
	ErrResponseEnded = errors.New("response already ended")
)

// Error is a handler failure that should reach the client as Status with
// Message as the body. Cause is logged server-side only.
type Error struct {
	Status  int
	Message string
	Cause   error
}

// NewError creates a status-bearing error.
func NewError(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

// WrapError creates a status-bearing error around an internal cause.
func WrapError(status int, message string, cause error) *Error {
	return &Error{Status: status, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusOf returns the status carried by err, or 500.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status != 0 {
		return apiErr.Status
	}
	return http.StatusInternalServerError
}

// panicError carries a recovered panic through the error path.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
