package mocaca

import (
	"errors"
	"fmt"
)

// HttpError represents an HTTP error with a status code and message.
type HttpError struct {
	Code    int    // HTTP status code
	Message string // Message shown to the client
	Err     error  // Original error, if any
}

// Error implements the error interface.
func (e *HttpError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error, if any.
func (e *HttpError) Unwrap() error {
	return e.Err
}

// NewHttpError creates a new HttpError with the given status code and message.
func NewHttpError(code int, message string) *HttpError {
	return &HttpError{
		Code:    code,
		Message: message,
	}
}

// NewHttpErrorWithError creates a new HttpError that wraps err. The wrapped
// error is logged but never sent to the client.
func NewHttpErrorWithError(code int, message string, err error) *HttpError {
	return &HttpError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// errorStatus picks the status and client-facing message for err. Errors
// that are not an HttpError become 500 unless the handler already chose an
// error status.
func errorStatus(err error, current int) (int, string) {
	var httpErr *HttpError
	if errors.As(err, &httpErr) {
		msg := httpErr.Message
		if msg == "" {
			msg = StatusText(httpErr.Code)
		}
		return httpErr.Code, msg
	}
	if current < 400 {
		current = StatusInternalServerError
	}
	return current, StatusText(current)
}
