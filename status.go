package mocaca

import "net/http"

// Status codes the server and its handlers produce.
const (
	StatusOK                           = http.StatusOK
	StatusCreated                      = http.StatusCreated
	StatusAccepted                     = http.StatusAccepted
	StatusNoContent                    = http.StatusNoContent
	StatusPartialContent               = http.StatusPartialContent
	StatusNotModified                  = http.StatusNotModified
	StatusBadRequest                   = http.StatusBadRequest
	StatusUnauthorized                 = http.StatusUnauthorized
	StatusForbidden                    = http.StatusForbidden
	StatusNotFound                     = http.StatusNotFound
	StatusMethodNotAllowed             = http.StatusMethodNotAllowed
	StatusConflict                     = http.StatusConflict
	StatusLengthRequired               = http.StatusLengthRequired
	StatusRequestEntityTooLarge        = http.StatusRequestEntityTooLarge
	StatusRequestedRangeNotSatisfiable = http.StatusRequestedRangeNotSatisfiable
	StatusTooManyRequests              = http.StatusTooManyRequests
	StatusRequestHeaderFieldsTooLarge  = http.StatusRequestHeaderFieldsTooLarge
	StatusInternalServerError          = http.StatusInternalServerError
	StatusServiceUnavailable           = http.StatusServiceUnavailable
)

const unknownStatusCode = "Unknown Status Code"

// StatusText returns the reason phrase for statusCode.
func StatusText(statusCode int) string {
	if text := http.StatusText(statusCode); text != "" {
		return text
	}
	return unknownStatusCode
}

// bodyAllowed reports whether a response with this status may carry a body.
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == StatusNoContent, status == StatusNotModified:
		return false
	}
	return true
}
