package http

import (
	"errors"
	"net/http"
)

// APIError is an error reported to an ops API caller. Err stays server
// side and is only logged.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

func NotFound(message string) *APIError {
	return &APIError{Status: http.StatusNotFound, Code: "not_found", Message: message}
}

// NotReady reports that a loop has not produced its first value yet.
func NotReady(message string) *APIError {
	return &APIError{Status: http.StatusServiceUnavailable, Code: "not_ready", Message: message}
}

func Internal(err error) *APIError {
	return &APIError{Status: http.StatusInternalServerError, Code: "internal", Message: "internal error", Err: err}
}

// AsAPIError returns err as an *APIError, wrapping anything else as Internal.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}
