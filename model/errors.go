package model

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError wraps a provider HTTP failure so callers can classify it by
// status code without knowing the vendor SDK.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

// Error implements error.
func (e *APIError) Error() string {
	status := http.StatusText(e.StatusCode)
	if e.Err == nil {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.StatusCode, status)
	}

	return fmt.Sprintf("%s: %d %s: %v", e.Provider, e.StatusCode, status, e.Err)
}

// Unwrap returns the wrapped provider error.
func (e *APIError) Unwrap() error { return e.Err }

// StatusCode extracts the HTTP status of err when it wraps an APIError.
func StatusCode(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}

	return 0, false
}
