package backend

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNoSession is returned when a call operation runs without a
	// session identifier.
	ErrNoSession = errors.New("backend: no active session")

	// ErrInvalidPhone is returned when a call start is attempted with
	// anything other than a 10-digit phone number.
	ErrInvalidPhone = errors.New("backend: phone number must be 10 digits")
)

// APIError represents an error response from the scheduling backend.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message from the API, if any.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend: API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend: API error %d", e.StatusCode)
}

// IsQuotaExceeded reports a quota or billing rejection (HTTP 402/429).
// The hosted avatar path treats this as the signal to fall back to
// local capture and playback.
func (e *APIError) IsQuotaExceeded() bool {
	return e.StatusCode == 402 || e.StatusCode == 429
}

// IsUnauthorized reports an authentication failure (HTTP 401).
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401
}

// IsServerError reports a server-side failure (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable reports whether the request is worth retrying.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || e.IsServerError()
}
