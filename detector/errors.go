package detector

import (
	"fmt"
)

// ConfigurationError reports a request that cannot be sent as configured. It is not retried.
type ConfigurationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// UpstreamError reports a failed call to the vision endpoint.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("vision endpoint: %v", e.Err)
	default:
		return fmt.Sprintf("vision endpoint error (status %d): %s", e.StatusCode, e.Body)
	}
}

// Unwrap returns the underlying cause.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the status is worth retrying.
func (e *UpstreamError) Retryable() bool {
	return e.Err != nil || e.StatusCode == 429 || e.StatusCode >= 500
}
