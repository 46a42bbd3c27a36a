// Package errors defines the failure taxonomy of the ingest pipeline.
// Field- and entry-level problems never become errors; step-level problems
// (fetch, parse, store) are isolated per symbol; only configuration errors
// reach the process boundary.
package errors

import (
	"errors"
	"fmt"
)

// ConfigurationError means a required setting is absent or invalid.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// TransientNetworkError is a timeout or connection failure. It is retried.
type TransientNetworkError struct {
	Symbol string
	Err    error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error for %s: %v", e.Symbol, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// RetryExhaustedError is returned once every attempt failed transiently.
type RetryExhaustedError struct {
	Symbol   string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted for %s after %d attempts: %v", e.Symbol, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// FatalProviderError means the provider answered with an explicit error body.
type FatalProviderError struct {
	Symbol  string
	Message string
}

func (e *FatalProviderError) Error() string {
	return fmt.Sprintf("provider error for %s: %s", e.Symbol, e.Message)
}

// MalformedPayloadError means the response body could not be decoded.
type MalformedPayloadError struct {
	Symbol string
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload for %s: %v", e.Symbol, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage failure. The batch it belongs to was rolled back.
type PersistenceError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence error during %s for %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var t *TransientNetworkError
	return errors.As(err, &t)
}

// IsConfiguration reports whether err is a configuration failure.
func IsConfiguration(err error) bool {
	var c *ConfigurationError
	return errors.As(err, &c)
}
