package client

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors returned by the adapter.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during
	// the retry delay.
	ErrContextCancelled = errors.New("context cancelled")
)

// StatusError reports a non-success HTTP status from the API.
type StatusError struct {
	StatusCode int
	Status     string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Status)
}

// ParseError reports a response body that does not match the expected schema.
// Callers consume it via their degrade-to-empty policy.
type ParseError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Endpoint, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// DecodeJSON unmarshals a successful result body into v. A degraded result or
// a body that does not match the schema yields a *ParseError; the caller
// decides how to degrade.
func DecodeJSON(res Result, endpoint string, v any) error {
	if !res.OK() {
		return &ParseError{Endpoint: endpoint, Err: res.Err}
	}
	if err := json.Unmarshal(res.Body, v); err != nil {
		return &ParseError{Endpoint: endpoint, Err: err}
	}
	return nil
}
