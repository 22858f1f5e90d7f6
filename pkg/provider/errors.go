package provider

import (
	"fmt"
)

// ErrorClass represents a classification of upstream call errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors. Not retryable.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors. Retryable.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses. Retryable.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network and timeout errors. Retryable.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError is an upstream error with its classification.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error class is worth retrying.
func (e *APIError) Retryable() bool {
	switch e.Class {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
