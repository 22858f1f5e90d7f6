package fetcher

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure. Callers use it to choose between
// "retry later" and "fix your input" handling.
type Kind string

const (
	// KindCacheUnavailable: a cache backend failure. Non-fatal; the store
	// degrades reads to misses and writes to no-ops, so this kind appears
	// in logs and metrics but is never returned from Fetch.
	KindCacheUnavailable Kind = "cache_unavailable"

	// KindCircuitOpen: the endpoint's breaker is open; no upstream attempt
	// was made. Fail-fast, not retried within the request.
	KindCircuitOpen Kind = "circuit_open"

	// KindCapacityExhausted: no free pool slot. Retryable.
	KindCapacityExhausted Kind = "capacity_exhausted"

	// KindUpstreamTimeout: the upstream call exceeded its bound. Retryable;
	// counts against the breaker.
	KindUpstreamTimeout Kind = "upstream_timeout"

	// KindUpstreamError: the upstream failed transiently. Retryable up to
	// the policy limit.
	KindUpstreamError Kind = "upstream_error"

	// KindValidation: malformed input (locally or as judged by the
	// upstream). Fatal, never retried.
	KindValidation Kind = "validation"

	// KindRetryExhausted: terminal wrapper carrying the last underlying
	// cause after all attempts failed.
	KindRetryExhausted Kind = "retry_exhausted"
)

// Error is a classified fetch failure.
type Error struct {
	Kind     Kind
	Endpoint string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.Endpoint, e.Kind)
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindCapacityExhausted, KindUpstreamTimeout, KindUpstreamError:
		return true
	default:
		return false
	}
}

// KindOf returns the classification of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsCircuitOpen reports whether err is a breaker rejection.
func IsCircuitOpen(err error) bool {
	return KindOf(err) == KindCircuitOpen
}

// IsValidation reports whether err is a malformed-input failure.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsRetryExhausted reports whether err is a terminal retries-exhausted failure.
func IsRetryExhausted(err error) bool {
	return KindOf(err) == KindRetryExhausted
}
