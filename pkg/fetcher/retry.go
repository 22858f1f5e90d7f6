package fetcher

import (
	"time"
)

// RetryConfig holds the retry policy for one logical request.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first).
	MaxAttempts int

	// BaseBackoff is the delay before the first retry; attempt n waits
	// BaseBackoff * 2^n.
	BaseBackoff time.Duration

	// MaxBackoff caps the computed delay.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// backoffFor computes the delay after the given zero-based attempt. The
// retry loop itself is a plain loop over attempts in Fetcher; keeping the
// delay computation pure makes the state machine trivial to verify.
func (c RetryConfig) backoffFor(attempt int) time.Duration {
	delay := c.BaseBackoff << uint(attempt)
	if c.MaxBackoff > 0 && delay > c.MaxBackoff {
		delay = c.MaxBackoff
	}
	return delay
}
