package parseapi

import "time"

// Backoff schedule for retryable failures. The delay depends on how many
// attempts have already failed, capped at retryDelayCap.
const (
	retryDelayFirst  = 500 * time.Millisecond
	retryDelaySecond = time.Second
	retryDelayCap    = 2 * time.Second

	// DefaultMaxRetries is the number of retries beyond the initial attempt.
	DefaultMaxRetries = 2
)

// Decision is the policy's verdict after a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// RetryPolicy classifies an attempt outcome as retryable or fatal and
// computes the delay before the next attempt.
type RetryPolicy struct {
	maxRetries int
}

// NewRetryPolicy returns a policy allowing maxRetries retries beyond the
// initial attempt. Negative values fall back to the default.
func NewRetryPolicy(maxRetries int) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return RetryPolicy{maxRetries: maxRetries}
}

// MaxAttempts is the total attempt budget including the first call.
func (p RetryPolicy) MaxAttempts() int {
	return p.maxRetries + 1
}

// Decide returns the verdict for a failure on the given attempt (1-based).
// Fatal classes fail on first occurrence; transient failures retry until the
// attempt budget is spent.
func (p RetryPolicy) Decide(attempt int, err error) Decision {
	if err == nil {
		return Decision{}
	}
	if ClassOf(err) != ClassTransient {
		return Decision{Retry: false}
	}
	if attempt >= p.MaxAttempts() {
		return Decision{Retry: false}
	}
	return Decision{Retry: true, Delay: backoffDelay(attempt)}
}

// backoffDelay returns the delay after the given failed attempt: 0.5s after
// the first, 1.0s after the second, 2.0s from the third on.
func backoffDelay(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return retryDelayFirst
	case attempt == 2:
		return retryDelaySecond
	default:
		return retryDelayCap
	}
}
