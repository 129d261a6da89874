package queues

import (
	"errors"
	"time"
)

// RetryPolicy defines retry behavior for failed messages.
type RetryPolicy struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Minute,
		BackoffFactor:  2.0,
	}
}

// CalculateBackoff returns the delay before attempt retryCount+1.
func (p RetryPolicy) CalculateBackoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return p.InitialBackoff
	}

	backoff := p.InitialBackoff
	for i := 0; i < retryCount; i++ {
		backoff = time.Duration(float64(backoff) * p.BackoffFactor)
		if backoff > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return backoff
}

// Exhausted reports whether a message with retryCount failures goes to the DLQ.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}

// RetryDecision represents the decision about whether to retry.
type RetryDecision struct {
	ShouldRetry bool
	Reason      string
}

// DecideRetry decides what to do with a message whose handler returned err.
// Errors that are not ProcessingErrors are retried.
func (p RetryPolicy) DecideRetry(err error, retryCount int) RetryDecision {
	if p.Exhausted(retryCount) {
		return RetryDecision{ShouldRetry: false, Reason: "max retries exceeded"}
	}

	var procErr *ProcessingError
	if errors.As(err, &procErr) && !procErr.IsRetryable() {
		return RetryDecision{ShouldRetry: false, Reason: "permanent error: " + procErr.Code}
	}

	return RetryDecision{ShouldRetry: true, Reason: "retryable error"}
}
