package resilience

import (
	"context"
	"time"
)

// RetryPolicy retries vendor connection setup with doubling backoff. It is
// not used for conversation turns, which are never repeated.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Retryable filters which errors are worth another attempt; nil retries all.
	Retryable func(error) bool
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff, MaxBackoff: 8 * backoff}
}

func (r RetryPolicy) delay(attempt int) time.Duration {
	d := r.Backoff << attempt
	if r.MaxBackoff > 0 && (d > r.MaxBackoff || d <= 0) {
		d = r.MaxBackoff
	}
	return d
}

// Do calls fn until it succeeds, the error is not retryable, retries run
// out or ctx is done. The last error from fn is returned.
func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= r.MaxRetries || (r.Retryable != nil && !r.Retryable(err)) {
			return err
		}
		timer := time.NewTimer(r.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
