package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/resilience"
)

// RetryConfig drives Retry. Sessions never retry a turn; this is for the
// stateless message endpoint, where a failed call has no visible side effect.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter adds up to this fraction of the delay at random.
	Jitter      float64
	IsRetryable func(error) bool
	// OnRetry runs before each wait with the failed attempt number (from 1).
	OnRetry func(attempt int, err error, delay time.Duration)
	// Wait defaults to a timer that gives up when ctx is done.
	Wait func(ctx context.Context, d time.Duration) error
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	if c.IsRetryable == nil {
		c.IsRetryable = DefaultIsRetryable
	}
	if c.Wait == nil {
		c.Wait = waitTimer
	}
	return c
}

// delay doubles BaseDelay per attempt up to MaxDelay, then adds jitter.
func (c RetryConfig) delay(attempt int) time.Duration {
	d := c.BaseDelay << attempt
	if d > c.MaxDelay || d <= 0 {
		d = c.MaxDelay
	}
	if c.Jitter > 0 {
		d += time.Duration(float64(d) * c.Jitter * rand.Float64())
	}
	return d
}

func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) (string, error)) (string, error) {
	cfg = cfg.withDefaults()
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := fn(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !cfg.IsRetryable(err) || attempt == cfg.MaxAttempts-1 {
			return "", fmt.Errorf("converse failed after %d attempt(s): %w", attempt+1, lastErr)
		}
		d := cfg.delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, d)
		}
		if err := cfg.Wait(ctx, d); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

// DefaultIsRetryable accepts transient backend errors and rate limits. An
// open circuit and a cancelled caller are final.
func DefaultIsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errorsx.HasReason(err, errorsx.ReasonBackendCircuitOpen):
		return false
	}
	return errorsx.IsTransient(err) || resilience.IsRateLimit(err)
}

func waitTimer(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
