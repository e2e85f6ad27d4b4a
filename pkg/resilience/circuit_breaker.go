package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/tutur/pkg/errorsx"
)

// RateLimitError is a 429 from a vendor API.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Provider + ": rate limit"
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker opens after threshold consecutive upstream failures and
// stays open for the cooldown. Afterwards a single probe call is let
// through: success closes the breaker, failure reopens it. Only rate limits
// and transient backend errors count as failures.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	probing   bool
	threshold int
	openUntil time.Time
	cooldown  time.Duration
	now       func() time.Time
	notify    func(BreakerState)
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Notify registers fn to run after every open or close transition.
func (c *CircuitBreaker) Notify(fn func(BreakerState)) {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
}

func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case BreakerOpen:
		if c.now().Before(c.openUntil) {
			return false
		}
		c.state = BreakerHalfOpen
		c.probing = true
		return true
	case BreakerHalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	}
	return true
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	wasOpen := c.state != BreakerClosed
	c.state = BreakerClosed
	c.failures = 0
	c.probing = false
	fn := c.notify
	c.mu.Unlock()
	if wasOpen && fn != nil {
		fn(BreakerClosed)
	}
}

func (c *CircuitBreaker) OnError(err error) {
	if !IsRateLimit(err) && !errorsx.IsTransient(err) {
		c.mu.Lock()
		if c.state == BreakerHalfOpen {
			c.probing = false
		}
		c.mu.Unlock()
		return
	}
	c.mu.Lock()
	c.failures++
	tripped := false
	if c.state == BreakerHalfOpen || (c.state == BreakerClosed && c.failures >= c.threshold) {
		tripped = c.state == BreakerClosed
		c.state = BreakerOpen
		c.probing = false
		c.openUntil = c.now().Add(c.cooldown)
	}
	fn := c.notify
	c.mu.Unlock()
	if tripped && fn != nil {
		fn(BreakerOpen)
	}
}
