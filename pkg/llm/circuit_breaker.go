package llm

import (
	"context"
	"time"

	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/metrics"
	"github.com/harunnryd/tutur/pkg/resilience"
	"github.com/harunnryd/tutur/pkg/transcript"
)

// CircuitBreakerBackend fails fast while the upstream keeps failing transiently.
type CircuitBreakerBackend struct {
	inner   Backend
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
}

func NewCircuitBreakerBackend(inner Backend, breaker *resilience.CircuitBreaker) *CircuitBreakerBackend {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreakerBackend{inner: inner, breaker: breaker}
}

func (a *CircuitBreakerBackend) Name() string { return a.inner.Name() }

// SetObserver routes rate limit, denial and breaker transition events to obs.
// A breaker shared between backends reports through the last observer set.
func (a *CircuitBreakerBackend) SetObserver(obs metrics.Observer) {
	a.obs = obs
	a.breaker.Notify(func(s resilience.BreakerState) {
		if s == resilience.BreakerOpen {
			a.record(metrics.EventBreakerOpen)
			return
		}
		a.record(metrics.EventBreakerClose)
	})
}

func (a *CircuitBreakerBackend) Converse(ctx context.Context, history []transcript.Turn) (string, error) {
	if !a.breaker.Allow() {
		a.record(metrics.EventBreakerDenied)
		return "", errorsx.NewTransient(errorsx.ReasonBackendCircuitOpen,
			resilience.RateLimitError{Provider: a.Name(), Message: "degraded"})
	}
	text, err := a.inner.Converse(ctx, history)
	if err != nil {
		if resilience.IsRateLimit(err) {
			a.record(metrics.EventRateLimit)
		}
		a.breaker.OnError(err)
		return "", err
	}
	a.breaker.OnSuccess()
	return text, nil
}

func (a *CircuitBreakerBackend) record(name string) {
	metrics.Record(a.obs, name, map[string]string{
		"provider":  a.inner.Name(),
		"component": "llm",
	}, nil)
}

var _ Backend = (*CircuitBreakerBackend)(nil)
