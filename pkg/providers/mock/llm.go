// Package mock provides deterministic backends and speech capabilities for
// local runs and tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/tutur/pkg/llm"
	"github.com/harunnryd/tutur/pkg/transcript"
)

type BackendConfig struct {
	ResponseText string
	// Replies are returned in order before falling back to ResponseText.
	Replies []string
	Err     error
	Delay   time.Duration
	// Gate, when set, holds every call until it receives or is closed.
	Gate <-chan struct{}
}

// Backend records every history it is asked to answer.
type Backend struct {
	cfg BackendConfig

	mu        sync.Mutex
	histories [][]transcript.Turn
	inflight  int
	maxFlight int
}

func NewBackend(cfg BackendConfig) *Backend {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response"
	}
	return &Backend{cfg: cfg}
}

func (b *Backend) Name() string { return "mock_backend" }

func (b *Backend) Converse(ctx context.Context, history []transcript.Turn) (string, error) {
	b.mu.Lock()
	call := len(b.histories)
	b.histories = append(b.histories, append([]transcript.Turn(nil), history...))
	b.inflight++
	if b.inflight > b.maxFlight {
		b.maxFlight = b.inflight
	}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.inflight--
		b.mu.Unlock()
	}()

	if b.cfg.Gate != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-b.cfg.Gate:
		}
	}
	if b.cfg.Delay > 0 {
		timer := time.NewTimer(b.cfg.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if b.cfg.Err != nil {
		return "", b.cfg.Err
	}
	if call < len(b.cfg.Replies) {
		return b.cfg.Replies[call], nil
	}
	return b.cfg.ResponseText, nil
}

// Calls returns how many times Converse was invoked.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.histories)
}

// MaxInFlight is the highest number of concurrent Converse calls observed.
func (b *Backend) MaxInFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxFlight
}

func (b *Backend) Histories() [][]transcript.Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]transcript.Turn(nil), b.histories...)
}

var _ llm.Backend = (*Backend)(nil)
