package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/tutur/pkg/metrics"
)

// LatencyObserver logs one line per answered turn with the backend, synthesis
// and end-to-end durations, keyed by session id.
type LatencyObserver struct {
	mu    sync.Mutex
	turns map[string]*turnTrace
	log   *slog.Logger
}

type turnTrace struct {
	start       time.Time
	backendDone time.Time
	synthDone   time.Time
	backend     string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		turns: make(map[string]*turnTrace),
		log:   log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ""
	if ev.Tags != nil {
		sessionID = ev.Tags["session_id"]
	}
	if sessionID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	switch ev.Name {
	case metrics.EventTurnStart:
		// A new turn supersedes whatever was in flight.
		o.turns[sessionID] = &turnTrace{start: ev.Time}
	case metrics.EventBackendDone:
		if t := o.turns[sessionID]; t != nil {
			t.backendDone = ev.Time
			t.backend = ev.Tags["backend"]
		}
	case metrics.EventSynthDone:
		if t := o.turns[sessionID]; t != nil && t.synthDone.IsZero() {
			t.synthDone = ev.Time
		}
	case metrics.EventResponseSent:
		if t := o.turns[sessionID]; t != nil {
			o.logTurnLocked(sessionID, t, ev.Time)
			delete(o.turns, sessionID)
		}
	case metrics.EventBackendError, metrics.EventInterrupt, metrics.EventSessionEnd:
		delete(o.turns, sessionID)
	}
}

// Pending reports how many turns are waiting for a response.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.turns)
}

func (o *LatencyObserver) logTurnLocked(sessionID string, t *turnTrace, sent time.Time) {
	o.log.Info("latency",
		"session_id", sessionID,
		"backend", t.backend,
		"backend_ms", durationMs(t.start, t.backendDone),
		"synth_ms", durationMs(t.backendDone, t.synthDone),
		"turn_ms", durationMs(t.start, sent),
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
