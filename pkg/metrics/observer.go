package metrics

import "time"

// Event names emitted by sessions, backends and the server.
const (
	EventSessionStart  = "session_start"
	EventSessionEnd    = "session_end"
	EventAudioIn       = "audio_in"
	EventAudioDropped  = "audio_dropped"
	EventTranscript    = "transcript_final"
	EventTurnStart     = "turn_start"
	EventBackendDone   = "backend_done"
	EventBackendError  = "backend_error"
	EventSynthDone     = "synth_done"
	EventSpeechError   = "speech_error"
	EventResponseSent  = "response_sent"
	EventInterrupt     = "interrupt"
	EventStaleResult   = "stale_result"
	EventRunPoll       = "run_poll"
	EventRateLimit     = "rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"
	EventStateChanged  = "state_changed"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Record emits a named event stamped with the current time. A nil observer is ignored.
func Record(obs Observer, name string, tags map[string]string, fields map[string]any) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Tags: tags, Fields: fields})
}
