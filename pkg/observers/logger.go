package observers

import (
	"context"
	"log/slog"
	"slices"

	"github.com/harunnryd/tutur/pkg/metrics"
	"github.com/harunnryd/tutur/pkg/redact"
)

// warnEvents are logged at warn level; everything else is debug.
var warnEvents = map[string]bool{
	metrics.EventBackendError:  true,
	metrics.EventSpeechError:   true,
	metrics.EventRateLimit:     true,
	metrics.EventBreakerOpen:   true,
	metrics.EventBreakerDenied: true,
}

// LoggerObserver writes each session event as one structured log line.
// session_id leads the attributes; remaining tags follow in key order.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log.With(slog.String("component", "events"))}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	level := slog.LevelDebug
	if warnEvents[ev.Name] {
		level = slog.LevelWarn
	}
	ctx := context.Background()
	if !o.log.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 3+len(ev.Tags)+len(ev.Fields))
	if id := ev.Tags["session_id"]; id != "" {
		attrs = append(attrs, slog.String("session_id", id))
	}
	attrs = append(attrs, slog.String("event", ev.Name))
	if ev.Value != 0 {
		attrs = append(attrs, slog.Float64("value", ev.Value))
	}
	keys := make([]string, 0, len(ev.Tags))
	for k := range ev.Tags {
		if k != "session_id" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, ev.Tags[k]))
	}
	for k, v := range redact.Fields(ev.Fields) {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(ctx, level, "session_event", attrs...)
}

// MultiObserver fans an event out to every non-nil observer in order.
type MultiObserver struct {
	list []metrics.Observer
}

func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	kept := make([]metrics.Observer, 0, len(list))
	for _, obs := range list {
		if obs != nil {
			kept = append(kept, obs)
		}
	}
	return &MultiObserver{list: kept}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.list {
		obs.RecordEvent(ev)
	}
}
