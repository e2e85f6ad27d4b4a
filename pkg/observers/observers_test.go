package observers

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/tutur/pkg/metrics"
	"github.com/harunnryd/tutur/pkg/redact"
)

func event(name, sessionID string, at time.Time) metrics.MetricsEvent {
	return metrics.MetricsEvent{Name: name, Time: at, Tags: map[string]string{"session_id": sessionID}}
}

func TestTimelineObserverWritesPerSession(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	now := time.Now()

	obs.RecordEvent(event(metrics.EventSessionStart, "sess/1", now))
	obs.RecordEvent(event(metrics.EventSessionStart, "sess-2", now))
	obs.RecordEvent(event(metrics.EventSessionEnd, "sess/1", now))
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventRunPoll, Time: now})
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "sess_1.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), b)
	}
	if !strings.Contains(lines[1], `"event":"session_end"`) {
		t.Fatalf("expected session_end last, got %s", lines[1])
	}
	if _, err := os.Stat(filepath.Join(dir, "sess-2.jsonl")); err != nil {
		t.Fatalf("expected second session file: %v", err)
	}
}

func TestTimelineObserverRedactsFields(t *testing.T) {
	redact.SetEnabled(true)
	defer redact.SetEnabled(false)

	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	ev := event(metrics.EventTranscript, "s1", time.Now())
	ev.Fields = map[string]any{"text": "mail me at jane@example.com"}
	obs.RecordEvent(ev)
	_ = obs.Close()

	b, err := os.ReadFile(filepath.Join(dir, "s1.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if strings.Contains(string(b), "jane@example.com") {
		t.Fatalf("expected email to be redacted: %s", b)
	}
}

func TestLatencyObserverLogsAnsweredTurn(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLatencyObserver(slog.New(slog.NewTextHandler(&buf, nil)))
	start := time.Now()

	obs.RecordEvent(event(metrics.EventTurnStart, "s1", start))
	done := event(metrics.EventBackendDone, "s1", start.Add(120*time.Millisecond))
	done.Tags["backend"] = "mock"
	obs.RecordEvent(done)
	obs.RecordEvent(event(metrics.EventSynthDone, "s1", start.Add(200*time.Millisecond)))
	obs.RecordEvent(event(metrics.EventResponseSent, "s1", start.Add(210*time.Millisecond)))

	out := buf.String()
	for _, want := range []string{"backend=mock", "backend_ms=120", "synth_ms=80", "turn_ms=210"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
	if obs.Pending() != 0 {
		t.Fatalf("expected no pending turns, got %d", obs.Pending())
	}
}

func TestLatencyObserverForgetsFailedTurn(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLatencyObserver(slog.New(slog.NewTextHandler(&buf, nil)))
	obs.RecordEvent(event(metrics.EventTurnStart, "s1", time.Now()))
	obs.RecordEvent(event(metrics.EventTurnStart, "s2", time.Now()))
	obs.RecordEvent(event(metrics.EventBackendError, "s1", time.Now()))
	obs.RecordEvent(event(metrics.EventResponseSent, "s1", time.Now()))
	if buf.Len() != 0 {
		t.Fatalf("expected no latency line, got %q", buf.String())
	}
	if obs.Pending() != 1 {
		t.Fatalf("expected one pending turn, got %d", obs.Pending())
	}
}

func TestMultiObserverFansOut(t *testing.T) {
	a := metrics.NewMemoryObserver()
	b := metrics.NewMemoryObserver()
	multi := NewMultiObserver(a, nil, b)
	multi.RecordEvent(event(metrics.EventInterrupt, "s1", time.Now()))
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("expected each observer to see the event")
	}
}

func TestPurgeTimelines(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.jsonl")
	fresh := filepath.Join(dir, "fresh.jsonl")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, fresh, other} {
		if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	now := time.Now()
	past := now.Add(-48 * time.Hour)
	for _, p := range []string{old, other} {
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed, err := PurgeTimelines(dir, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old timeline removed")
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("non-timeline file should survive: %v", err)
	}
	if n, err := PurgeTimelines(filepath.Join(dir, "missing"), time.Hour, now); err != nil || n != 0 {
		t.Fatalf("missing dir: n=%d err=%v", n, err)
	}
}

func TestTimelinePurgeSkipsLiveSessions(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	defer obs.Close()
	obs.RecordEvent(event(metrics.EventSessionStart, "live", time.Now()))
	obs.RecordEvent(event(metrics.EventSessionStart, "done", time.Now()))
	obs.RecordEvent(event(metrics.EventSessionEnd, "done", time.Now()))

	past := time.Now().Add(-48 * time.Hour)
	for _, name := range []string{"live.jsonl", "done.jsonl"} {
		if err := os.Chtimes(filepath.Join(dir, name), past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	removed, err := obs.Purge(24*time.Hour, time.Now())
	if err != nil || removed != 1 {
		t.Fatalf("expected only the ended session purged, removed=%d err=%v", removed, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "live.jsonl")); err != nil {
		t.Fatalf("live timeline must survive: %v", err)
	}
}
