package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestSamplingObserverOnlySamplesNamedEvents(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.5, EventAudioIn)
	for i := 0; i < 10; i++ {
		s.RecordEvent(MetricsEvent{Name: EventAudioIn})
	}
	s.RecordEvent(MetricsEvent{Name: EventTurnStart})

	if got := mem.Count(EventAudioIn); got != 5 {
		t.Fatalf("expected 5 sampled audio events, got %d", got)
	}
	if got := mem.Count(EventTurnStart); got != 1 {
		t.Fatalf("expected unsampled event passthrough, got %d", got)
	}
}

func TestSamplingObserverCountsPerSession(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.25, EventAudioIn)
	for _, id := range []string{"a", "b", "c"} {
		Record(s, EventAudioIn, map[string]string{"session_id": id}, nil)
	}
	if got := mem.Count(EventAudioIn); got != 3 {
		t.Fatalf("expected first event of each session, got %d", got)
	}

	Record(s, EventSessionEnd, map[string]string{"session_id": "a"}, nil)
	Record(s, EventAudioIn, map[string]string{"session_id": "a"}, nil)
	Record(s, EventAudioIn, map[string]string{"session_id": "b"}, nil)
	if got := mem.Count(EventAudioIn); got != 4 {
		t.Fatalf("expected ended session counter reset, got %d", got)
	}
}

func TestSamplingObserverZeroRateDrops(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0)
	s.RecordEvent(MetricsEvent{Name: EventAudioIn})
	if len(mem.Events()) != 0 {
		t.Fatalf("expected no events at zero rate")
	}
}

func TestAsyncObserverDelivers(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 4)
	Record(a, EventSessionStart, map[string]string{"session_id": "s-1"}, nil)
	deadline := time.Now().Add(time.Second)
	for mem.Count(EventSessionStart) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("event not delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	a.Close()
	a.RecordEvent(MetricsEvent{Name: EventSessionEnd})
	Record(nil, EventSessionEnd, nil, nil)
}

func TestAsyncObserverCloseDrainsQueue(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 64)
	for i := 0; i < 32; i++ {
		a.RecordEvent(MetricsEvent{Name: EventAudioIn})
	}
	a.Close()
	if got := mem.Count(EventAudioIn) + int(a.Dropped()); got != 32 {
		t.Fatalf("expected 32 delivered or dropped after close, got %d", got)
	}
	a.Close()
}

func TestJSONLObserverWritesLine(t *testing.T) {
	var buf bytes.Buffer
	o := NewJSONLObserver(&buf)
	o.RecordEvent(MetricsEvent{Name: EventBackendDone, Time: time.Now(), Tags: map[string]string{"session_id": "s-1"}})
	out := buf.String()
	if !strings.Contains(out, `"name":"backend_done"`) || !strings.Contains(out, `"session_id":"s-1"`) {
		t.Fatalf("unexpected jsonl output %q", out)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
