package metrics

import (
	"math"
	"sync"
	"sync/atomic"
)

// SamplingObserver thins high-volume events. Counting is per event name and
// session, and the first event of each pair always passes, so a short
// session still shows up in the sinks. Names not listed pass unchanged; with
// no names every event is sampled.
type SamplingObserver struct {
	inner Observer
	every uint64 // 0 drops every sampled event
	names map[string]bool

	mu       sync.Mutex
	counters map[string]map[string]*atomic.Uint64 // session_id -> name -> count
}

func NewSamplingObserver(inner Observer, rate float64, names ...string) *SamplingObserver {
	rate = math.Max(0, math.Min(1, rate))
	s := &SamplingObserver{inner: inner, counters: make(map[string]map[string]*atomic.Uint64)}
	if rate > 0 {
		s.every = max(1, uint64(math.Round(1/rate)))
	}
	if len(names) > 0 {
		s.names = make(map[string]bool, len(names))
		for _, n := range names {
			s.names[n] = true
		}
	}
	return s
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	session := ev.Tags["session_id"]
	if ev.Name == EventSessionEnd {
		s.mu.Lock()
		delete(s.counters, session)
		s.mu.Unlock()
	}
	if s.names != nil && !s.names[ev.Name] {
		s.inner.RecordEvent(ev)
		return
	}
	switch s.every {
	case 0:
		return
	case 1:
		s.inner.RecordEvent(ev)
		return
	}
	if (s.counter(session, ev.Name).Add(1)-1)%s.every == 0 {
		s.inner.RecordEvent(ev)
	}
}

func (s *SamplingObserver) counter(session, name string) *atomic.Uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName, ok := s.counters[session]
	if !ok {
		byName = make(map[string]*atomic.Uint64)
		s.counters[session] = byName
	}
	c, ok := byName[name]
	if !ok {
		c = new(atomic.Uint64)
		byName[name] = c
	}
	return c
}
