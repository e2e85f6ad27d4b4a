package audiostore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	clip      Clip
	expiresAt time.Time
}

// Memory is a process-local store. Expired clips are evicted lazily on Put.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Memory{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (m *Memory) Put(_ context.Context, clip Clip) (string, error) {
	id := uuid.NewString()
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	m.entries[id] = memoryEntry{clip: clip, expiresAt: now.Add(m.ttl)}
	return id, nil
}

func (m *Memory) Get(_ context.Context, id string) (Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Clip{}, ErrNotFound
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, id)
		return Clip{}, ErrNotFound
	}
	return e.clip, nil
}

// Len reports how many clips are currently held, including expired ones not yet evicted.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
