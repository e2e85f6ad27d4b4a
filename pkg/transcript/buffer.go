// Package transcript holds the ordered conversation history of one session.
package transcript

import (
	"strings"
	"sync"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. Turns are immutable once appended.
type Turn struct {
	Role    Role
	Content string
}

// Buffer is an append-only turn log. Insertion order is the model's context
// window order.
type Buffer struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewBuffer seeds the buffer with a system turn when prompt is non-empty.
func NewBuffer(systemPrompt string) *Buffer {
	b := &Buffer{}
	if p := strings.TrimSpace(systemPrompt); p != "" {
		b.turns = append(b.turns, Turn{Role: RoleSystem, Content: p})
	}
	return b
}

func (b *Buffer) Append(role Role, content string) Turn {
	t := Turn{Role: role, Content: content}
	b.mu.Lock()
	b.turns = append(b.turns, t)
	b.mu.Unlock()
	return t
}

// Snapshot returns a copy safe to hand to a backend goroutine.
func (b *Buffer) Snapshot() []Turn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.turns)
}

// Last returns the newest turn.
func (b *Buffer) Last() (Turn, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.turns) == 0 {
		return Turn{}, false
	}
	return b.turns[len(b.turns)-1], true
}

// LastOf returns the newest turn with the given role from a history slice.
func LastOf(history []Turn, role Role) (Turn, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == role {
			return history[i], true
		}
	}
	return Turn{}, false
}
