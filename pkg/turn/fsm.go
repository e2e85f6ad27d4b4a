package turn

import (
	"sync"
	"time"
)

// StateChange represents a state transition event.
type StateChange struct {
	From      State
	To        State
	Event     Event
	Timestamp time.Time
	// Dwell is how long the machine stayed in From.
	Dwell  time.Duration
	Reason string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

type ListenerFunc func(StateChange)

func (f ListenerFunc) OnStateChange(event StateChange) { f(event) }

// Machine applies Next to a current state. It is safe for concurrent use,
// though a session drives it from a single goroutine.
type Machine struct {
	mu        sync.RWMutex
	state     State
	entered   time.Time
	listeners []StateListener
	now       func() time.Time
}

func NewMachine() *Machine {
	return &Machine{state: StateIdle, entered: time.Now(), now: time.Now}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Fire applies ev. Listeners are notified after the lock is released.
func (m *Machine) Fire(ev Event, reason string) (StateChange, error) {
	m.mu.Lock()
	to, ok := Next(m.state, ev)
	if !ok {
		from := m.state
		m.mu.Unlock()
		return StateChange{}, &InvalidTransitionError{From: from, Event: ev}
	}
	now := m.now()
	change := StateChange{
		From:      m.state,
		To:        to,
		Event:     ev,
		Timestamp: now,
		Dwell:     now.Sub(m.entered),
		Reason:    reason,
	}
	m.state = to
	m.entered = now
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(change)
	}
	return change, nil
}

// AddListener registers a listener for state change events.
func (m *Machine) AddListener(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// InvalidTransitionError represents an event the current state does not accept.
type InvalidTransitionError struct {
	From  State
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return "invalid turn event " + e.Event.String() + " in state " + e.From.String()
}
