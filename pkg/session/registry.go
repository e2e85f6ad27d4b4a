package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDraining is returned by Register once the registry stopped accepting sessions.
var ErrDraining = errors.New("session registry is draining")

type entry struct {
	session *Session
	cancel  context.CancelFunc
	created time.Time
}

// Registry tracks live sessions for health reporting and graceful drain.
type Registry struct {
	sessions sync.Map
	count    atomic.Int64
	draining atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds s. cancel stops the session's Run when CloseAll is called.
func (r *Registry) Register(s *Session, cancel context.CancelFunc) error {
	if r.draining.Load() {
		return ErrDraining
	}
	if _, loaded := r.sessions.LoadOrStore(s.ID(), &entry{session: s, cancel: cancel, created: time.Now()}); loaded {
		return errors.New("session id already registered: " + s.ID())
	}
	r.count.Add(1)
	return nil
}

func (r *Registry) Remove(id string) {
	if v, ok := r.sessions.LoadAndDelete(id); ok {
		if e := v.(*entry); e.cancel != nil {
			e.cancel()
		}
		r.count.Add(-1)
	}
}

// CloseAll cancels every live session.
func (r *Registry) CloseAll() {
	r.sessions.Range(func(key, _ any) bool {
		if id, ok := key.(string); ok {
			r.Remove(id)
		}
		return true
	})
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}
