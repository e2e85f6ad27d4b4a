// Package mock provides an in-memory transports.Conn for tests.
package mock

import (
	"errors"
	"sync"

	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/frames"
	"github.com/harunnryd/tutur/pkg/transports"
)

// Conn is an in-memory channel. Tests push inbound frames and read what the
// session sent from Outbound.
type Conn struct {
	id     string
	recvCh chan frames.Inbound
	sentCh chan frames.Outbound

	mu      sync.Mutex
	sent    []frames.Outbound
	ended   bool
	err     error
	sendErr error
	closed  bool
}

func New(id string) *Conn {
	return &Conn{
		id:     id,
		recvCh: make(chan frames.Inbound, 256),
		sentCh: make(chan frames.Outbound, 256),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Recv() <-chan frames.Inbound { return c.recvCh }

func (c *Conn) Send(f frames.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return &errorsx.TransportError{Op: "send", Err: errors.New("connection closed")}
	}
	c.sent = append(c.sent, f)
	select {
	case c.sentCh <- f:
	default:
	}
	return nil
}

// Push injects an inbound frame. It is a no-op after End.
func (c *Conn) Push(f frames.Inbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.recvCh <- f
}

// End closes the inbound side as the peer would, with an optional cause.
func (c *Conn) End(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.ended = true
	c.err = err
	close(c.recvCh)
}

// FailSends makes every later Send return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Outbound delivers every frame passed to Send, in order.
func (c *Conn) Outbound() <-chan frames.Outbound { return c.sentCh }

// Sent returns a copy of everything sent so far.
func (c *Conn) Sent() []frames.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frames.Outbound(nil), c.sent...)
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.End(nil)
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var _ transports.Conn = (*Conn)(nil)
