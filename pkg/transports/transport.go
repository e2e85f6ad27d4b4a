// Package transports defines the client channel a session talks through.
package transports

import "github.com/harunnryd/tutur/pkg/frames"

// Conn is one bidirectional client channel. Recv yields decoded inbound
// frames and is closed when the channel ends; Err then reports why, or nil
// for a clean close. Send never blocks indefinitely: a channel that cannot
// keep up returns a TransportError.
type Conn interface {
	ID() string
	Recv() <-chan frames.Inbound
	Send(frames.Outbound) error
	Err() error
	Close() error
}
