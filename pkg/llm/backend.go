// Package llm defines the language-model backend contract shared by the
// synchronous completion and asynchronous run-job strategies.
package llm

import (
	"context"

	"github.com/harunnryd/tutur/pkg/transcript"
)

// Backend turns a conversation history into the assistant's next reply.
// Implementations must not mutate history; the caller appends the result.
// Failures are reported as *errorsx.BackendError.
type Backend interface {
	Name() string
	Converse(ctx context.Context, history []transcript.Turn) (string, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, history []transcript.Turn) (string, error)

func (f BackendFunc) Name() string { return "func" }

func (f BackendFunc) Converse(ctx context.Context, history []transcript.Turn) (string, error) {
	return f(ctx, history)
}

// Factory builds a backend for one session. Backends that hold per-conversation
// state (such as an assistant thread) must not be shared between sessions.
type Factory func() (Backend, error)
