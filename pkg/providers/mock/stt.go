package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/tutur/pkg/speech"
)

type RecognizerConfig struct {
	// Transcript is emitted as a final result after the first audio chunk.
	Transcript string
	// Interim, when set, is emitted as a partial result before the final one.
	Interim  string
	StartErr error
}

// Recognizer emits its configured transcript once per utterance. Tests can
// push arbitrary results with Emit.
type Recognizer struct {
	cfg RecognizerConfig

	mu       sync.Mutex
	out      chan speech.Result
	started  bool
	closed   bool
	emitted  bool
	received int
}

func NewRecognizer(cfg RecognizerConfig) *Recognizer {
	return &Recognizer{cfg: cfg, out: make(chan speech.Result, 16)}
}

func (r *Recognizer) Name() string { return "mock_recognizer" }

func (r *Recognizer) Start(context.Context) error {
	if r.cfg.StartErr != nil {
		return r.cfg.StartErr
	}
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	return nil
}

func (r *Recognizer) SendAudio(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.closed {
		return errors.New("not started")
	}
	r.received += len(chunk)
	if r.emitted || r.cfg.Transcript == "" {
		return nil
	}
	r.emitted = true
	if r.cfg.Interim != "" {
		r.out <- speech.Result{Text: r.cfg.Interim}
	}
	r.out <- speech.Result{Text: r.cfg.Transcript, IsFinal: true}
	return nil
}

// Rearm lets the next audio chunk produce the transcript again.
func (r *Recognizer) Rearm() {
	r.mu.Lock()
	r.emitted = false
	r.mu.Unlock()
}

// Emit delivers res unless the recognizer is closed.
func (r *Recognizer) Emit(res speech.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.out <- res
}

func (r *Recognizer) Received() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received
}

func (r *Recognizer) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Recognizer) Results() <-chan speech.Result { return r.out }

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.out)
	}
	return nil
}

var _ speech.Recognizer = (*Recognizer)(nil)
