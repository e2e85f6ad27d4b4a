package runner

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidState = errors.New("invalid state transition")
	ErrDrainTimeout = errors.New("drain timeout")
)

type Options struct {
	Drainer      Drainer
	Hooks        Hooks
	DrainTimeout time.Duration
	// Banner receives the startup banner; nil prints nothing.
	Banner io.Writer
	Title  string
}

// LifecycleRunner moves new -> starting -> running -> draining -> stopped.
// Stop is idempotent and may race with Run's own exit.
type LifecycleRunner struct {
	state    atomic.Int32
	opts     Options
	ctx      context.Context
	cancel   context.CancelFunc
	onceStop sync.Once
	stopped  chan struct{}
	stopErr  error
}

func NewLifecycleRunner(opts Options) *LifecycleRunner {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	if opts.Title == "" {
		opts.Title = "TUTUR"
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &LifecycleRunner{
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	r.state.Store(int32(StateNew))
	return r
}

// Run blocks until ctx is done or Stop is called, then drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return ErrInvalidState
	}
	PrintBanner(r.opts.Banner, r.opts.Title)
	if ctx != nil {
		stop := context.AfterFunc(ctx, r.cancel)
		defer stop()
	}
	if r.opts.Hooks.OnStart != nil {
		r.opts.Hooks.OnStart()
	}
	r.state.Store(int32(StateRunning))
	<-r.ctx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

// Stopped is closed once the drain and stop hooks have finished.
func (r *LifecycleRunner) Stopped() <-chan struct{} { return r.stopped }

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		defer close(r.stopped)
		r.state.Store(int32(StateDraining))
		if r.opts.Drainer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.DrainTimeout)
			done := make(chan error, 1)
			go func() { done <- r.opts.Drainer.Drain(ctx) }()
			select {
			case err := <-done:
				r.stopErr = err
			case <-ctx.Done():
				r.stopErr = ErrDrainTimeout
			}
			cancel()
		}
		if r.opts.Hooks.OnStop != nil {
			r.opts.Hooks.OnStop()
		}
		r.state.Store(int32(StateStopped))
	})
	<-r.stopped
	return r.stopErr
}
