package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonBackendRequest)
	if Reason(err) != ReasonBackendRequest {
		t.Fatalf("expected reason %s, got %s", ReasonBackendRequest, Reason(err))
	}
	if !HasReason(err, ReasonBackendRequest) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSTTSend)
	second := Wrap(first, ReasonBackendRequest)
	if Reason(second) != ReasonSTTSend {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestBackendErrorKinds(t *testing.T) {
	transient := fmt.Errorf("converse: %w", NewTransient(ReasonBackendRequest, assertErr{}))
	if !IsTransient(transient) || IsFatal(transient) {
		t.Fatalf("expected transient classification")
	}
	if Reason(transient) != ReasonBackendRequest {
		t.Fatalf("expected backend reason, got %s", Reason(transient))
	}
	if !errors.Is(transient, assertErr{}) {
		t.Fatalf("expected cause to unwrap")
	}

	fatal := NewFatal(ReasonRunTimeout, nil)
	if !IsFatal(fatal) {
		t.Fatalf("expected fatal classification")
	}
	if got := fatal.Error(); got != "backend fatal error: run_timeout" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestSpeechTransportValidation(t *testing.T) {
	if !IsSpeech(&SpeechError{Op: OpSynthesize, Err: assertErr{}}) {
		t.Fatalf("expected speech error")
	}
	if !IsTransport(fmt.Errorf("send: %w", &TransportError{Op: "write", Err: assertErr{}})) {
		t.Fatalf("expected transport error")
	}
	err := Invalid("type", "unknown frame type %q", "bogus")
	if !IsValidation(err) {
		t.Fatalf("expected validation error")
	}
	if got := err.Error(); got != `invalid frame: type: unknown frame type "bogus"` {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestWrapfKeepsCauseAndReason(t *testing.T) {
	err := Wrapf(assertErr{}, ReasonAudioStore, "put clip %s", "c1")
	if got := err.Error(); got != "put clip c1: boom" {
		t.Fatalf("unexpected message %q", got)
	}
	if Reason(err) != ReasonAudioStore || !errors.Is(err, assertErr{}) {
		t.Fatalf("expected reason and cause, got %v", err)
	}
	if Wrapf(nil, ReasonAudioStore, "noop") != nil {
		t.Fatalf("expected nil for nil error")
	}
	if Reason(errors.New("plain")) != ReasonUnknown {
		t.Fatalf("expected unknown reason for plain error")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
