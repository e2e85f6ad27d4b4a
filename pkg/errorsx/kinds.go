package errorsx

import (
	"errors"
	"fmt"
)

// ValidationError rejects a single inbound frame. It never changes session state.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid frame: " + e.Message
	}
	return fmt.Sprintf("invalid frame: %s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// BackendKind tells the caller whether repeating the same call can succeed.
type BackendKind string

const (
	Transient BackendKind = "transient"
	Fatal     BackendKind = "fatal"
)

// BackendError is returned by every language-model backend.
type BackendError struct {
	Kind   BackendKind
	Reason ReasonCode
	Err    error
}

func (e *BackendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("backend %s error: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("backend %s error (%s): %v", e.Kind, e.Reason, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// NewTransient wraps err as a transient backend failure.
func NewTransient(reason ReasonCode, err error) error {
	return &BackendError{Kind: Transient, Reason: reason, Err: err}
}

// NewFatal wraps err as a fatal backend failure.
func NewFatal(reason ReasonCode, err error) error {
	return &BackendError{Kind: Fatal, Reason: reason, Err: err}
}

// IsTransient reports whether err carries a transient BackendError.
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == Transient
}

// IsFatal reports whether err carries a fatal BackendError.
func IsFatal(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == Fatal
}

// SpeechOp identifies the speech capability that failed.
type SpeechOp string

const (
	OpRecognize  SpeechOp = "recognize"
	OpSynthesize SpeechOp = "synthesize"
)

// SpeechError is non-fatal for a session: replies degrade to text.
type SpeechError struct {
	Op  SpeechOp
	Err error
}

func (e *SpeechError) Error() string {
	return fmt.Sprintf("speech %s: %v", e.Op, e.Err)
}

func (e *SpeechError) Unwrap() error { return e.Err }

// TransportError terminates the session that observed it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsSpeech reports whether err carries a SpeechError.
func IsSpeech(err error) bool {
	var se *SpeechError
	return errors.As(err, &se)
}

// IsTransport reports whether err carries a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
