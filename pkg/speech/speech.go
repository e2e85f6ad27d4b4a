// Package speech defines recognition and synthesis capabilities and the
// bridge the session uses to reach them.
package speech

import (
	"context"

	"github.com/harunnryd/tutur/pkg/audiostore"
)

// Result is one recognizer output. A non-nil Err ends the recognition stream.
type Result struct {
	Text    string
	IsFinal bool
	Err     error
}

// Recognizer consumes audio chunks and yields transcripts until it is closed
// or the upstream reports end of stream, at which point Results is closed.
type Recognizer interface {
	Name() string
	Start(ctx context.Context) error
	SendAudio(chunk []byte) error
	Results() <-chan Result
	Close() error
}

// RecognizerFactory builds a fresh recognizer for the given BCP-47 language.
type RecognizerFactory func(language string) Recognizer

// Synthesizer renders text as a playable clip in the named voice.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text, voice string) (audiostore.Clip, error)
}
