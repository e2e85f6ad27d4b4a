package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/harunnryd/tutur/pkg/audiostore"
	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/logging"
)

type BridgeOptions struct {
	Recognizers RecognizerFactory
	Synthesizer Synthesizer
	Store       audiostore.Store
	// PublicURL is the externally reachable server base, e.g. https://host:8080.
	PublicURL string
	Logger    *slog.Logger
}

// Bridge wraps speech-to-text and text-to-speech. It is stateless per call and
// safe to share between sessions.
type Bridge struct {
	recognizers RecognizerFactory
	synth       Synthesizer
	store       audiostore.Store
	publicURL   string
	logger      *slog.Logger
}

func NewBridge(opts BridgeOptions) *Bridge {
	return &Bridge{
		recognizers: opts.Recognizers,
		synth:       opts.Synthesizer,
		store:       opts.Store,
		publicURL:   strings.TrimRight(opts.PublicURL, "/"),
		logger:      logging.NewComponentLogger(opts.Logger, "speech_bridge"),
	}
}

// CanRecognize reports whether audio input is supported.
func (b *Bridge) CanRecognize() bool { return b != nil && b.recognizers != nil }

// NewRecognizer starts a recognizer for language. Failures are SpeechErrors.
func (b *Bridge) NewRecognizer(ctx context.Context, language string) (Recognizer, error) {
	if !b.CanRecognize() {
		return nil, &errorsx.SpeechError{Op: errorsx.OpRecognize, Err: errors.New("speech recognition not configured")}
	}
	rec := b.recognizers(language)
	if rec == nil {
		return nil, &errorsx.SpeechError{Op: errorsx.OpRecognize, Err: errors.New("recognizer factory returned nil")}
	}
	if err := rec.Start(ctx); err != nil {
		_ = rec.Close()
		return nil, &errorsx.SpeechError{Op: errorsx.OpRecognize, Err: errorsx.Wrap(err, errorsx.ReasonSTTConnect)}
	}
	return rec, nil
}

// Synthesize renders text and returns the URL the client can fetch it from.
// It returns an empty reference and no error when synthesis is disabled.
func (b *Bridge) Synthesize(ctx context.Context, text, voice string) (string, error) {
	if b == nil || b.synth == nil || b.store == nil {
		return "", nil
	}
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	clip, err := b.synth.Synthesize(ctx, text, voice)
	if err != nil {
		return "", &errorsx.SpeechError{Op: errorsx.OpSynthesize, Err: errorsx.Wrap(err, errorsx.ReasonTTSSynth)}
	}
	if len(clip.Data) == 0 {
		return "", &errorsx.SpeechError{Op: errorsx.OpSynthesize, Err: errors.New("empty audio")}
	}
	id, err := b.store.Put(ctx, clip)
	if err != nil {
		return "", &errorsx.SpeechError{Op: errorsx.OpSynthesize, Err: errorsx.Wrap(err, errorsx.ReasonAudioStore)}
	}
	b.logger.Debug("clip_stored",
		slog.String("synthesizer", b.synth.Name()),
		slog.String("voice", voice),
		slog.Int("size_bytes", len(clip.Data)))
	return b.AudioURL(id), nil
}

// AudioURL renders the public fetch URL of a stored clip.
func (b *Bridge) AudioURL(id string) string {
	return b.publicURL + "/audio/" + id
}
