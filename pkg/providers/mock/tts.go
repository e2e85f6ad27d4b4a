package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/tutur/pkg/audiostore"
	"github.com/harunnryd/tutur/pkg/speech"
)

type SynthesizerConfig struct {
	Err error
	// Size is the length of the silent clip returned.
	Size int
}

// Synthesizer returns a silent wav-typed clip for any text.
type Synthesizer struct {
	cfg SynthesizerConfig

	mu     sync.Mutex
	voices []string
}

func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	if cfg.Size <= 0 {
		cfg.Size = 320
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_synthesizer" }

func (s *Synthesizer) Synthesize(_ context.Context, _ string, voice string) (audiostore.Clip, error) {
	s.mu.Lock()
	s.voices = append(s.voices, voice)
	s.mu.Unlock()
	if s.cfg.Err != nil {
		return audiostore.Clip{}, s.cfg.Err
	}
	return audiostore.Clip{ContentType: "audio/wav", Data: make([]byte, s.cfg.Size)}, nil
}

// Voices lists the voice of every Synthesize call in order.
func (s *Synthesizer) Voices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.voices...)
}

var _ speech.Synthesizer = (*Synthesizer)(nil)
