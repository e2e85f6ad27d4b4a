package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/harunnryd/tutur/pkg/audiostore"
	"github.com/harunnryd/tutur/pkg/speech"
	openai "github.com/sashabaranov/go-openai"
)

// SpeechClient captures the text-to-speech call of the go-openai client.
type SpeechClient interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

type SpeechOptions struct {
	Client SpeechClient
	Model  string
	// DefaultVoice is used when the session's voice is not an OpenAI voice name.
	DefaultVoice string
	Speed        float64
}

// Speech synthesizes mp3 clips with the OpenAI speech endpoint.
type Speech struct {
	client SpeechClient
	opts   SpeechOptions
}

var openAIVoices = map[string]openai.SpeechVoice{
	"alloy":   openai.VoiceAlloy,
	"echo":    openai.VoiceEcho,
	"fable":   openai.VoiceFable,
	"onyx":    openai.VoiceOnyx,
	"nova":    openai.VoiceNova,
	"shimmer": openai.VoiceShimmer,
}

func NewSpeech(opts SpeechOptions) (*Speech, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.Model == "" {
		opts.Model = string(openai.TTSModel1)
	}
	if _, ok := openAIVoices[strings.ToLower(opts.DefaultVoice)]; !ok {
		opts.DefaultVoice = string(openai.VoiceNova)
	}
	return &Speech{client: opts.Client, opts: opts}, nil
}

func (s *Speech) Name() string { return "openai_speech" }

func (s *Speech) Synthesize(ctx context.Context, text, voice string) (audiostore.Clip, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.opts.Model),
		Input:          text,
		Voice:          s.voice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          s.opts.Speed,
	})
	if err != nil {
		return audiostore.Clip{}, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()
	data, err := io.ReadAll(resp)
	if err != nil {
		return audiostore.Clip{}, fmt.Errorf("read speech body: %w", err)
	}
	return audiostore.Clip{ContentType: "audio/mpeg", Data: data}, nil
}

func (s *Speech) voice(name string) openai.SpeechVoice {
	if v, ok := openAIVoices[strings.ToLower(strings.TrimSpace(name))]; ok {
		return v
	}
	return openAIVoices[strings.ToLower(s.opts.DefaultVoice)]
}

var _ speech.Synthesizer = (*Speech)(nil)
