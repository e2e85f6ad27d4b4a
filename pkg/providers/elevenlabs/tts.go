// Package elevenlabs synthesizes response audio over the ElevenLabs
// stream-input websocket.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/tutur/pkg/audiostore"
	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/logging"
	"github.com/harunnryd/tutur/pkg/resilience"
	"github.com/harunnryd/tutur/pkg/speech"
)

const defaultBaseURL = "wss://api.elevenlabs.io"

type Config struct {
	APIKey string
	// VoiceID is used when the session's voice name has no entry in Voices.
	VoiceID      string
	Voices       map[string]string
	ModelID      string
	OutputFormat string
	BaseURL      string
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Synthesizer opens one stream-input connection per utterance and collects
// the audio chunks into a single clip.
type Synthesizer struct {
	cfg    Config
	dialer websocket.Dialer
	logger *slog.Logger
}

type inbound struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func New(cfg Config) *Synthesizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Synthesizer{
		cfg:    cfg,
		dialer: websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		logger: logging.NewComponentLogger(cfg.Logger, "elevenlabs_tts"),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (audiostore.Clip, error) {
	if s.cfg.APIKey == "" {
		return audiostore.Clip{}, errors.New("missing elevenlabs api key")
	}
	voiceID := s.voiceID(voice)
	if voiceID == "" {
		return audiostore.Clip{}, fmt.Errorf("no elevenlabs voice for %q", voice)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	u, err := s.buildURL(voiceID)
	if err != nil {
		return audiostore.Clip{}, err
	}
	conn, resp, err := s.dialer.DialContext(ctx, u, http.Header{"xi-api-key": []string{s.cfg.APIKey}})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			s.logger.Warn("elevenlabs_rate_limited", slog.String("status", resp.Status))
			return audiostore.Clip{}, errorsx.Wrap(
				resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}, errorsx.ReasonTTSRateLimit)
		}
		return audiostore.Clip{}, errorsx.Wrapf(err, errorsx.ReasonTTSConnect, "dial elevenlabs")
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	messages := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        0.5,
				"similarity_boost": 0.8,
			},
		},
		{"text": strings.TrimSpace(text) + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, m := range messages {
		if err := conn.WriteJSON(m); err != nil {
			return audiostore.Clip{}, errorsx.Wrapf(err, errorsx.ReasonTTSSynth, "send text")
		}
	}

	var audio bytes.Buffer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return audiostore.Clip{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && audio.Len() > 0 {
				break
			}
			return audiostore.Clip{}, errorsx.Wrapf(err, errorsx.ReasonTTSSynth, "read audio")
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("elevenlabs_unparsed_message", slog.Int("size_bytes", len(data)))
			continue
		}
		if msg.Error != "" || (msg.Message != "" && msg.Audio == "" && !msg.IsFinal) {
			return audiostore.Clip{}, errorsx.Wrap(
				fmt.Errorf("elevenlabs: %s", firstNonEmpty(msg.Error, msg.Message)), errorsx.ReasonTTSSynth)
		}
		if msg.Audio != "" {
			raw, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return audiostore.Clip{}, errorsx.Wrapf(err, errorsx.ReasonTTSSynth, "decode audio")
			}
			audio.Write(raw)
		}
		if msg.IsFinal {
			break
		}
	}

	s.logger.Debug("elevenlabs_synthesized",
		slog.String("voice_id", voiceID),
		slog.Int("size_bytes", audio.Len()))
	return audiostore.Clip{ContentType: contentType(s.cfg.OutputFormat), Data: audio.Bytes()}, nil
}

func (s *Synthesizer) voiceID(name string) string {
	if id, ok := s.cfg.Voices[name]; ok && id != "" {
		return id
	}
	return s.cfg.VoiceID
}

func (s *Synthesizer) buildURL(voiceID string) (string, error) {
	base, err := url.Parse(strings.TrimRight(s.cfg.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse elevenlabs base url: %w", err)
	}
	base.Path += "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func contentType(format string) string {
	switch {
	case strings.HasPrefix(format, "mp3"):
		return "audio/mpeg"
	case strings.HasPrefix(format, "pcm"):
		return "audio/L16"
	case strings.HasPrefix(format, "ulaw"):
		return "audio/basic"
	default:
		return "application/octet-stream"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ speech.Synthesizer = (*Synthesizer)(nil)
