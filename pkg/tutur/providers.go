package tutur

import (
	"fmt"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/harunnryd/tutur/pkg/audiostore"
	"github.com/harunnryd/tutur/pkg/configutil"
	"github.com/harunnryd/tutur/pkg/llm"
	"github.com/harunnryd/tutur/pkg/providers/deepgram"
	"github.com/harunnryd/tutur/pkg/providers/elevenlabs"
	"github.com/harunnryd/tutur/pkg/providers/mock"
	"github.com/harunnryd/tutur/pkg/providers/openai"
	"github.com/harunnryd/tutur/pkg/resilience"
	"github.com/harunnryd/tutur/pkg/speech"
)

type openAIClientSettings struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Azure      bool   `mapstructure:"azure"`
	APIVersion string `mapstructure:"api_version"`
	OrgID      string `mapstructure:"org_id"`
}

type breakerSettings struct {
	UseCircuitBreaker *bool `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int   `mapstructure:"circuit_threshold"`
	CircuitCooldownMS int   `mapstructure:"circuit_cooldown_ms"`
}

type completionSettings struct {
	openAIClientSettings `mapstructure:",squash"`
	breakerSettings      `mapstructure:",squash"`
	Model                string   `mapstructure:"model"`
	Temperature          *float32 `mapstructure:"temperature"`
	TopP                 *float32 `mapstructure:"top_p"`
	MaxTokens            int      `mapstructure:"max_tokens"`
}

type assistantSettings struct {
	openAIClientSettings `mapstructure:",squash"`
	breakerSettings      `mapstructure:",squash"`
	AssistantID          string `mapstructure:"assistant_id"`
	ThreadID             string `mapstructure:"thread_id"`
	PollIntervalMS       int    `mapstructure:"poll_interval_ms"`
	MaxPollAttempts      int    `mapstructure:"max_poll_attempts"`
}

type mockBackendSettings struct {
	ResponseText string   `mapstructure:"response_text"`
	Replies      []string `mapstructure:"replies"`
	DelayMS      int      `mapstructure:"delay_ms"`
}

type deepgramSettings struct {
	APIKey           string `mapstructure:"api_key"`
	Model            string `mapstructure:"model"`
	SampleRate       int    `mapstructure:"sample_rate"`
	Encoding         string `mapstructure:"encoding"`
	Interim          *bool  `mapstructure:"interim"`
	UtteranceEndMS   *int   `mapstructure:"utterance_end_ms"`
	ConnectRetries   int    `mapstructure:"connect_retries"`
	ConnectBackoffMS int    `mapstructure:"connect_backoff_ms"`
}

type whisperSettings struct {
	openAIClientSettings `mapstructure:",squash"`
	Model                string `mapstructure:"model"`
	FileName             string `mapstructure:"file_name"`
	SilenceMS            int    `mapstructure:"silence_ms"`
	MaxSegmentBytes      int    `mapstructure:"max_segment_bytes"`
}

type mockRecognizerSettings struct {
	Transcript string `mapstructure:"transcript"`
	Interim    string `mapstructure:"interim"`
}

type elevenlabsSettings struct {
	APIKey       string            `mapstructure:"api_key"`
	VoiceID      string            `mapstructure:"voice_id"`
	Voices       map[string]string `mapstructure:"voices"`
	ModelID      string            `mapstructure:"model_id"`
	OutputFormat string            `mapstructure:"output_format"`
	BaseURL      string            `mapstructure:"base_url"`
	TimeoutMS    int               `mapstructure:"timeout_ms"`
}

type openAISpeechSettings struct {
	openAIClientSettings `mapstructure:",squash"`
	Model                string  `mapstructure:"model"`
	DefaultVoice         string  `mapstructure:"default_voice"`
	Speed                float64 `mapstructure:"speed"`
}

type mockSynthesizerSettings struct {
	Size int `mapstructure:"size"`
}

var (
	clientKeys  = []string{"base_url", "azure", "api_version", "org_id"}
	breakerKeys = []string{"use_circuit_breaker", "circuit_threshold", "circuit_cooldown_ms"}
)

// RegisterBuiltins installs every provider shipped with tutur.
func RegisterBuiltins(reg *ProviderRegistry) {
	reg.RegisterLLM("openai", buildCompletion)
	reg.RegisterLLM("azure_openai", func(v VendorConfig, cfg Config, deps Deps) (llm.Factory, error) {
		v.Settings = withSetting(v.Settings, "azure", true)
		return buildCompletion(v, cfg, deps)
	})
	reg.RegisterLLM("openai_assistant", buildAssistant)
	reg.RegisterLLM("mock", buildMockBackend)

	reg.RegisterSTT("deepgram", buildDeepgram)
	reg.RegisterSTT("openai", buildWhisper)
	reg.RegisterSTT("mock", buildMockRecognizer)

	reg.RegisterTTS("elevenlabs", buildElevenLabs)
	reg.RegisterTTS("openai", buildOpenAISpeech)
	reg.RegisterTTS("mock", buildMockSynthesizer)

	reg.RegisterAudioStore("memory", func(cfg Config) (audiostore.Store, error) {
		return audiostore.NewMemory(ms(cfg.AudioStore.TTLMS)), nil
	})
	reg.RegisterAudioStore("redis", func(cfg Config) (audiostore.Store, error) {
		return audiostore.NewRedisFromURL(cfg.AudioStore.RedisURL, ms(cfg.AudioStore.TTLMS))
	})
}

func buildCompletion(v VendorConfig, _ Config, deps Deps) (llm.Factory, error) {
	const path = "vendors.llm.settings"
	if err := configutil.ValidateSettings(path, v.Settings, configutil.Schema{
		Required: []string{"api_key", "model"},
		Optional: join(clientKeys, breakerKeys, []string{"temperature", "top_p", "max_tokens"}),
	}); err != nil {
		return nil, err
	}
	var s completionSettings
	if err := configutil.DecodeSettings(v.Settings, &s); err != nil {
		return nil, err
	}
	if err := requireClient(s.openAIClientSettings, path); err != nil {
		return nil, err
	}
	backend, err := openai.NewCompletion(openai.CompletionOptions{
		Client:      newOpenAIClient(s.openAIClientSettings),
		Model:       s.Model,
		Temperature: float32Value(s.Temperature, 1.0),
		TopP:        float32Value(s.TopP, 1.0),
		MaxTokens:   s.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	shared := withBreaker(backend, s.breakerSettings, deps)
	return func() (llm.Backend, error) { return shared, nil }, nil
}

// buildAssistant hands every conversation its own Assistant so each gets its
// own thread. The circuit breaker is shared so an upstream outage trips once.
func buildAssistant(v VendorConfig, cfg Config, deps Deps) (llm.Factory, error) {
	const path = "vendors.llm.settings"
	if err := configutil.ValidateSettings(path, v.Settings, configutil.Schema{
		Required: []string{"api_key", "assistant_id"},
		Optional: join(clientKeys, breakerKeys, []string{"thread_id", "poll_interval_ms", "max_poll_attempts"}),
	}); err != nil {
		return nil, err
	}
	var s assistantSettings
	if err := configutil.DecodeSettings(v.Settings, &s); err != nil {
		return nil, err
	}
	if err := requireClient(s.openAIClientSettings, path); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(s.AssistantID, path+".assistant_id"); err != nil {
		return nil, err
	}
	client := newOpenAIClient(s.openAIClientSettings)
	interval := cfg.Backend.PollIntervalMS
	if s.PollIntervalMS > 0 {
		interval = s.PollIntervalMS
	}
	attempts := cfg.Backend.MaxPollAttempts
	if s.MaxPollAttempts > 0 {
		attempts = s.MaxPollAttempts
	}
	breaker := newBreaker(s.breakerSettings)
	return func() (llm.Backend, error) {
		a, err := openai.NewAssistant(openai.AssistantOptions{
			Client:       client,
			AssistantID:  s.AssistantID,
			ThreadID:     s.ThreadID,
			PollInterval: ms(interval),
			MaxAttempts:  attempts,
			Observer:     deps.Observer,
			Logger:       deps.Logger,
		})
		if err != nil {
			return nil, err
		}
		if breaker == nil {
			return a, nil
		}
		cb := llm.NewCircuitBreakerBackend(a, breaker)
		cb.SetObserver(deps.Observer)
		return cb, nil
	}, nil
}

func buildMockBackend(v VendorConfig, _ Config, _ Deps) (llm.Factory, error) {
	if err := configutil.ValidateSettings("vendors.llm.settings", v.Settings, configutil.Schema{
		Optional: []string{"response_text", "replies", "delay_ms"},
	}); err != nil {
		return nil, err
	}
	var s mockBackendSettings
	if err := configutil.DecodeSettings(v.Settings, &s); err != nil {
		return nil, err
	}
	return func() (llm.Backend, error) {
		return mock.NewBackend(mock.BackendConfig{
			ResponseText: s.ResponseText,
			Replies:      s.Replies,
			Delay:        ms(s.DelayMS),
		}), nil
	}, nil
}

func buildDeepgram(v VendorConfig, _ Config, deps Deps) (speech.RecognizerFactory, error) {
	const path = "vendors.stt.settings"
	if err := configutil.ValidateSettings(path, v.Settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "sample_rate", "encoding", "interim", "utterance_end_ms", "connect_retries", "connect_backoff_ms"},
	}); err != nil {
		return nil, err
	}
	var s deepgramSettings
	if err := configutil.DecodeSettings(v.Settings, &s); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(s.APIKey, path+".api_key"); err != nil {
		return nil, err
	}
	if s.Encoding != "" && !validDeepgramEncoding(s.Encoding) {
		return nil, fmt.Errorf("%s.encoding must be one of [linear16, mulaw, opus], got %s", path, s.Encoding)
	}
	utteranceEnd := configutil.IntValue(s.UtteranceEndMS, 1000)
	if utteranceEnd < 0 || utteranceEnd > 5000 {
		return nil, fmt.Errorf("%s.utterance_end_ms must be between 0 and 5000, got %d", path, utteranceEnd)
	}
	interim := configutil.BoolValue(s.Interim, true)
	return func(language string) speech.Recognizer {
		return deepgram.New(deepgram.Config{
			APIKey:         s.APIKey,
			Model:          s.Model,
			Language:       language,
			SampleRate:     s.SampleRate,
			Encoding:       s.Encoding,
			Interim:        interim,
			UtteranceEndMS: utteranceEnd,
			ConnectRetries: s.ConnectRetries,
			ConnectBackoff: ms(s.ConnectBackoffMS),
			Logger:         deps.Logger,
		})
	}, nil
}

func buildWhisper(v VendorConfig, _ Config, deps Deps) (speech.RecognizerFactory, error) {
	const path = "vendors.stt.settings"
	if err := configutil.ValidateSettings(path, v.Settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: join(clientKeys, []string{"model", "file_name", "silence_ms", "max_segment_bytes"}),
	}); err != nil {
		return nil, err
	}
	var s whisperSettings
	if err := configutil.DecodeSettings(v.Settings, &s); err != nil {
		return nil, err
	}
	if err := requireClient(s.openAIClientSettings, path); err != nil {
		return nil, err
	}
	client := newOpenAIClient(s.openAIClientSettings)
	return func(language string) speech.Recognizer {
		return openai.NewTranscriber(openai.TranscriberOptions{
			Client:          client,
			Model:           s.Model,
			Language:        language,
			FileName:        s.FileName,
			Silence:         ms(s.SilenceMS),
			MaxSegmentBytes: s.MaxSegmentBytes,
			Logger:          deps.Logger,
		})
	}, nil
}

func buildMockRecognizer(v VendorConfig, _ Config, _ Deps) (speech.RecognizerFactory, error) {
	if err := configutil.ValidateSettings("vendors.stt.settings", v.Settings, configutil.Schema{
		Optional: []string{"transcript", "interim"},
	}); err != nil {
		return nil, err
	}
	var s mockRecognizerSettings
	if err := configutil.DecodeSettings(v.Settings, &s); err != nil {
		return nil, err
	}
	return func(string) speech.Recognizer {
		return mock.NewRecognizer(mock.RecognizerConfig{Transcript: s.Transcript, Interim: s.Interim})
	}, nil
}

func buildElevenLabs(v VendorConfig, _ Config, deps Deps) (speech.Synthesizer, error) {
	const path = "vendors.tts.settings"
	if err := configutil.ValidateSettings(path, v.Settings, configutil.Schema{
		Required: []string{"api_key", "voice_id"},
		Optional: []string{"voices", "model_id", "output_format", "base_url", "timeout_ms"},
	}); err != nil {
		return nil, err
	}
	var s elevenlabsSettings
	if err := configutil.DecodeSettings(v.Settings, &s); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(s.APIKey, path+".api_key"); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(s.VoiceID, path+".voice_id"); err != nil {
		return nil, err
	}
	return elevenlabs.New(elevenlabs.Config{
		APIKey:       s.APIKey,
		VoiceID:      s.VoiceID,
		Voices:       s.Voices,
		ModelID:      s.ModelID,
		OutputFormat: s.OutputFormat,
		BaseURL:      s.BaseURL,
		Timeout:      ms(s.TimeoutMS),
		Logger:       deps.Logger,
	}), nil
}

func buildOpenAISpeech(v VendorConfig, _ Config, _ Deps) (speech.Synthesizer, error) {
	const path = "vendors.tts.settings"
	if err := configutil.ValidateSettings(path, v.Settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: join(clientKeys, []string{"model", "default_voice", "speed"}),
	}); err != nil {
		return nil, err
	}
	var s openAISpeechSettings
	if err := configutil.DecodeSettings(v.Settings, &s); err != nil {
		return nil, err
	}
	if err := requireClient(s.openAIClientSettings, path); err != nil {
		return nil, err
	}
	sp, err := openai.NewSpeech(openai.SpeechOptions{
		Client:       newOpenAIClient(s.openAIClientSettings),
		Model:        s.Model,
		DefaultVoice: s.DefaultVoice,
		Speed:        s.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sp, nil
}

func buildMockSynthesizer(v VendorConfig, _ Config, _ Deps) (speech.Synthesizer, error) {
	if err := configutil.ValidateSettings("vendors.tts.settings", v.Settings, configutil.Schema{
		Optional: []string{"size"},
	}); err != nil {
		return nil, err
	}
	var s mockSynthesizerSettings
	if err := configutil.DecodeSettings(v.Settings, &s); err != nil {
		return nil, err
	}
	return mock.NewSynthesizer(mock.SynthesizerConfig{Size: s.Size}), nil
}

func newOpenAIClient(s openAIClientSettings) *goopenai.Client {
	return openai.NewClient(openai.ClientConfig{
		APIKey:     s.APIKey,
		BaseURL:    s.BaseURL,
		Azure:      s.Azure,
		APIVersion: s.APIVersion,
		OrgID:      s.OrgID,
	})
}

func requireClient(s openAIClientSettings, path string) error {
	if err := configutil.RequireString(s.APIKey, path+".api_key"); err != nil {
		return err
	}
	if s.Azure {
		return configutil.RequireString(s.BaseURL, path+".base_url")
	}
	return nil
}

func newBreaker(s breakerSettings) *resilience.CircuitBreaker {
	if !configutil.BoolValue(s.UseCircuitBreaker, true) {
		return nil
	}
	threshold := s.CircuitThreshold
	if threshold == 0 {
		threshold = 3
	}
	cooldown := s.CircuitCooldownMS
	if cooldown == 0 {
		cooldown = 30000
	}
	return resilience.NewCircuitBreaker(threshold, time.Duration(cooldown)*time.Millisecond)
}

func withBreaker(b llm.Backend, s breakerSettings, deps Deps) llm.Backend {
	breaker := newBreaker(s)
	if breaker == nil {
		return b
	}
	cb := llm.NewCircuitBreakerBackend(b, breaker)
	cb.SetObserver(deps.Observer)
	return cb
}

func validDeepgramEncoding(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "linear16", "mulaw", "opus":
		return true
	default:
		return false
	}
}

func withSetting(settings map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(settings)+1)
	for k, v := range settings {
		out[k] = v
	}
	out[key] = value
	return out
}

func float32Value(v *float32, fallback float32) float32 {
	if v == nil {
		return fallback
	}
	return *v
}

func join(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
