package tutur

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/tutur/pkg/intent"
	"github.com/harunnryd/tutur/pkg/session"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Session       SessionConfig       `mapstructure:"session"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	AudioStore    AudioStoreConfig    `mapstructure:"audio_store"`
	Intent        IntentConfig        `mapstructure:"intent"`
	Messages      MessagesConfig      `mapstructure:"messages"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
}

type ServerConfig struct {
	Addr               string   `mapstructure:"addr"`
	WSPath             string   `mapstructure:"ws_path"`
	PublicURL          string   `mapstructure:"public_url"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	ReadLimitBytes     int64    `mapstructure:"read_limit_bytes"`
	WriteTimeoutMS     int      `mapstructure:"write_timeout_ms"`
	PingIntervalMS     int      `mapstructure:"ping_interval_ms"`
	HandshakeTimeoutMS int      `mapstructure:"handshake_timeout_ms"`
}

type SessionConfig struct {
	Language             string  `mapstructure:"language"`
	VoiceName            string  `mapstructure:"voice_name"`
	Interruptible        bool    `mapstructure:"interruptible"`
	SystemPrompt         string  `mapstructure:"system_prompt"`
	ApologyText          string  `mapstructure:"apology_text"`
	// SpeakHoldMS of 0 leaves an interruptible session speaking until the
	// client interrupts or talks over the reply.
	SpeakHoldMS          int     `mapstructure:"speak_hold_ms"`
	AudioFramesPerSecond float64 `mapstructure:"audio_frames_per_second"`
	AudioBurst           int     `mapstructure:"audio_burst"`
	OutboundBuffer       int     `mapstructure:"outbound_buffer"`
}

// BackendConfig tunes the asynchronous run protocol.
type BackendConfig struct {
	PollIntervalMS  int `mapstructure:"poll_interval_ms"`
	MaxPollAttempts int `mapstructure:"max_poll_attempts"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

// VendorsConfig selects providers. STT and TTS may be left empty to run the
// service text-only.
type VendorsConfig struct {
	LLM VendorConfig `mapstructure:"llm"`
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
}

type AudioStoreConfig struct {
	Provider string `mapstructure:"provider"`
	TTLMS    int    `mapstructure:"ttl_ms"`
	RedisURL string `mapstructure:"redis_url"`
}

type IntentConfig struct {
	Keywords []string `mapstructure:"keywords"`
}

// MessagesConfig drives the stateless message endpoint. An empty vendor
// falls back to vendors.llm.
type MessagesConfig struct {
	Enabled      bool         `mapstructure:"enabled"`
	SystemPrompt string       `mapstructure:"system_prompt"`
	Vendor       VendorConfig `mapstructure:"vendor"`
	MaxAttempts  int          `mapstructure:"max_attempts"`
	BaseDelayMS  int          `mapstructure:"base_delay_ms"`
	TimeoutMS    int          `mapstructure:"timeout_ms"`
}

// ObservabilityConfig selects event sinks. EventsPath appends every event to
// one JSONL file; TimelineDir writes one file per session and purges files
// older than RetentionHours at startup.
type ObservabilityConfig struct {
	EventsPath     string  `mapstructure:"events_path"`
	TimelineDir    string  `mapstructure:"timeline_dir"`
	RetentionHours int     `mapstructure:"retention_hours"`
	SampleRate     float64 `mapstructure:"sample_rate"`
	Buffer         int     `mapstructure:"buffer"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type ShutdownConfig struct {
	DrainTimeoutMS int `mapstructure:"drain_timeout_ms"`
}

const DefaultMessagesPrompt = "You are the AXS Passport AI Agent, designed to help with workplace adjustments. " +
	"You assist users in creating and managing adjustment records for employees with disabilities or health conditions."

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_any_origin", false)
	v.SetDefault("server.read_limit_bytes", 1<<20)
	v.SetDefault("server.write_timeout_ms", 5000)
	v.SetDefault("server.ping_interval_ms", 20000)
	v.SetDefault("server.handshake_timeout_ms", 10000)
	v.SetDefault("session.language", session.DefaultLanguage)
	v.SetDefault("session.voice_name", session.DefaultVoice)
	v.SetDefault("session.interruptible", true)
	v.SetDefault("session.system_prompt", "")
	v.SetDefault("session.apology_text", session.DefaultApology)
	v.SetDefault("session.speak_hold_ms", 0)
	v.SetDefault("session.audio_frames_per_second", 50)
	v.SetDefault("session.audio_burst", 100)
	v.SetDefault("session.outbound_buffer", 64)
	v.SetDefault("backend.poll_interval_ms", 1000)
	v.SetDefault("backend.max_poll_attempts", 30)
	v.SetDefault("audio_store.provider", "memory")
	v.SetDefault("audio_store.ttl_ms", 600000)
	v.SetDefault("audio_store.redis_url", "")
	v.SetDefault("intent.keywords", intent.DefaultKeywords)
	v.SetDefault("messages.enabled", true)
	v.SetDefault("messages.system_prompt", DefaultMessagesPrompt)
	v.SetDefault("messages.max_attempts", 3)
	v.SetDefault("messages.base_delay_ms", 200)
	v.SetDefault("messages.timeout_ms", 60000)
	v.SetDefault("observability.events_path", "")
	v.SetDefault("observability.timeline_dir", "")
	v.SetDefault("observability.retention_hours", 0)
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("observability.buffer", 2048)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("shutdown.drain_timeout_ms", 10000)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// LoadConfig reads path, applies defaults, expands ${ENV} references and
// validates the result.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return decode(v)
}

// DefaultConfig is the configuration with every default applied and no
// file read. Callers must still choose an LLM provider.
func DefaultConfig() Config {
	v := viper.New()
	setDefaults(v)
	cfg, _ := unmarshal(v)
	return cfg
}

func decode(v *viper.Viper) (Config, error) {
	cfg, err := unmarshal(v)
	if err != nil {
		return Config{}, err
	}
	expandEnvStrings(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WSPath)
	}
	if strings.TrimSpace(c.Server.PublicURL) == "" {
		return fmt.Errorf("server.public_url is required")
	}
	if strings.TrimSpace(c.Session.Language) == "" {
		return fmt.Errorf("session.language is required")
	}
	if strings.TrimSpace(c.Session.VoiceName) == "" {
		return fmt.Errorf("session.voice_name is required")
	}
	if c.Session.SpeakHoldMS < 0 {
		return fmt.Errorf("session.speak_hold_ms must be >= 0, got %d", c.Session.SpeakHoldMS)
	}
	if c.Backend.MaxPollAttempts <= 0 {
		return fmt.Errorf("backend.max_poll_attempts must be > 0, got %d", c.Backend.MaxPollAttempts)
	}
	if c.Backend.PollIntervalMS <= 0 {
		return fmt.Errorf("backend.poll_interval_ms must be > 0, got %d", c.Backend.PollIntervalMS)
	}
	switch strings.ToLower(strings.TrimSpace(c.AudioStore.Provider)) {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.AudioStore.RedisURL) == "" {
			return fmt.Errorf("audio_store.redis_url is required for the redis provider")
		}
	default:
		return fmt.Errorf("audio_store.provider must be one of [memory, redis], got %q", c.AudioStore.Provider)
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be between 0 and 1, got %v", c.Observability.SampleRate)
	}
	return nil
}

// SessionDefaults is the client-visible configuration a new session starts with.
func (c Config) SessionDefaults() session.Config {
	return session.Config{
		Language:      c.Session.Language,
		VoiceName:     c.Session.VoiceName,
		Interruptible: c.Session.Interruptible,
	}
}

// MessagesVendor returns the vendor block the message endpoint uses.
func (c Config) MessagesVendor() VendorConfig {
	if strings.TrimSpace(c.Messages.Vendor.Provider) != "" {
		return c.Messages.Vendor
	}
	return c.Vendors.LLM
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Messages.Vendor.Settings = expandSettings(cfg.Messages.Vendor.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = expandAny(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if ks, ok := k.(string); ok {
				out[ks] = expandAny(item)
			}
		}
		return out
	default:
		return v
	}
}

// expandValue walks exported string fields; settings maps are handled by
// expandSettings because their values are untyped.
func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			expandValue(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
