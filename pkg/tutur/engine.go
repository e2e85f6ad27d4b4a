// Package tutur assembles a runnable service from configuration: providers,
// observers, the speech bridge, the session registry and the HTTP server.
package tutur

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harunnryd/tutur/pkg/audiostore"
	"github.com/harunnryd/tutur/pkg/intent"
	"github.com/harunnryd/tutur/pkg/llm"
	"github.com/harunnryd/tutur/pkg/logging"
	"github.com/harunnryd/tutur/pkg/metrics"
	"github.com/harunnryd/tutur/pkg/observers"
	"github.com/harunnryd/tutur/pkg/redact"
	"github.com/harunnryd/tutur/pkg/runner"
	"github.com/harunnryd/tutur/pkg/server"
	"github.com/harunnryd/tutur/pkg/session"
	"github.com/harunnryd/tutur/pkg/speech"
	"github.com/harunnryd/tutur/pkg/transcript"
	"github.com/harunnryd/tutur/pkg/transports"
	wstransport "github.com/harunnryd/tutur/pkg/transports/websocket"
)

// messagesTemperature is the sampling temperature the stateless endpoint
// asks completion backends for unless the vendor block sets one.
const messagesTemperature = 0.7

// sampledEvents are high-volume events thinned by observability.sample_rate.
var sampledEvents = []string{metrics.EventAudioIn, metrics.EventAudioDropped, metrics.EventRunPoll}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Intent replaces the keyword classifier built from intent.keywords.
	Intent intent.Classifier
	// Logger defaults to a process logger built from log_level and log_format.
	Logger *slog.Logger
	// Banner receives the startup banner; nil prints nothing.
	Banner io.Writer
}

type Engine struct {
	cfg      Config
	base     *slog.Logger
	logger   *slog.Logger
	obs      metrics.Observer
	async    *metrics.AsyncObserver
	timeline *observers.TimelineObserver
	backends llm.Factory
	bridge   *speech.Bridge
	store    audiostore.Store
	intent   intent.Classifier
	registry *session.Registry
	server   *server.Server
	runner   *runner.LifecycleRunner
	closers  []func() error
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.InitLogger(logging.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)
	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
		RegisterBuiltins(providers)
	}

	e := &Engine{cfg: cfg, base: logger, logger: logging.NewComponentLogger(logger, "engine")}
	e.logger.Info("tutur_init",
		"llm_provider", cfg.Vendors.LLM.Provider,
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"audio_store", cfg.AudioStore.Provider,
	)

	if err := e.buildObservers(logger); err != nil {
		e.close()
		return nil, err
	}
	if err := e.buildSpeech(providers, logger); err != nil {
		e.close()
		return nil, err
	}
	deps := Deps{Observer: e.obs, Logger: logger}

	backends, err := providers.BuildBackendFactory(cfg.Vendors.LLM, cfg, deps)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("build llm: %w", err)
	}
	e.backends = backends

	e.intent = opts.Intent
	if e.intent == nil {
		e.intent = intent.NewKeywordClassifier(cfg.Intent.Keywords...)
	}
	e.registry = session.NewRegistry()

	messages, err := e.buildMessages(providers, deps)
	if err != nil {
		e.close()
		return nil, err
	}

	e.server = server.New(server.Options{
		Addr:           cfg.Server.Addr,
		WSPath:         cfg.Server.WSPath,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowAnyOrigin: cfg.Server.AllowAnyOrigin,
		WS: wstransport.Config{
			ReadLimit:        cfg.Server.ReadLimitBytes,
			WriteTimeout:     ms(cfg.Server.WriteTimeoutMS),
			PingInterval:     ms(cfg.Server.PingIntervalMS),
			HandshakeTimeout: ms(cfg.Server.HandshakeTimeoutMS),
			OutboundBuffer:   cfg.Session.OutboundBuffer,
		},
		Sessions: e.newSession,
		Registry: e.registry,
		Audio:    e.store,
		Messages: messages,
		Logger:   logger,
	})

	e.runner = runner.NewLifecycleRunner(runner.Options{
		Drainer:      runner.DrainerFunc(e.drain),
		DrainTimeout: ms(cfg.Shutdown.DrainTimeoutMS),
		Banner:       opts.Banner,
		Title:        "TUTUR",
		Hooks: runner.Hooks{
			OnStart: func() {
				e.logger.Info("tutur_started", "addr", e.server.Addr(), "ws_path", cfg.Server.WSPath)
			},
			OnStop: func() {
				e.close()
				e.logger.Info("tutur_stopped")
			},
		},
	})
	return e, nil
}

func (e *Engine) buildObservers(logger *slog.Logger) error {
	cfg := e.cfg.Observability
	list := []metrics.Observer{
		observers.NewLoggerObserver(logger),
		observers.NewLatencyObserver(logger),
	}
	if path := strings.TrimSpace(cfg.EventsPath); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("observability.events_path: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("observability.events_path: %w", err)
		}
		jsonl := metrics.NewJSONLObserver(f)
		list = append(list, jsonl)
		e.closers = append(e.closers, jsonl.Close)
	}
	if dir := strings.TrimSpace(cfg.TimelineDir); dir != "" {
		e.timeline = observers.NewTimelineObserver(dir)
		e.purgeTimelines()
		list = append(list, e.timeline)
		e.closers = append(e.closers, e.timeline.Close)
	}
	sampled := metrics.NewSamplingObserver(observers.NewMultiObserver(list...), cfg.SampleRate, sampledEvents...)
	// The async observer must drain before the sinks above are closed.
	e.async = metrics.NewAsyncObserver(sampled, cfg.Buffer)
	e.closers = append([]func() error{func() error { e.async.Close(); return nil }}, e.closers...)
	e.obs = e.async
	return nil
}

func (e *Engine) purgeTimelines() {
	hours := e.cfg.Observability.RetentionHours
	if e.timeline == nil || hours <= 0 {
		return
	}
	removed, err := e.timeline.Purge(time.Duration(hours)*time.Hour, time.Now())
	if err != nil {
		e.logger.Warn("timeline_purge_failed", "error", err.Error())
	} else if removed > 0 {
		e.logger.Info("timeline_purged", "removed", removed)
	}
}

// retainTimelines repeats the startup purge every hour while the engine runs.
func (e *Engine) retainTimelines(ctx context.Context) {
	if e.timeline == nil || e.cfg.Observability.RetentionHours <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.purgeTimelines()
		}
	}
}

func (e *Engine) buildSpeech(providers *ProviderRegistry, logger *slog.Logger) error {
	deps := Deps{Observer: e.obs, Logger: logger}
	store, err := providers.BuildAudioStore(e.cfg)
	if err != nil {
		return fmt.Errorf("build audio store: %w", err)
	}
	e.store = store
	if c, ok := store.(io.Closer); ok {
		e.closers = append(e.closers, c.Close)
	}
	recognizers, err := providers.BuildRecognizerFactory(e.cfg.Vendors.STT, e.cfg, deps)
	if err != nil {
		return fmt.Errorf("build stt: %w", err)
	}
	synth, err := providers.BuildSynthesizer(e.cfg.Vendors.TTS, e.cfg, deps)
	if err != nil {
		return fmt.Errorf("build tts: %w", err)
	}
	if recognizers == nil {
		e.logger.Warn("speech_recognition_disabled", "reason", "vendors.stt.provider is empty")
	}
	if synth == nil {
		e.logger.Warn("speech_synthesis_disabled", "reason", "vendors.tts.provider is empty")
	}
	e.bridge = speech.NewBridge(speech.BridgeOptions{
		Recognizers: recognizers,
		Synthesizer: synth,
		Store:       store,
		PublicURL:   e.cfg.Server.PublicURL,
		Logger:      logger,
	})
	return nil
}

// buildMessages wires the stateless endpoint. Each request draws its own
// backend so assistant providers never share a thread between callers.
func (e *Engine) buildMessages(providers *ProviderRegistry, deps Deps) (server.MessagesConfig, error) {
	cfg := e.cfg.Messages
	if !cfg.Enabled {
		return server.MessagesConfig{}, nil
	}
	vendor := e.cfg.MessagesVendor()
	switch providerKey(vendor.Provider) {
	case "openai", "azure_openai":
		if _, ok := vendor.Settings["temperature"]; !ok {
			vendor.Settings = withSetting(vendor.Settings, "temperature", messagesTemperature)
		}
	}
	factory, err := providers.BuildBackendFactory(vendor, e.cfg, deps)
	if err != nil {
		return server.MessagesConfig{}, fmt.Errorf("build messages backend: %w", err)
	}
	backend := llm.BackendFunc(func(ctx context.Context, history []transcript.Turn) (string, error) {
		b, err := factory()
		if err != nil {
			return "", err
		}
		return b.Converse(ctx, history)
	})
	return server.MessagesConfig{
		Backend:      backend,
		SystemPrompt: cfg.SystemPrompt,
		Intent:       e.intent,
		Retry: llm.RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   ms(cfg.BaseDelayMS),
			Jitter:      0.2,
		},
		Timeout: ms(cfg.TimeoutMS),
	}, nil
}

func (e *Engine) newSession(conn transports.Conn) (*session.Session, error) {
	backend, err := e.backends()
	if err != nil {
		return nil, fmt.Errorf("build backend: %w", err)
	}
	return session.New(session.Options{
		Conn:         conn,
		Backend:      backend,
		Speech:       e.bridge,
		Intent:       e.intent,
		Config:       e.cfg.SessionDefaults(),
		SystemPrompt: e.cfg.Session.SystemPrompt,
		ApologyText:  e.cfg.Session.ApologyText,
		SpeakHold:    ms(e.cfg.Session.SpeakHoldMS),
		AudioRate:    e.cfg.Session.AudioFramesPerSecond,
		AudioBurst:   e.cfg.Session.AudioBurst,
		Observer:     e.obs,
		Logger:       e.base,
	})
}

func (e *Engine) drain(ctx context.Context) error {
	e.logger.Info("tutur_draining", "sessions", e.registry.Count())
	drainErr := e.server.Drain(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ms(e.cfg.Server.WriteTimeoutMS))
	defer cancel()
	return errors.Join(drainErr, e.server.Shutdown(shutdownCtx))
}

func (e *Engine) close() {
	for _, c := range e.closers {
		if err := c(); err != nil {
			e.logger.Warn("close_failed", "error", err.Error())
		}
	}
	e.closers = nil
}

// Run starts the server and blocks until ctx is done or Stop is called, then
// drains live sessions within shutdown.drain_timeout_ms.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.server.Start(); err != nil {
		e.close()
		return fmt.Errorf("start server: %w", err)
	}
	retainCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go e.retainTimelines(retainCtx)
	return e.runner.Run(ctx)
}

func (e *Engine) Stop() error { return e.runner.Stop() }

func (e *Engine) Server() *server.Server { return e.server }

func (e *Engine) Registry() *session.Registry { return e.registry }

func (e *Engine) Config() Config { return e.cfg }

// Store exposes the clip store sessions publish synthesized audio to.
func (e *Engine) Store() audiostore.Store { return e.store }
