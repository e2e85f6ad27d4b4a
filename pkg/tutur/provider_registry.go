package tutur

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/harunnryd/tutur/pkg/audiostore"
	"github.com/harunnryd/tutur/pkg/llm"
	"github.com/harunnryd/tutur/pkg/metrics"
	"github.com/harunnryd/tutur/pkg/speech"
)

// Deps is the shared infrastructure handed to provider builders.
type Deps struct {
	Observer metrics.Observer
	Logger   *slog.Logger
}

// BackendBuilder returns the factory sessions draw their backend from.
// Stateful backends return a fresh instance per call; stateless ones share.
type BackendBuilder func(vendor VendorConfig, cfg Config, deps Deps) (llm.Factory, error)
type RecognizerBuilder func(vendor VendorConfig, cfg Config, deps Deps) (speech.RecognizerFactory, error)
type SynthesizerBuilder func(vendor VendorConfig, cfg Config, deps Deps) (speech.Synthesizer, error)
type AudioStoreBuilder func(cfg Config) (audiostore.Store, error)

type ProviderRegistry struct {
	llm    map[string]BackendBuilder
	stt    map[string]RecognizerBuilder
	tts    map[string]SynthesizerBuilder
	stores map[string]AudioStoreBuilder
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		llm:    make(map[string]BackendBuilder),
		stt:    make(map[string]RecognizerBuilder),
		tts:    make(map[string]SynthesizerBuilder),
		stores: make(map[string]AudioStoreBuilder),
	}
}

func providerKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func (r *ProviderRegistry) RegisterLLM(name string, b BackendBuilder) { r.llm[providerKey(name)] = b }

func (r *ProviderRegistry) RegisterSTT(name string, b RecognizerBuilder) { r.stt[providerKey(name)] = b }

func (r *ProviderRegistry) RegisterTTS(name string, b SynthesizerBuilder) { r.tts[providerKey(name)] = b }

func (r *ProviderRegistry) RegisterAudioStore(name string, b AudioStoreBuilder) {
	r.stores[providerKey(name)] = b
}

func (r *ProviderRegistry) BuildBackendFactory(vendor VendorConfig, cfg Config, deps Deps) (llm.Factory, error) {
	fn := r.llm[providerKey(vendor.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", vendor.Provider)
	}
	return fn(vendor, cfg, deps)
}

// BuildRecognizerFactory returns nil, nil when no provider is configured.
func (r *ProviderRegistry) BuildRecognizerFactory(vendor VendorConfig, cfg Config, deps Deps) (speech.RecognizerFactory, error) {
	if providerKey(vendor.Provider) == "" {
		return nil, nil
	}
	fn := r.stt[providerKey(vendor.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", vendor.Provider)
	}
	return fn(vendor, cfg, deps)
}

// BuildSynthesizer returns nil, nil when no provider is configured.
func (r *ProviderRegistry) BuildSynthesizer(vendor VendorConfig, cfg Config, deps Deps) (speech.Synthesizer, error) {
	if providerKey(vendor.Provider) == "" {
		return nil, nil
	}
	fn := r.tts[providerKey(vendor.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", vendor.Provider)
	}
	return fn(vendor, cfg, deps)
}

func (r *ProviderRegistry) BuildAudioStore(cfg Config) (audiostore.Store, error) {
	fn := r.stores[providerKey(cfg.AudioStore.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("audio store provider not registered: %s", cfg.AudioStore.Provider)
	}
	return fn(cfg)
}
