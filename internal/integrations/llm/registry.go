package llm

import (
	"fmt"
	"net/http"
	"sync"

	"workflowaudit/internal/metrics"

	"go.uber.org/zap"
)

// Settings carries the per-provider endpoints and credentials the registry
// builds clients from. Model applies to ModelProvider only; every other
// provider, the fallback included, uses its built-in default model.
type Settings struct {
	Default          Provider
	ModelProvider    Provider
	Model            string
	OllamaURL        string
	OpenAIKey        string
	OpenAIBaseURL    string
	AnthropicKey     string
	AnthropicBaseURL string
	GeminiKey        string
	GeminiBaseURL    string
	HTTPClient       *http.Client
}

func (s Settings) providerConfig(p Provider) ProviderConfig {
	cfg := ProviderConfig{HTTPClient: s.HTTPClient}
	if p == s.ModelProvider {
		cfg.Model = s.Model
	}
	switch p {
	case ProviderOllama:
		cfg.BaseURL = s.OllamaURL
	case ProviderOpenAI:
		cfg.APIKey, cfg.BaseURL = s.OpenAIKey, s.OpenAIBaseURL
	case ProviderAnthropic:
		cfg.APIKey, cfg.BaseURL = s.AnthropicKey, s.AnthropicBaseURL
	case ProviderGemini:
		cfg.APIKey, cfg.BaseURL = s.GeminiKey, s.GeminiBaseURL
	}
	return cfg
}

// Registry hands out provider clients. It keeps one shared client per
// provider, built on first use. A call with a credential override always
// gets a private client that is never cached, so one caller's key is never
// seen by another.
type Registry struct {
	settings Settings
	logger   *zap.Logger
	metrics  *metrics.Metrics
	build    func(Provider, ProviderConfig) (Client, error)

	mu      sync.Mutex
	clients map[Provider]Client
}

func NewRegistry(settings Settings, logger *zap.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, ok := ParseProvider(string(settings.Default)); !ok {
		logger.Warn("llm default provider unknown, using ollama", zap.String("provider", string(settings.Default)))
		settings.Default = ProviderOllama
	}
	return &Registry{
		settings: settings,
		logger:   logger,
		metrics:  m,
		build:    NewClient,
		clients:  make(map[Provider]Client),
	}
}

// Default is the provider used for unknown names and for the fallback retry.
func (r *Registry) Default() Provider { return r.settings.Default }

// resolve maps a provider name onto the closed set, falling back to the
// default with a warning.
func (r *Registry) resolve(name string) Provider {
	if name == "" {
		return r.settings.Default
	}
	p, ok := ParseProvider(name)
	if !ok {
		r.logger.Warn("llm provider unknown, using default",
			zap.String("provider", name),
			zap.String("default", string(r.settings.Default)))
		return r.settings.Default
	}
	return p
}

// Client returns the cached client for the named provider.
func (r *Registry) Client(name string) (Client, error) {
	p := r.resolve(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[p]; ok {
		return c, nil
	}
	c, err := r.build(p, r.settings.providerConfig(p))
	if err != nil {
		return nil, fmt.Errorf("build %s client: %w", p, err)
	}
	c = instrument(c, r.logger, r.metrics)
	r.clients[p] = c
	return c, nil
}

// WithCredential returns a fresh client for the named provider using apiKey
// instead of the configured key. An empty apiKey behaves like Client.
func (r *Registry) WithCredential(name, apiKey string) (Client, error) {
	if apiKey == "" {
		return r.Client(name)
	}
	p := r.resolve(name)
	cfg := r.settings.providerConfig(p)
	cfg.APIKey = apiKey
	c, err := r.build(p, cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s client: %w", p, err)
	}
	return instrument(c, r.logger, r.metrics), nil
}
