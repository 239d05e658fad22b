// Package llm is the capability gateway: one interface over the supported
// text-generation providers, a registry that caches one client per provider,
// and a decorator that records metrics for every call.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// Providers is the closed set of supported backends.
var Providers = []Provider{ProviderOllama, ProviderOpenAI, ProviderAnthropic, ProviderGemini}

// ParseProvider matches name case-insensitively against Providers.
func ParseProvider(name string) (Provider, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range Providers {
		if string(p) == name {
			return p, true
		}
	}
	return "", false
}

const (
	defaultOllamaModel    = "llama3.1"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultGeminiModel    = "gemini-2.0-flash"
	defaultMaxTokens      = 4096
)

// Format asks the provider for a particular output shape. Providers without
// a native switch ignore it.
type Format string

const (
	FormatText Format = ""
	FormatJSON Format = "json"
)

type GenerateOptions struct {
	Temperature *float64
	System      string
	Format      Format
	MaxTokens   int
}

type ChatOptions struct {
	Temperature *float64
	Format      Format
	MaxTokens   int
}

// Temperature returns a pointer for the option structs.
func Temperature(v float64) *float64 { return &v }

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// normalizeRole folds the role spellings different providers use.
func normalizeRole(role Role) Role {
	switch strings.ToLower(strings.TrimSpace(string(role))) {
	case "system", "developer":
		return RoleSystem
	case "assistant", "model", "ai", "bot":
		return RoleAssistant
	default:
		return RoleUser
	}
}

// Response is whatever text the provider produced. No schema is enforced
// here; callers parse Content themselves.
type Response struct {
	Content    string
	Model      string
	TokenCount *int
	Elapsed    time.Duration
}

// Client is implemented once per provider.
type Client interface {
	Provider() Provider
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Response, error)
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (*Response, error)
	Ping(ctx context.Context) error
}

// ProviderError wraps every failure a provider reports: transport, HTTP
// status, API error payloads and empty responses.
type ProviderError struct {
	Provider   Provider
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func providerError(p Provider, op string, status int, err error) *ProviderError {
	return &ProviderError{Provider: p, Op: op, StatusCode: status, Err: err}
}

// ProviderConfig is what one provider client needs.
type ProviderConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds the client for p. The provider set is closed; anything
// else is an error here and a fallback at the registry.
func NewClient(p Provider, cfg ProviderConfig) (Client, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	switch p {
	case ProviderOllama:
		return newOllama(cfg), nil
	case ProviderOpenAI:
		return newOpenAI(cfg), nil
	case ProviderAnthropic:
		return newAnthropic(cfg), nil
	case ProviderGemini:
		return newGemini(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", p)
	}
}

// generateMessages turns a single-turn request into the chat form used by
// providers that only expose a chat endpoint.
func generateMessages(prompt string, opts GenerateOptions) ([]Message, ChatOptions) {
	var msgs []Message
	if opts.System != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: opts.System})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})
	return msgs, ChatOptions{Temperature: opts.Temperature, Format: opts.Format, MaxTokens: opts.MaxTokens}
}

// splitSystem pulls system messages out for providers that take them as a
// separate field.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		m.Role = normalizeRole(m.Role)
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

func tokenCount(n int64) *int {
	if n <= 0 {
		return nil
	}
	v := int(n)
	return &v
}
