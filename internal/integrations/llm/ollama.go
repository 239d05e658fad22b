package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaURL = "http://localhost:11434"

type ollamaClient struct {
	baseURL string
	model   string
	http    *http.Client
}

func newOllama(cfg ProviderConfig) *ollamaClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	return &ollamaClient{baseURL: base, model: model, http: cfg.HTTPClient}
}

func (c *ollamaClient) Provider() Provider { return ProviderOllama }

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Prompt   string          `json:"prompt,omitempty"`
	System   string          `json:"system,omitempty"`
	Messages []ollamaMessage `json:"messages,omitempty"`
	Format   string          `json:"format,omitempty"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model           string         `json:"model"`
	Response        string         `json:"response"`
	Message         *ollamaMessage `json:"message"`
	PromptEvalCount int64          `json:"prompt_eval_count"`
	EvalCount       int64          `json:"eval_count"`
	Error           string         `json:"error"`
}

func ollamaOpts(temp *float64, maxTokens int) *ollamaOptions {
	if temp == nil && maxTokens == 0 {
		return nil
	}
	return &ollamaOptions{Temperature: temp, NumPredict: maxTokens}
}

func (c *ollamaClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Response, error) {
	start := time.Now()
	req := ollamaRequest{
		Model:   c.model,
		Prompt:  prompt,
		System:  opts.System,
		Format:  string(opts.Format),
		Options: ollamaOpts(opts.Temperature, opts.MaxTokens),
	}
	var out ollamaResponse
	status, err := doJSON(ctx, c.http, http.MethodPost, c.baseURL+"/api/generate", nil, req, &out)
	if err != nil {
		return nil, providerError(ProviderOllama, "generate", status, err)
	}
	return c.response(out, out.Response, start, "generate")
}

func (c *ollamaClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*Response, error) {
	start := time.Now()
	req := ollamaRequest{
		Model:   c.model,
		Format:  string(opts.Format),
		Options: ollamaOpts(opts.Temperature, opts.MaxTokens),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, ollamaMessage{Role: string(normalizeRole(m.Role)), Content: m.Content})
	}
	var out ollamaResponse
	status, err := doJSON(ctx, c.http, http.MethodPost, c.baseURL+"/api/chat", nil, req, &out)
	if err != nil {
		return nil, providerError(ProviderOllama, "chat", status, err)
	}
	content := ""
	if out.Message != nil {
		content = out.Message.Content
	}
	return c.response(out, content, start, "chat")
}

func (c *ollamaClient) response(out ollamaResponse, content string, start time.Time, op string) (*Response, error) {
	if out.Error != "" {
		return nil, providerError(ProviderOllama, op, 0, errors.New(out.Error))
	}
	model := out.Model
	if model == "" {
		model = c.model
	}
	return &Response{
		Content:    content,
		Model:      model,
		TokenCount: tokenCount(out.PromptEvalCount + out.EvalCount),
		Elapsed:    time.Since(start),
	}, nil
}

func (c *ollamaClient) Ping(ctx context.Context) error {
	status, err := doJSON(ctx, c.http, http.MethodGet, c.baseURL+"/api/tags", nil, nil, nil)
	if err != nil {
		return providerError(ProviderOllama, "ping", status, err)
	}
	return nil
}
