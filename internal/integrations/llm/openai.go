package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openAIClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func newOpenAI(cfg ProviderConfig) *openAIClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openAIClient{baseURL: base, apiKey: cfg.APIKey, model: model, http: cfg.HTTPClient}
}

func (c *openAIClient) Provider() Provider { return ProviderOpenAI }

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Temperature    *float64              `json:"temperature,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openAIClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

func (c *openAIClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Response, error) {
	msgs, chatOpts := generateMessages(prompt, opts)
	return c.chat(ctx, msgs, chatOpts, "generate")
}

func (c *openAIClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*Response, error) {
	return c.chat(ctx, messages, opts, "chat")
}

func (c *openAIClient) chat(ctx context.Context, messages []Message, opts ChatOptions, op string) (*Response, error) {
	start := time.Now()
	req := openAIRequest{
		Model:       c.model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openAIMessage{Role: string(normalizeRole(m.Role)), Content: m.Content})
	}
	if opts.Format == FormatJSON {
		req.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	var out openAIResponse
	status, err := doJSON(ctx, c.http, http.MethodPost, c.baseURL+"/chat/completions", c.headers(), req, &out)
	if err != nil {
		return nil, providerError(ProviderOpenAI, op, status, err)
	}
	if out.Error != nil {
		return nil, providerError(ProviderOpenAI, op, status, errors.New(out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return nil, providerError(ProviderOpenAI, op, status, errors.New("no choices in response"))
	}

	resp := &Response{
		Content: out.Choices[0].Message.Content,
		Model:   out.Model,
		Elapsed: time.Since(start),
	}
	if resp.Model == "" {
		resp.Model = c.model
	}
	if out.Usage != nil {
		total := out.Usage.TotalTokens
		if total == 0 {
			total = out.Usage.PromptTokens + out.Usage.CompletionTokens
		}
		resp.TokenCount = tokenCount(total)
	}
	return resp, nil
}

func (c *openAIClient) Ping(ctx context.Context) error {
	status, err := doJSON(ctx, c.http, http.MethodGet, c.baseURL+"/models", c.headers(), nil, nil)
	if err != nil {
		return providerError(ProviderOpenAI, "ping", status, err)
	}
	return nil
}
