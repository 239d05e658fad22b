package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicClient struct {
	client anthropic.Client
	model  string
}

func newAnthropic(cfg ProviderConfig) *anthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		// The orchestrator owns retries; a stage failure falls back to the
		// default provider instead.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &anthropicClient{client: anthropic.NewClient(opts...), model: model}
}

func (c *anthropicClient) Provider() Provider { return ProviderAnthropic }

func (c *anthropicClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Response, error) {
	msgs, chatOpts := generateMessages(prompt, opts)
	return c.chat(ctx, msgs, chatOpts, "generate")
}

func (c *anthropicClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*Response, error) {
	return c.chat(ctx, messages, opts, "chat")
}

func (c *anthropicClient) chat(ctx context.Context, messages []Message, opts ChatOptions, op string) (*Response, error) {
	start := time.Now()
	system, turns := splitSystem(messages)

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	for _, m := range turns {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, providerError(ProviderAnthropic, op, anthropicStatus(err), err)
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			return &Response{
				Content:    block.Text,
				Model:      string(message.Model),
				TokenCount: tokenCount(message.Usage.InputTokens + message.Usage.OutputTokens),
				Elapsed:    time.Since(start),
			}, nil
		}
	}
	return nil, providerError(ProviderAnthropic, op, 0, errors.New("no text content in response"))
}

func (c *anthropicClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)}); err != nil {
		return providerError(ProviderAnthropic, "ping", anthropicStatus(err), err)
	}
	return nil
}

func anthropicStatus(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
