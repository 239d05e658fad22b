package llm

import (
	"context"
	"errors"
	"time"

	"google.golang.org/genai"
)

type geminiClient struct {
	client *genai.Client
	model  string
}

func newGemini(cfg ProviderConfig) (*geminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, providerError(ProviderGemini, "init", 0, err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &geminiClient{client: client, model: model}, nil
}

func (c *geminiClient) Provider() Provider { return ProviderGemini }

func (c *geminiClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Response, error) {
	msgs, chatOpts := generateMessages(prompt, opts)
	return c.chat(ctx, msgs, chatOpts, "generate")
}

func (c *geminiClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*Response, error) {
	return c.chat(ctx, messages, opts, "chat")
}

func (c *geminiClient) chat(ctx context.Context, messages []Message, opts ChatOptions, op string) (*Response, error) {
	start := time.Now()
	system, turns := splitSystem(messages)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if opts.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Format == FormatJSON {
		config.ResponseMIMEType = "application/json"
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, providerError(ProviderGemini, op, geminiStatus(err), err)
	}
	text := result.Text()
	if text == "" {
		return nil, providerError(ProviderGemini, op, 0, errors.New("no text content in response"))
	}
	resp := &Response{Content: text, Model: result.ModelVersion, Elapsed: time.Since(start)}
	if resp.Model == "" {
		resp.Model = c.model
	}
	if result.UsageMetadata != nil {
		resp.TokenCount = tokenCount(int64(result.UsageMetadata.TotalTokenCount))
	}
	return resp, nil
}

func (c *geminiClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.Get(ctx, c.model, nil); err != nil {
		return providerError(ProviderGemini, "ping", geminiStatus(err), err)
	}
	return nil
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
