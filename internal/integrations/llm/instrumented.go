package llm

import (
	"context"
	"errors"
	"time"

	"workflowaudit/internal/metrics"

	"go.uber.org/zap"
)

// instrumented wraps a Client and records latency, outcome and token counts
// for every call, plus one debug log line.
type instrumented struct {
	next    Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func instrument(next Client, logger *zap.Logger, m *metrics.Metrics) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &instrumented{next: next, logger: logger, metrics: m}
}

func (c *instrumented) Provider() Provider { return c.next.Provider() }

func (c *instrumented) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Response, error) {
	start := time.Now()
	resp, err := c.next.Generate(ctx, prompt, opts)
	c.observe("generate", len(prompt), start, resp, err)
	return resp, err
}

func (c *instrumented) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*Response, error) {
	size := 0
	for _, m := range messages {
		size += len(m.Content)
	}
	start := time.Now()
	resp, err := c.next.Chat(ctx, messages, opts)
	c.observe("chat", size, start, resp, err)
	return resp, err
}

func (c *instrumented) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.next.Ping(ctx)
	c.observe("ping", 0, start, nil, err)
	return err
}

func (c *instrumented) observe(op string, promptSize int, start time.Time, resp *Response, err error) {
	provider := string(c.next.Provider())
	elapsed := time.Since(start)
	c.metrics.LLMLatency.WithLabelValues(provider, op).Observe(elapsed.Seconds())

	if err != nil {
		outcome := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "canceled"
		}
		c.metrics.LLMRequests.WithLabelValues(provider, op, outcome).Inc()
		c.logger.Warn("llm call failed",
			zap.String("provider", provider),
			zap.String("op", op),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return
	}

	c.metrics.LLMRequests.WithLabelValues(provider, op, "ok").Inc()
	fields := []zap.Field{
		zap.String("provider", provider),
		zap.String("op", op),
		zap.Int("prompt_size", promptSize),
		zap.Duration("elapsed", elapsed),
	}
	if resp != nil {
		fields = append(fields, zap.String("model", resp.Model), zap.Int("response_size", len(resp.Content)))
		if resp.TokenCount != nil {
			c.metrics.LLMTokens.WithLabelValues(provider).Add(float64(*resp.TokenCount))
			fields = append(fields, zap.Int("tokens", *resp.TokenCount))
		}
	}
	c.logger.Debug("llm call", fields...)
}
