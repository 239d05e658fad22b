// Package app wires configuration, storage, providers and the orchestrator
// into the workflowaudit command line.
package app

import (
	"database/sql"
	"fmt"
	"os"

	"workflowaudit/internal/categorize"
	"workflowaudit/internal/config"
	"workflowaudit/internal/forensic"
	"workflowaudit/internal/httpx"
	"workflowaudit/internal/integrations/llm"
	"workflowaudit/internal/metrics"
	"workflowaudit/internal/storage/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func Main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "workflowaudit",
		Short: "Forensic analysis of government-service workflow logs",
		Long: `Reads a workflow log export, computes delay statistics and behavioral
anomalies, and enriches them with narrative analyses from a text-generation
provider.`,
		SilenceUsage: true,
	}
	root.AddCommand(newAnalyzeCommand(), newShowCommand(), newReenrichCommand(), newServeCommand())
	return root
}

// runtime holds what every command needs once configuration is loaded.
type runtime struct {
	cfg      config.Config
	logger   *zap.Logger
	db       *sql.DB
	promReg  *prometheus.Registry
	metrics  *metrics.Metrics
	registry *llm.Registry
	rules    categorize.RuleSet
}

func setup() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)

	rules := categorize.DefaultRules
	if cfg.CategoryRulesPath != "" {
		if rules, err = categorize.LoadRules(cfg.CategoryRulesPath); err != nil {
			return nil, err
		}
	}

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	registry := llm.NewRegistry(llmSettings(cfg), logger, m)

	logger.Info("config loaded",
		zap.String("provider", cfg.LLMProvider),
		zap.String("fallback", cfg.LLMFallbackProvider),
		zap.String("db", cfg.DBPath),
		zap.Int("rules", len(rules.Rules)),
		zap.Duration("http_timeout", appliedHTTPTimeout),
		zap.Bool("slack", cfg.SlackConfigured()))

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		promReg:  promReg,
		metrics:  m,
		registry: registry,
		rules:    rules,
	}, nil
}

// llmSettings maps config onto the provider registry. llm_model names a model
// of llm_provider; the fallback keeps its built-in model.
func llmSettings(cfg config.Config) llm.Settings {
	return llm.Settings{
		Default:       llm.Provider(cfg.LLMFallbackProvider),
		ModelProvider: llm.Provider(cfg.LLMProvider),
		Model:         cfg.LLMModel,
		OllamaURL:     cfg.OllamaURL,
		OpenAIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		AnthropicKey:  cfg.AnthropicAPIKey,
		GeminiKey:     cfg.GeminiAPIKey,
		HTTPClient:    httpx.ExternalHTTPClient(),
	}
}

func (rt *runtime) Close() {
	_ = rt.logger.Sync()
	_ = rt.db.Close()
}

// runOverrides are the per-invocation flags that take precedence over config.
type runOverrides struct {
	provider string
	apiKey   string
	slaDays  float64
}

func (rt *runtime) orchestrator(o runOverrides) *forensic.Orchestrator {
	provider := rt.cfg.LLMProvider
	if o.provider != "" {
		provider = o.provider
	}
	return forensic.New(rt.registry, forensic.Options{
		Provider:        provider,
		Fallback:        rt.cfg.LLMFallbackProvider,
		APIKey:          o.apiKey,
		Temperature:     llm.Temperature(rt.cfg.Temperature()),
		SLADays:         o.slaDays,
		Rules:           rt.rules,
		MaxTickets:      rt.cfg.ForensicMaxTickets,
		TicketBatchSize: rt.cfg.ForensicBatchSize,
		RefineBatchSize: rt.cfg.RefineBatchSize,
		RefineCooldown:  rt.cfg.RefineCooldown(),
		RefineThreshold: rt.cfg.RefineDelayThresholdDays,
	}, rt.logger, rt.metrics)
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	return cfg.Build()
}
