package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 120 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)
const defaultTemperature = 0.2

var knownProviders = []string{"ollama", "openai", "anthropic", "gemini"}

type Config struct {
	LLMProvider         string `yaml:"llm_provider"`
	LLMFallbackProvider string `yaml:"llm_fallback_provider"`
	LLMModel            string `yaml:"llm_model"`
	// LLMTemperature is nil when unset; an explicit 0 is kept.
	LLMTemperature  *float64 `yaml:"llm_temperature"`
	OllamaURL       string   `yaml:"ollama_url"`
	OpenAIAPIKey    string   `yaml:"openai_api_key"`
	OpenAIBaseURL   string   `yaml:"openai_base_url"`
	AnthropicAPIKey string   `yaml:"anthropic_api_key"`
	GeminiAPIKey    string   `yaml:"gemini_api_key"`

	ExternalHTTPTimeoutSeconds int `yaml:"external_http_timeout_seconds"`

	ForensicMaxTickets       int     `yaml:"forensic_max_tickets"`
	ForensicBatchSize        int     `yaml:"forensic_batch_size"`
	RefineBatchSize          int     `yaml:"refine_batch_size"`
	RefineCooldownMS         int     `yaml:"refine_cooldown_ms"`
	RefineDelayThresholdDays float64 `yaml:"refine_delay_threshold_days"`
	CategoryRulesPath        string  `yaml:"category_rules_path"`

	DBPath           string `yaml:"db_path"`
	ReenrichSchedule string `yaml:"reenrich_schedule"`

	SlackBotToken        string `yaml:"slack_bot_token"`
	SlackProgressChannel string `yaml:"slack_progress_channel"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Load reads CONFIG_PATH (default config.yaml) when it exists, applies env
// overrides and defaults, and validates the result.
func Load() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	var errs envErrors
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMFallbackProvider, "LLM_FALLBACK_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	errs.floatPtr(&cfg.LLMTemperature, "LLM_TEMPERATURE")
	envOverride(&cfg.OllamaURL, "OLLAMA_URL")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	errs.int(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	errs.int(&cfg.ForensicMaxTickets, "FORENSIC_MAX_TICKETS")
	errs.int(&cfg.ForensicBatchSize, "FORENSIC_BATCH_SIZE")
	errs.int(&cfg.RefineBatchSize, "REFINE_BATCH_SIZE")
	errs.int(&cfg.RefineCooldownMS, "REFINE_COOLDOWN_MS")
	errs.float(&cfg.RefineDelayThresholdDays, "REFINE_DELAY_THRESHOLD_DAYS")
	envOverride(&cfg.CategoryRulesPath, "CATEGORY_RULES_PATH")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideAllowEmpty(&cfg.ReenrichSchedule, "REENRICH_SCHEDULE")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackProgressChannel, "SLACK_PROGRESS_CHANNEL")
	envOverride(&cfg.MetricsAddr, "METRICS_ADDR")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	if len(errs) > 0 {
		return Config{}, errs
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	c.LLMFallbackProvider = strings.ToLower(strings.TrimSpace(c.LLMFallbackProvider))
	if c.LLMProvider == "" {
		c.LLMProvider = "ollama"
	}
	if c.LLMFallbackProvider == "" {
		c.LLMFallbackProvider = "ollama"
	}
	if c.LLMTemperature == nil {
		t := defaultTemperature
		c.LLMTemperature = &t
	}
	if c.OllamaURL == "" {
		c.OllamaURL = "http://localhost:11434"
	}
	if c.ExternalHTTPTimeoutSeconds == 0 {
		c.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if c.ForensicMaxTickets == 0 {
		c.ForensicMaxTickets = 50
	}
	if c.ForensicBatchSize == 0 {
		c.ForensicBatchSize = 1
	}
	if c.RefineBatchSize == 0 {
		c.RefineBatchSize = 3
	}
	if c.RefineCooldownMS == 0 {
		c.RefineCooldownMS = 2000
	}
	if c.RefineDelayThresholdDays == 0 {
		c.RefineDelayThresholdDays = 15
	}
	if c.DBPath == "" {
		c.DBPath = "./workflowaudit.db"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
}

func (c Config) validate() error {
	if !isKnownProvider(c.LLMProvider) {
		return fmt.Errorf("llm_provider must be one of %s, got '%s'", strings.Join(knownProviders, ", "), c.LLMProvider)
	}
	if !isKnownProvider(c.LLMFallbackProvider) {
		return fmt.Errorf("llm_fallback_provider must be one of %s, got '%s'", strings.Join(knownProviders, ", "), c.LLMFallbackProvider)
	}
	for _, p := range []string{c.LLMProvider, c.LLMFallbackProvider} {
		if key, name := c.credentialFor(p); name != "" && key == "" {
			return fmt.Errorf("%s is required when %s is used as a provider", name, p)
		}
	}
	if t := c.Temperature(); t < 0 || t > 2 {
		return fmt.Errorf("invalid llm_temperature '%g': must be between 0 and 2", t)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.ForensicMaxTickets < 0 {
		return fmt.Errorf("invalid forensic_max_tickets '%d': must be >= 0", c.ForensicMaxTickets)
	}
	if c.ForensicBatchSize < 1 {
		return fmt.Errorf("invalid forensic_batch_size '%d': must be >= 1", c.ForensicBatchSize)
	}
	if c.RefineBatchSize < 1 {
		return fmt.Errorf("invalid refine_batch_size '%d': must be >= 1", c.RefineBatchSize)
	}
	if c.RefineCooldownMS < 0 {
		return fmt.Errorf("invalid refine_cooldown_ms '%d': must be >= 0", c.RefineCooldownMS)
	}
	if c.RefineDelayThresholdDays < 0 {
		return fmt.Errorf("invalid refine_delay_threshold_days '%g': must be >= 0", c.RefineDelayThresholdDays)
	}
	if (c.SlackBotToken == "") != (c.SlackProgressChannel == "") {
		return fmt.Errorf("slack_bot_token and slack_progress_channel must be set together")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level '%s': must be debug, info, warn or error", c.LogLevel)
	}
	if c.CategoryRulesPath != "" {
		if err := validateRulesPath(c.CategoryRulesPath); err != nil {
			return fmt.Errorf("invalid category_rules_path '%s': %w", c.CategoryRulesPath, err)
		}
	}
	return nil
}

// credentialFor returns the configured key for provider p and the config
// key that holds it. Providers that need no key return an empty name.
func (c Config) credentialFor(p string) (string, string) {
	switch p {
	case "openai":
		return c.OpenAIAPIKey, "openai_api_key"
	case "anthropic":
		return c.AnthropicAPIKey, "anthropic_api_key"
	case "gemini":
		return c.GeminiAPIKey, "gemini_api_key"
	}
	return "", ""
}

// SlackConfigured reports whether progress should be posted to Slack.
func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackProgressChannel != ""
}

// Temperature is the sampling temperature sent with every generation.
func (c Config) Temperature() float64 {
	if c.LLMTemperature == nil {
		return defaultTemperature
	}
	return *c.LLMTemperature
}

func (c Config) RefineCooldown() time.Duration {
	return time.Duration(c.RefineCooldownMS) * time.Millisecond
}

func isKnownProvider(p string) bool {
	for _, known := range knownProviders {
		if p == known {
			return true
		}
	}
	return false
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

// envErrors collects malformed numeric overrides so Load reports all of them.
type envErrors []string

func (e envErrors) Error() string {
	return "invalid environment overrides: " + strings.Join(e, "; ")
}

func (e *envErrors) int(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			*e = append(*e, fmt.Sprintf("%s '%s': %v", envKey, val, err))
			return
		}
		*field = parsed
	}
}

func (e *envErrors) float(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			*e = append(*e, fmt.Sprintf("%s '%s': %v", envKey, val, err))
			return
		}
		*field = parsed
	}
}

func (e *envErrors) floatPtr(field **float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			*e = append(*e, fmt.Sprintf("%s '%s': %v", envKey, val, err))
			return
		}
		*field = &parsed
	}
}

func validateRulesPath(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules: %w", err)
	}
	var r struct {
		Rules []struct {
			Category string   `yaml:"category"`
			Keywords []string `yaml:"keywords"`
		} `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("parse rules yaml: %w", err)
	}
	if len(r.Rules) == 0 {
		return fmt.Errorf("no rules defined")
	}
	return nil
}
