package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for autospook binaries.
type Config struct {
	General       GeneralConfig              `mapstructure:"general"`
	LLM           LLMConfig                  `mapstructure:"llm"`
	Search        SearchConfig               `mapstructure:"search"`
	RateLimits    map[string]RateLimitConfig `mapstructure:"rate_limits"`
	Investigation InvestigationConfig        `mapstructure:"investigation"`
	Storage       StorageConfig              `mapstructure:"storage"`
	Queue         QueueConfig                `mapstructure:"queue"`
	Telemetry     TelemetryConfig            `mapstructure:"telemetry"`
	Ops           OpsConfig                  `mapstructure:"ops"`
	Watch         WatchConfig                `mapstructure:"watch"`
}

type GeneralConfig struct {
	AppName     string `mapstructure:"app_name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// LLMConfig holds provider credentials, model catalog and the per-function routing table.
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider (openai, anthropic).
type LLMProvider struct {
	Type       string              `mapstructure:"type"`
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration.
type LLMModel struct {
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig names the model key used for each gateway function.
type LLMRoutingConfig struct {
	Stepback         string `mapstructure:"stepback"`
	Topics           string `mapstructure:"topics"`
	Questions        string `mapstructure:"questions"`
	Queries          string `mapstructure:"queries"`
	EvaluateQuestion string `mapstructure:"evaluate_question"`
	EvaluateTopic    string `mapstructure:"evaluate_topic"`
	Report           string `mapstructure:"report"`
	Risk             string `mapstructure:"risk"`
	Fallback         string `mapstructure:"fallback"`
}

// ResolveModel finds the provider owning the model key.
func (c LLMConfig) ResolveModel(key string) (providerName string, model LLMModel, ok bool) {
	for name, p := range c.Providers {
		if m, found := p.Models[key]; found {
			if m.APIName == "" {
				m.APIName = key
			}
			return name, m, true
		}
	}
	return "", LLMModel{}, false
}

func (c LLMConfig) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("llm.providers must define at least one provider")
	}
	for name, p := range c.Providers {
		switch p.Type {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("llm.providers.%s.type %q is not supported", name, p.Type)
		}
	}
	if c.Routing.Fallback == "" {
		return fmt.Errorf("llm.routing.fallback is required")
	}
	if _, _, ok := c.ResolveModel(c.Routing.Fallback); !ok {
		return fmt.Errorf("llm.routing.fallback model %q is not defined by any provider", c.Routing.Fallback)
	}
	return nil
}

type SearchConfig struct {
	Provider        string        `mapstructure:"provider"` // exa, brave, serper
	Exa             APIEndpoint   `mapstructure:"exa"`
	Brave           APIEndpoint   `mapstructure:"brave"`
	Serper          APIEndpoint   `mapstructure:"serper"`
	ResultsPerQuery int           `mapstructure:"results_per_query"`
	SnippetChars    int           `mapstructure:"snippet_chars"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	Backoff         time.Duration `mapstructure:"backoff"`
	Cache           CacheConfig   `mapstructure:"cache"`
	Enrich          EnrichConfig  `mapstructure:"enrich"`
}

type APIEndpoint struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// CacheConfig controls the Redis-backed search result cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
}

// EnrichConfig controls fetching full page text for snippets that arrive without text.
type EnrichConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Mode    string        `mapstructure:"mode"` // http, chromedp
	Timeout time.Duration `mapstructure:"timeout"`
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "exa", "brave", "serper":
	default:
		return fmt.Errorf("search.provider %q is not supported", s.Provider)
	}
	if s.ResultsPerQuery <= 0 {
		return fmt.Errorf("search.results_per_query must be > 0")
	}
	if s.Enrich.Enabled {
		switch s.Enrich.Mode {
		case "http", "chromedp":
		default:
			return fmt.Errorf("search.enrich.mode %q is not supported", s.Enrich.Mode)
		}
	}
	return nil
}

// RateLimitConfig bounds calls made to a single provider.
type RateLimitConfig struct {
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	MinInterval       time.Duration `mapstructure:"min_interval"`
}

// InvestigationConfig carries the tunable policy of the control loop.
type InvestigationConfig struct {
	MaxTopics                int           `mapstructure:"max_topics"`
	MaxQuestionsPerTopic     int           `mapstructure:"max_questions_per_topic"`
	MaxQueriesPerRound       int           `mapstructure:"max_queries_per_round"`
	MaxRoundsPerQuestion     int           `mapstructure:"max_rounds_per_question"`
	MaxEvidencePerEvaluation int           `mapstructure:"max_evidence_per_evaluation"`
	EvidenceRanking          string        `mapstructure:"evidence_ranking"` // first, relevance
	TopicConcurrency         int           `mapstructure:"topic_concurrency"`
	QuestionConcurrency      int           `mapstructure:"question_concurrency"`
	Deadline                 time.Duration `mapstructure:"deadline"`
	CancelGrace              time.Duration `mapstructure:"cancel_grace"`
	Retry                    RetryConfig   `mapstructure:"retry"`
	Budget                   BudgetConfig  `mapstructure:"budget"`
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type BudgetConfig struct {
	MaxTokens int64   `mapstructure:"max_tokens"`
	MaxCost   float64 `mapstructure:"max_cost"`
}

func (c InvestigationConfig) Validate() error {
	if c.MaxTopics <= 0 || c.MaxQuestionsPerTopic <= 0 || c.MaxQueriesPerRound <= 0 {
		return fmt.Errorf("investigation: topic, question and query limits must be > 0")
	}
	if c.MaxRoundsPerQuestion <= 0 {
		return fmt.Errorf("investigation.max_rounds_per_question must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("investigation.retry.max_attempts must be > 0")
	}
	switch c.EvidenceRanking {
	case "first", "relevance":
	default:
		return fmt.Errorf("investigation.evidence_ranking %q is not supported", c.EvidenceRanking)
	}
	if c.Budget.MaxTokens < 0 || c.Budget.MaxCost < 0 {
		return fmt.Errorf("investigation.budget values cannot be negative")
	}
	return nil
}

type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func (r RedisConfig) Validate() error {
	if r.Host == "" {
		return fmt.Errorf("storage.redis.host is required")
	}
	if r.Port == "" {
		return fmt.Errorf("storage.redis.port is required")
	}
	return nil
}

type QueueConfig struct {
	RequestStream  string        `mapstructure:"request_stream"`
	ResultStream   string        `mapstructure:"result_stream"`
	Group          string        `mapstructure:"group"`
	MaxLen         int64         `mapstructure:"max_len"`
	Block          time.Duration `mapstructure:"block"`
	ClaimIdle      time.Duration `mapstructure:"claim_idle"`
	Concurrency    int           `mapstructure:"concurrency"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type TelemetryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MetricsPort   int    `mapstructure:"metrics_port"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	CostTracking  bool   `mapstructure:"cost_tracking"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

type OpsConfig struct {
	Addr string `mapstructure:"addr"`
}

// WatchConfig lists targets that are re-investigated on a cron schedule.
type WatchConfig struct {
	Targets []WatchTarget `mapstructure:"targets"`
}

type WatchTarget struct {
	Name     string `mapstructure:"name"`
	Context  string `mapstructure:"context"`
	Schedule string `mapstructure:"schedule"`
}

func (w WatchConfig) Validate() error {
	for i, t := range w.Targets {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("watch.targets[%d].name is required", i)
		}
		if strings.TrimSpace(t.Schedule) == "" {
			return fmt.Errorf("watch.targets[%d].schedule is required", i)
		}
	}
	return nil
}

// Validate runs every section validator.
func (c *Config) Validate() error {
	for _, fn := range []func() error{
		c.LLM.Validate,
		c.Search.Validate,
		c.Investigation.Validate,
		c.Telemetry.Validate,
		c.Storage.Redis.Validate,
		c.Watch.Validate,
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.app_name", "autospook")
	v.SetDefault("general.version", "1.0.0")
	v.SetDefault("general.environment", "development")

	// api keys are registered so AUTOSPOOK_* env vars reach Unmarshal
	v.SetDefault("llm.providers.openai.api_key", "")
	v.SetDefault("llm.providers.anthropic.api_key", "")
	v.SetDefault("search.exa.api_key", "")
	v.SetDefault("search.brave.api_key", "")
	v.SetDefault("search.serper.api_key", "")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("telemetry.log_file", "")
	v.SetDefault("telemetry.otlp_endpoint", "")

	v.SetDefault("llm.providers.openai.type", "openai")
	v.SetDefault("llm.providers.openai.timeout", 60*time.Second)
	v.SetDefault("llm.providers.openai.max_retries", 2)
	v.SetDefault("llm.providers.openai.models.gpt-4o.api_name", "gpt-4o")
	v.SetDefault("llm.providers.openai.models.gpt-4o.max_tokens", 4096)
	v.SetDefault("llm.providers.openai.models.gpt-4o.cost_per_1k_input", 0.0025)
	v.SetDefault("llm.providers.openai.models.gpt-4o.cost_per_1k_output", 0.01)
	v.SetDefault("llm.providers.openai.models.gpt-4o-mini.api_name", "gpt-4o-mini")
	v.SetDefault("llm.providers.openai.models.gpt-4o-mini.max_tokens", 2048)
	v.SetDefault("llm.providers.openai.models.gpt-4o-mini.cost_per_1k_input", 0.00015)
	v.SetDefault("llm.providers.openai.models.gpt-4o-mini.cost_per_1k_output", 0.0006)
	v.SetDefault("llm.providers.anthropic.type", "anthropic")
	v.SetDefault("llm.providers.anthropic.timeout", 90*time.Second)
	v.SetDefault("llm.providers.anthropic.max_retries", 2)
	v.SetDefault("llm.providers.anthropic.models.claude-sonnet.api_name", "claude-sonnet-4-20250514")
	v.SetDefault("llm.providers.anthropic.models.claude-sonnet.max_tokens", 8192)
	v.SetDefault("llm.providers.anthropic.models.claude-sonnet.cost_per_1k_input", 0.003)
	v.SetDefault("llm.providers.anthropic.models.claude-sonnet.cost_per_1k_output", 0.015)

	v.SetDefault("llm.routing.stepback", "claude-sonnet")
	v.SetDefault("llm.routing.topics", "gpt-4o")
	v.SetDefault("llm.routing.questions", "gpt-4o")
	v.SetDefault("llm.routing.queries", "gpt-4o-mini")
	v.SetDefault("llm.routing.evaluate_question", "gpt-4o-mini")
	v.SetDefault("llm.routing.evaluate_topic", "gpt-4o-mini")
	v.SetDefault("llm.routing.report", "claude-sonnet")
	v.SetDefault("llm.routing.risk", "gpt-4o-mini")
	v.SetDefault("llm.routing.fallback", "gpt-4o-mini")

	v.SetDefault("search.provider", "exa")
	v.SetDefault("search.exa.base_url", "https://api.exa.ai")
	v.SetDefault("search.brave.base_url", "https://api.search.brave.com/res/v1")
	v.SetDefault("search.serper.base_url", "https://google.serper.dev")
	v.SetDefault("search.results_per_query", 3)
	v.SetDefault("search.snippet_chars", 280)
	v.SetDefault("search.timeout", 20*time.Second)
	v.SetDefault("search.max_retries", 2)
	v.SetDefault("search.backoff", 500*time.Millisecond)
	v.SetDefault("search.cache.enabled", false)
	v.SetDefault("search.cache.ttl", 6*time.Hour)
	v.SetDefault("search.cache.prefix", "autospook:search")
	v.SetDefault("search.enrich.enabled", false)
	v.SetDefault("search.enrich.mode", "http")
	v.SetDefault("search.enrich.timeout", 15*time.Second)

	v.SetDefault("rate_limits.openai.requests_per_minute", 500)
	v.SetDefault("rate_limits.openai.min_interval", 100*time.Millisecond)
	v.SetDefault("rate_limits.anthropic.requests_per_minute", 1000)
	v.SetDefault("rate_limits.anthropic.min_interval", 50*time.Millisecond)
	v.SetDefault("rate_limits.exa.requests_per_minute", 1000)
	v.SetDefault("rate_limits.exa.min_interval", 100*time.Millisecond)
	v.SetDefault("rate_limits.brave.requests_per_minute", 60)
	v.SetDefault("rate_limits.brave.min_interval", 100*time.Millisecond)
	v.SetDefault("rate_limits.serper.requests_per_minute", 60)
	v.SetDefault("rate_limits.serper.min_interval", 100*time.Millisecond)

	v.SetDefault("investigation.max_topics", 3)
	v.SetDefault("investigation.max_questions_per_topic", 2)
	v.SetDefault("investigation.max_queries_per_round", 2)
	v.SetDefault("investigation.max_rounds_per_question", 3)
	v.SetDefault("investigation.max_evidence_per_evaluation", 5)
	v.SetDefault("investigation.evidence_ranking", "relevance")
	v.SetDefault("investigation.topic_concurrency", 3)
	v.SetDefault("investigation.question_concurrency", 2)
	v.SetDefault("investigation.deadline", 15*time.Minute)
	v.SetDefault("investigation.cancel_grace", 30*time.Second)
	v.SetDefault("investigation.retry.max_attempts", 2)
	v.SetDefault("investigation.retry.initial_backoff", 500*time.Millisecond)
	v.SetDefault("investigation.retry.max_backoff", 5*time.Second)

	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)

	v.SetDefault("queue.request_stream", "investigation.requested")
	v.SetDefault("queue.result_stream", "investigation.results")
	v.SetDefault("queue.group", "autospook-workers")
	v.SetDefault("queue.max_len", 10000)
	v.SetDefault("queue.block", 5*time.Second)
	v.SetDefault("queue.claim_idle", 20*time.Minute)
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.idempotency_ttl", 24*time.Hour)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.metrics_port", 9464)
	v.SetDefault("telemetry.log_max_size_mb", 50)
	v.SetDefault("telemetry.log_max_backups", 5)
	v.SetDefault("telemetry.cost_tracking", true)

	v.SetDefault("ops.addr", ":10001")
}

// Load reads configuration from path (or the default search paths) plus AUTOSPOOK_* env vars.
// A missing config file is not an error; defaults and env vars still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("AUTOSPOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig is Load for command entry points: any error is fatal.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
