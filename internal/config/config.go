package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/market-study-cli/internal/resilience"
	"github.com/sells-group/market-study-cli/pkg/anthropic"
)

// EnvPrefix prefixes every environment override (MARKET_ANTHROPIC_KEY...).
const EnvPrefix = "MARKET"

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	GenAI      GenAIConfig      `yaml:"genai" mapstructure:"genai"`
	Web        WebConfig        `yaml:"web" mapstructure:"web"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge" mapstructure:"knowledge"`
	Cascade    CascadeConfig    `yaml:"cascade" mapstructure:"cascade"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Memory     MemoryConfig     `yaml:"memory" mapstructure:"memory"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	CacheTTL    string  `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// GenAIConfig holds Gemini embedding settings.
type GenAIConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	Model      string `yaml:"model" mapstructure:"model"`
	Dimensions int32  `yaml:"dimensions" mapstructure:"dimensions"`
}

// WebConfig selects and configures the web search backends.
type WebConfig struct {
	// Providers is the fallback order of backends.
	Providers   []string         `yaml:"providers" mapstructure:"providers"`
	TimeoutSecs int              `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Linkup      LinkupConfig     `yaml:"linkup" mapstructure:"linkup"`
	Jina        JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Perplexity  PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
}

// LinkupConfig holds Linkup search settings.
type LinkupConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
	Country       string `yaml:"country" mapstructure:"country"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
	Recency string `yaml:"recency" mapstructure:"recency"`
}

// KnowledgeConfig configures document indexing and internal search.
type KnowledgeConfig struct {
	Dir             string  `yaml:"dir" mapstructure:"dir"`
	ChunkSize       int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkOverlap    int     `yaml:"chunk_overlap" mapstructure:"chunk_overlap"`
	TopK            int     `yaml:"top_k" mapstructure:"top_k"`
	CacheSize       int     `yaml:"cache_size" mapstructure:"cache_size"`
	Concurrency     int     `yaml:"concurrency" mapstructure:"concurrency"`
	BatchSize       int     `yaml:"batch_size" mapstructure:"batch_size"`
	EmbedRate       float64 `yaml:"embed_rate" mapstructure:"embed_rate"`
	EmbedBurst      int     `yaml:"embed_burst" mapstructure:"embed_burst"`
	HashingDims     int     `yaml:"hashing_dims" mapstructure:"hashing_dims"`
	PDFExtractor    string  `yaml:"pdf_extractor" mapstructure:"pdf_extractor"`
	PdfToTextPath   string  `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey      string  `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	WatchDebounceMs int     `yaml:"watch_debounce_ms" mapstructure:"watch_debounce_ms"`
}

// CascadeConfig points at the cascade thresholds file and overrides the
// most commonly tuned values.
type CascadeConfig struct {
	ThresholdsFile     string  `yaml:"thresholds_file" mapstructure:"thresholds_file"`
	InternalAcceptance float64 `yaml:"internal_acceptance" mapstructure:"internal_acceptance"`
	WebConfidence      float64 `yaml:"web_confidence" mapstructure:"web_confidence"`
	ExpertFlag         float64 `yaml:"expert_flag" mapstructure:"expert_flag"`
}

// PipelineConfig configures the report workflow.
type PipelineConfig struct {
	SafetyMargin          int    `yaml:"safety_margin" mapstructure:"safety_margin"`
	AdvisorConcurrency    int    `yaml:"advisor_concurrency" mapstructure:"advisor_concurrency"`
	CatalogsFile          string `yaml:"catalogs_file" mapstructure:"catalogs_file"`
	InternalTimeoutSecs   int    `yaml:"internal_timeout_secs" mapstructure:"internal_timeout_secs"`
	GenerationTimeoutSecs int    `yaml:"generation_timeout_secs" mapstructure:"generation_timeout_secs"`
}

// ResilienceConfig configures retries and circuit breakers for external calls.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	Version     string   `yaml:"version" mapstructure:"version"`
}

// MemoryConfig configures per-conversation memory.
type MemoryConfig struct {
	Window           int `yaml:"window" mapstructure:"window"`
	MaxConversations int `yaml:"max_conversations" mapstructure:"max_conversations"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// envOnlyKeys are the settings with no default, mostly credentials.
var envOnlyKeys = []string{
	"store.max_conns",
	"store.min_conns",
	"anthropic.key",
	"anthropic.base_url",
	"genai.key",
	"genai.base_url",
	"genai.dimensions",
	"web.linkup.key",
	"web.jina.key",
	"web.perplexity.key",
	"knowledge.mistral_api_key",
	"cascade.thresholds_file",
	"pipeline.catalogs_file",
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "market-study.db")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.temperature", 0.3)
	v.SetDefault("anthropic.cache_ttl", "5m")
	v.SetDefault("anthropic.max_retries", 2)
	v.SetDefault("genai.model", "gemini-embedding-001")
	v.SetDefault("web.providers", []string{"linkup", "jina", "perplexity"})
	v.SetDefault("web.timeout_secs", 30)
	v.SetDefault("web.linkup.base_url", "https://api.linkup.so/v1")
	v.SetDefault("web.jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("web.jina.country", "FR")
	v.SetDefault("web.perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("web.perplexity.model", "sonar-pro")
	v.SetDefault("web.perplexity.recency", "year")
	v.SetDefault("knowledge.dir", "data/documents")
	v.SetDefault("knowledge.chunk_size", 1000)
	v.SetDefault("knowledge.chunk_overlap", 200)
	v.SetDefault("knowledge.top_k", 3)
	v.SetDefault("knowledge.cache_size", 256)
	v.SetDefault("knowledge.concurrency", 4)
	v.SetDefault("knowledge.batch_size", 32)
	v.SetDefault("knowledge.embed_rate", 5)
	v.SetDefault("knowledge.embed_burst", 1)
	v.SetDefault("knowledge.hashing_dims", 256)
	v.SetDefault("knowledge.pdf_extractor", "local")
	v.SetDefault("knowledge.pdftotext_path", "pdftotext")
	v.SetDefault("knowledge.watch_debounce_ms", 2000)
	v.SetDefault("cascade.internal_acceptance", 0.80)
	v.SetDefault("cascade.web_confidence", 0.7)
	v.SetDefault("cascade.expert_flag", 0.7)
	v.SetDefault("pipeline.safety_margin", 36)
	v.SetDefault("pipeline.advisor_concurrency", 4)
	v.SetDefault("pipeline.internal_timeout_secs", 30)
	v.SetDefault("pipeline.generation_timeout_secs", 120)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 30000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.version", "1.0.0")
	v.SetDefault("memory.window", 10)
	v.SetDefault("memory.max_conversations", 1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Keys without a default are unknown to viper until bound, and
	// AutomaticEnv only reaches keys viper knows.
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "generate", "serve" and "index".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "generate", "serve":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if !anthropic.ValidCacheTTL(c.Anthropic.CacheTTL) {
			errs = append(errs, "anthropic.cache_ttl must be 5m, 1h or empty")
		}
		if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "index":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}
	if c.Knowledge.ChunkSize <= 0 {
		errs = append(errs, "knowledge.chunk_size must be > 0")
	}
	if c.Knowledge.ChunkOverlap < 0 || c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		errs = append(errs, "knowledge.chunk_overlap must be >= 0 and < chunk_size")
	}
	for name, v := range map[string]float64{
		"cascade.internal_acceptance": c.Cascade.InternalAcceptance,
		"cascade.web_confidence":      c.Cascade.WebConfidence,
		"cascade.expert_flag":         c.Cascade.ExpertFlag,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, name+" must be between 0 and 1")
		}
	}
	if c.Pipeline.AdvisorConcurrency < 1 || c.Pipeline.AdvisorConcurrency > 32 {
		errs = append(errs, "pipeline.advisor_concurrency must be between 1 and 32")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Retry returns the retry policy for external calls. Unset values keep the
// package defaults.
func (r ResilienceConfig) Retry() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		Attempts:  r.MaxAttempts,
		BaseDelay: time.Duration(r.InitialBackoffMs) * time.Millisecond,
		MaxDelay:  time.Duration(r.MaxBackoffMs) * time.Millisecond,
		Factor:    r.Multiplier,
		Jitter:    r.JitterFraction,
	}
}

// Circuit returns the circuit breaker policy for external calls.
func (r ResilienceConfig) Circuit() resilience.BreakerPolicy {
	return resilience.BreakerPolicy{
		Failures: r.FailureThreshold,
		Cooldown: time.Duration(r.ResetTimeoutSecs) * time.Second,
	}
}

// WatchDebounce returns the debounce delay of the documents watcher.
func (k KnowledgeConfig) WatchDebounce() time.Duration {
	return time.Duration(k.WatchDebounceMs) * time.Millisecond
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
