package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	OpenRouter OpenRouterConfig `yaml:"openrouter" mapstructure:"openrouter"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Lemlist    LemlistConfig    `yaml:"lemlist" mapstructure:"lemlist"`
	Research   ResearchConfig   `yaml:"research" mapstructure:"research"`
	Generation GenerationConfig `yaml:"generation" mapstructure:"generation"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Import     ImportConfig     `yaml:"import" mapstructure:"import"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OpenRouterConfig holds OpenRouter API settings. Research and generation
// both go through OpenRouter by default.
type OpenRouterConfig struct {
	Key     string  `yaml:"key" mapstructure:"key"`
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	Referer string  `yaml:"referer" mapstructure:"referer"`
	Title   string  `yaml:"title" mapstructure:"title"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// AnthropicConfig holds Anthropic API settings. When Key is set, catalog
// models with a direct Anthropic mapping bypass OpenRouter.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FirecrawlConfig holds Firecrawl API settings (reader fallback only).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// LemlistConfig holds campaign platform settings.
type LemlistConfig struct {
	Key     string  `yaml:"key" mapstructure:"key"`
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// ResearchConfig configures the research stage.
type ResearchConfig struct {
	Provider            string `yaml:"provider" mapstructure:"provider"` // "sonar" or "reader"
	Model               string `yaml:"model" mapstructure:"model"`
	SummaryModel        string `yaml:"summary_model" mapstructure:"summary_model"`
	CacheTTLHours       int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	MaxContentChars     int    `yaml:"max_content_chars" mapstructure:"max_content_chars"`
	EmptyWebsiteSummary string `yaml:"empty_website_summary" mapstructure:"empty_website_summary"`
}

// CacheTTL returns the research cache lifetime. Zero disables caching.
func (r ResearchConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLHours) * time.Hour
}

// GenerationConfig configures the generation stage.
type GenerationConfig struct {
	DefaultModel        string `yaml:"default_model" mapstructure:"default_model"`
	FallbackFirstName   string `yaml:"fallback_first_name" mapstructure:"fallback_first_name"`
	FallbackCompanyName string `yaml:"fallback_company_name" mapstructure:"fallback_company_name"`
	MaxTokens           int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PipelineConfig configures batch generation and export.
type PipelineConfig struct {
	BatchSize       int         `yaml:"batch_size" mapstructure:"batch_size"`
	ExportChunkSize int         `yaml:"export_chunk_size" mapstructure:"export_chunk_size"`
	ProgressMode    string      `yaml:"progress_mode" mapstructure:"progress_mode"` // "snapshot" or "requery"
	ClaimTTLMinutes int         `yaml:"claim_ttl_minutes" mapstructure:"claim_ttl_minutes"`
	Retry           RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// ClaimTTL returns how long a claim may be held before another run releases it.
func (p PipelineConfig) ClaimTTL() time.Duration {
	return time.Duration(p.ClaimTTLMinutes) * time.Minute
}

// RetryConfig configures retries around external API calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// ImportConfig configures lead import.
type ImportConfig struct {
	OptOutURL      string `yaml:"opt_out_url" mapstructure:"opt_out_url"`
	RequireWebsite bool   `yaml:"require_website" mapstructure:"require_website"`
	ChunkSize      int    `yaml:"chunk_size" mapstructure:"chunk_size"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file, and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outreach.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("openrouter.key", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("jina.key", "")
	v.SetDefault("firecrawl.key", "")
	v.SetDefault("lemlist.key", "")
	v.SetDefault("import.opt_out_url", "")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.referer", "http://localhost:3000")
	v.SetDefault("openrouter.title", "Outreach CLI")
	v.SetDefault("openrouter.rps", 5)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("lemlist.base_url", "https://api.lemlist.com/api")
	v.SetDefault("lemlist.rps", 5)
	v.SetDefault("research.provider", "sonar")
	v.SetDefault("research.model", "perplexity/sonar-reasoning-pro")
	v.SetDefault("research.summary_model", "google/gemini-3-flash-preview")
	v.SetDefault("research.cache_ttl_hours", 168)
	v.SetDefault("research.max_content_chars", 12000)
	v.SetDefault("research.empty_website_summary", "No website provided.")
	v.SetDefault("generation.default_model", "google/gemini-3-flash-preview")
	v.SetDefault("generation.fallback_first_name", "there")
	v.SetDefault("generation.fallback_company_name", "your company")
	v.SetDefault("generation.max_tokens", 512)
	v.SetDefault("pipeline.batch_size", 5)
	v.SetDefault("pipeline.export_chunk_size", 5)
	v.SetDefault("pipeline.progress_mode", "snapshot")
	v.SetDefault("pipeline.claim_ttl_minutes", 30)
	v.SetDefault("pipeline.retry.max_attempts", 3)
	v.SetDefault("pipeline.retry.initial_backoff_ms", 500)
	v.SetDefault("pipeline.retry.max_backoff_ms", 10000)
	v.SetDefault("pipeline.retry.multiplier", 2.0)
	v.SetDefault("pipeline.retry.jitter_fraction", 0.25)
	v.SetDefault("import.require_website", true)
	v.SetDefault("import.chunk_size", 100)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that the settings a command needs are present. Mode is
// one of "generate", "export", "import", "serve" or "store".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "generate", "export", "import", "serve", "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for postgres (OUTREACH_STORE_DATABASE_URL)")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if c.Pipeline.BatchSize < 1 || c.Pipeline.BatchSize > 50 {
		problems = append(problems, "pipeline.batch_size must be between 1 and 50")
	}
	if c.Pipeline.ExportChunkSize < 1 || c.Pipeline.ExportChunkSize > 50 {
		problems = append(problems, "pipeline.export_chunk_size must be between 1 and 50")
	}
	if c.Pipeline.ProgressMode != "snapshot" && c.Pipeline.ProgressMode != "requery" {
		problems = append(problems, fmt.Sprintf("pipeline.progress_mode must be snapshot or requery, got %q", c.Pipeline.ProgressMode))
	}

	if mode == "generate" || mode == "serve" {
		if c.OpenRouter.Key == "" {
			problems = append(problems, "openrouter.key is required (OUTREACH_OPENROUTER_KEY)")
		}
		switch c.Research.Provider {
		case "sonar":
		case "reader":
			if c.Jina.Key == "" && c.Firecrawl.Key == "" {
				problems = append(problems, "research.provider reader needs jina.key or firecrawl.key")
			}
		default:
			problems = append(problems, fmt.Sprintf("research.provider %q is not supported", c.Research.Provider))
		}
	}
	if (mode == "export" || mode == "serve") && c.Lemlist.Key == "" {
		problems = append(problems, "lemlist.key is required (OUTREACH_LEMLIST_KEY)")
	}
	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}
	if mode == "import" && c.Import.ChunkSize <= 0 {
		problems = append(problems, "import.chunk_size must be > 0")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
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
