package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Catalog      CatalogConfig      `yaml:"catalog" mapstructure:"catalog"`
	Notion       NotionConfig       `yaml:"notion" mapstructure:"notion"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Extraction   ExtractionConfig   `yaml:"extraction" mapstructure:"extraction"`
	Adjudication AdjudicationConfig `yaml:"adjudication" mapstructure:"adjudication"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the case and audit trail database.
type StoreConfig struct {
	Driver      string      `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string      `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32       `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32       `yaml:"min_conns" mapstructure:"min_conns"`
	Retry       RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures backoff for transient failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CatalogConfig selects where rule definitions come from.
type CatalogConfig struct {
	// Source is "embedded", "file" or "notion".
	Source string `yaml:"source" mapstructure:"source"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// NotionConfig holds the Notion token and rule database id.
type NotionConfig struct {
	Token     string  `yaml:"token" mapstructure:"token"`
	RuleDB    string  `yaml:"rule_db" mapstructure:"rule_db"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// AnthropicConfig holds Anthropic API settings for the extractor.
type AnthropicConfig struct {
	Key               string      `yaml:"key" mapstructure:"key"`
	Model             string      `yaml:"model" mapstructure:"model"`
	MaxTokens         int64       `yaml:"max_tokens" mapstructure:"max_tokens"`
	CacheTTL          string      `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	RequestsPerSecond float64     `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int         `yaml:"burst" mapstructure:"burst"`
	Retry             RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// ExtractionConfig selects the candidate source.
type ExtractionConfig struct {
	// Source is "file" (prepared JSON bundles) or "claude" (case documents).
	Source           string `yaml:"source" mapstructure:"source"`
	Dir              string `yaml:"dir" mapstructure:"dir"`
	MaxDocumentChars int    `yaml:"max_document_chars" mapstructure:"max_document_chars"`
}

// AdjudicationConfig bounds adjudication concurrency.
type AdjudicationConfig struct {
	MaxConcurrentFields int `yaml:"max_concurrent_fields" mapstructure:"max_concurrent_fields"`
	MaxConcurrentCases  int `yaml:"max_concurrent_cases" mapstructure:"max_concurrent_cases"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the background adjudication quality checks
// run alongside the HTTP API.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ReviewRateThreshold float64 `yaml:"review_rate_threshold" mapstructure:"review_rate_threshold"`
	RejectRateThreshold float64 `yaml:"reject_rate_threshold" mapstructure:"reject_rate_threshold"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads ./config.yaml (optional) and the environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and the environment. An empty path
// falls back to an optional ./config.yaml; an explicit path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("ABSTRACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets and ids have empty defaults so env overrides reach Unmarshal.
	for _, key := range []string{"store.database_url", "catalog.path", "notion.token", "notion.rule_db", "anthropic.key", "monitoring.webhook_url"} {
		v.SetDefault(key, "")
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "abstraction.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.retry.max_attempts", 3)
	v.SetDefault("store.retry.initial_backoff_ms", 200)
	v.SetDefault("store.retry.max_backoff_ms", 5000)
	v.SetDefault("catalog.source", "embedded")
	v.SetDefault("notion.rate_limit", 3.0)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.cache_ttl", "1h")
	v.SetDefault("anthropic.requests_per_second", 1.0)
	v.SetDefault("anthropic.burst", 1)
	v.SetDefault("anthropic.retry.max_attempts", 4)
	v.SetDefault("anthropic.retry.initial_backoff_ms", 1000)
	v.SetDefault("anthropic.retry.max_backoff_ms", 30000)
	v.SetDefault("extraction.source", "file")
	v.SetDefault("extraction.dir", "cases")
	v.SetDefault("extraction.max_document_chars", 20000)
	v.SetDefault("adjudication.max_concurrent_fields", 8)
	v.SetDefault("adjudication.max_concurrent_cases", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.review_rate_threshold", 0.5)
	v.SetDefault("monitoring.reject_rate_threshold", 0.8)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: "run",
// "batch", "serve", "rules", "trail".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "run", "batch", "serve", "rules", "trail":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Catalog.Source {
	case "embedded":
	case "file":
		if c.Catalog.Path == "" {
			problems = append(problems, "catalog.path is required when catalog.source is file")
		}
	case "notion":
		if c.Notion.Token == "" {
			problems = append(problems, "notion.token is required when catalog.source is notion")
		}
		if c.Notion.RuleDB == "" {
			problems = append(problems, "notion.rule_db is required when catalog.source is notion")
		}
	default:
		problems = append(problems, "catalog.source must be embedded, file or notion")
	}

	if mode != "rules" {
		switch c.Store.Driver {
		case "sqlite":
			if c.Store.SQLitePath == "" {
				problems = append(problems, "store.sqlite_path is required for the sqlite driver")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required for the postgres driver")
			}
		default:
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
	}

	if mode == "run" || mode == "batch" || mode == "serve" {
		if c.Adjudication.MaxConcurrentFields < 1 {
			problems = append(problems, "adjudication.max_concurrent_fields must be at least 1")
		}
	}

	if mode == "run" || mode == "batch" {
		switch c.Extraction.Source {
		case "file":
		case "claude":
			if c.Anthropic.Key == "" {
				problems = append(problems, "anthropic.key is required when extraction.source is claude")
			}
		default:
			problems = append(problems, "extraction.source must be file or claude")
		}
	}

	if mode == "batch" && c.Adjudication.MaxConcurrentCases < 1 {
		problems = append(problems, "adjudication.max_concurrent_cases must be at least 1")
	}

	if mode == "serve" && (c.Server.Port < 1 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	if mode == "serve" && c.Monitoring.Enabled && c.Monitoring.LookbackWindowHours < 1 {
		problems = append(problems, "monitoring.lookback_window_hours must be at least 1")
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
