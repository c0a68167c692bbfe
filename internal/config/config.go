package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Assets     AssetsConfig     `yaml:"assets" mapstructure:"assets"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Features   FeaturesConfig   `yaml:"features" mapstructure:"features"`
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

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ClassifierConfig configures calls to the external classification service.
type ClassifierConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryCount        int     `yaml:"retry_count" mapstructure:"retry_count"`
	FallbackEnabled   bool    `yaml:"fallback_enabled" mapstructure:"fallback_enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BreakerFailures   int     `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Timeout returns the per-call timeout as a duration.
func (c ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// AssetsConfig configures where inspection photos are read from.
type AssetsConfig struct {
	Root            string `yaml:"root" mapstructure:"root"`
	FTPTimeoutSecs  int    `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
	HTTPTimeoutSecs int    `yaml:"http_timeout_secs" mapstructure:"http_timeout_secs"`
}

// BatchConfig configures batch classification.
type BatchConfig struct {
	MaxWorkers int `yaml:"max_workers" mapstructure:"max_workers"`
}

// CacheConfig configures the read-side projection cache.
type CacheConfig struct {
	TTLSecs    int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
}

// FeaturesConfig toggles optional processing steps.
type FeaturesConfig struct {
	TextClassification  bool `yaml:"text_classification" mapstructure:"text_classification"`
	ImageClassification bool `yaml:"image_classification" mapstructure:"image_classification"`
	SummaryGeneration   bool `yaml:"summary_generation" mapstructure:"summary_generation"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INSPECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "inspection.db")
	v.SetDefault("store.max_conns", 5)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 256)
	v.SetDefault("classifier.enabled", true)
	v.SetDefault("classifier.timeout_secs", 30)
	v.SetDefault("classifier.retry_count", 3)
	v.SetDefault("classifier.fallback_enabled", true)
	v.SetDefault("classifier.requests_per_second", 5)
	v.SetDefault("classifier.breaker_failures", 5)
	v.SetDefault("classifier.breaker_reset_secs", 30)
	v.SetDefault("assets.root", ".")
	v.SetDefault("assets.ftp_timeout_secs", 30)
	v.SetDefault("assets.http_timeout_secs", 30)
	v.SetDefault("batch.max_workers", 4)
	v.SetDefault("cache.ttl_secs", 300)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("features.text_classification", true)
	v.SetDefault("features.image_classification", true)
	v.SetDefault("features.summary_generation", true)
	v.SetDefault("server.port", 8080)
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

// Validate checks the settings a command depends on. Mode selects the
// command-specific requirements ("classify", "summarize", "serve"); any other
// value only runs the common checks.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Classifier.TimeoutSecs <= 0 {
		errs = append(errs, "classifier.timeout_secs must be positive")
	}
	if c.Classifier.RetryCount < 0 {
		errs = append(errs, "classifier.retry_count must not be negative")
	}
	if c.Batch.MaxWorkers <= 0 {
		errs = append(errs, "batch.max_workers must be positive")
	}
	if c.Cache.TTLSecs < 0 {
		errs = append(errs, "cache.ttl_secs must not be negative")
	}

	switch mode {
	case "classify", "summarize":
		if c.Classifier.Enabled && c.Anthropic.Key == "" && !c.Classifier.FallbackEnabled {
			errs = append(errs, "anthropic.key is required when classifier fallback is disabled")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
