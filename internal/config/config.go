// Package config loads matchscore configuration and initializes logging.
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
	SAM        SAMConfig        `yaml:"sam" mapstructure:"sam"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SAMConfig configures the SAM.gov opportunity search client.
type SAMConfig struct {
	APIKey     string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	PageSize   int     `yaml:"page_size" mapstructure:"page_size"`
}

// AnalysisConfig configures the analysis provider and the poll loop.
type AnalysisConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	APIKey           string `yaml:"api_key" mapstructure:"api_key"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	PollTimeoutSecs  int    `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`

	// MaxAttempts caps polls per cycle; 0 relies on the timeout alone.
	MaxAttempts int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	TTLHours    TTLHours `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// TTLHours holds the freshness window of each artifact type.
type TTLHours struct {
	AIInsights       int `yaml:"ai_insights" mapstructure:"ai_insights"`
	Competitors      int `yaml:"competitors" mapstructure:"competitors"`
	SimilarContracts int `yaml:"similar_contracts" mapstructure:"similar_contracts"`
}

// PollInterval returns the configured interval as a duration.
func (c AnalysisConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

// PollTimeout returns the configured timeout as a duration.
func (c AnalysisConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSecs) * time.Second
}

// CacheConfig configures the search result cache.
type CacheConfig struct {
	TTLMinutes        int  `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
	SweepIntervalSecs int  `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
	StaleFallback     bool `yaml:"stale_fallback" mapstructure:"stale_fallback"`
}

// ScoringConfig selects the weight configuration.
type ScoringConfig struct {
	WeightsPath      string `yaml:"weights_path" mapstructure:"weights_path"`
	AlgorithmVersion string `yaml:"algorithm_version" mapstructure:"algorithm_version"`

	// Concurrency bounds per-item scoring during search.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// RedisConfig configures completion notifications. An empty Addr disables them.
type RedisConfig struct {
	Addr    string `yaml:"addr" mapstructure:"addr"`
	Channel string `yaml:"channel" mapstructure:"channel"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// RetryConfig configures retries of upstream calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the per-upstream circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitoringConfig configures the prediction accuracy checker.
type MonitoringConfig struct {
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	MinOutcomes         int     `yaml:"min_outcomes" mapstructure:"min_outcomes"`
	HitRateThreshold    float64 `yaml:"hit_rate_threshold" mapstructure:"hit_rate_threshold"`
	CacheHitRateFloor   float64 `yaml:"cache_hit_rate_floor" mapstructure:"cache_hit_rate_floor"`
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
	v.SetEnvPrefix("MATCHSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a default must still be known to viper for env binding.
	for _, key := range []string{
		"sam.api_key", "analysis.base_url", "analysis.api_key", "scoring.weights_path",
		"redis.addr", "monitoring.webhook_url",
	} {
		v.SetDefault(key, "")
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "matchscore.db")
	v.SetDefault("sam.base_url", "https://api.sam.gov")
	v.SetDefault("sam.rate_per_sec", 2.0)
	v.SetDefault("sam.page_size", 25)
	v.SetDefault("analysis.poll_interval_secs", 3)
	v.SetDefault("analysis.poll_timeout_secs", 300)
	v.SetDefault("analysis.max_attempts", 100)
	v.SetDefault("analysis.ttl_hours.ai_insights", 24)
	v.SetDefault("analysis.ttl_hours.competitors", 6)
	v.SetDefault("analysis.ttl_hours.similar_contracts", 6)
	v.SetDefault("cache.ttl_minutes", 30)
	v.SetDefault("cache.sweep_interval_secs", 300)
	v.SetDefault("cache.stale_fallback", false)
	v.SetDefault("scoring.algorithm_version", "2.1.0")
	v.SetDefault("scoring.concurrency", 8)
	v.SetDefault("redis.channel", "matchscore:analysis")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("monitoring.check_interval_secs", 900)
	v.SetDefault("monitoring.lookback_window_hours", 24*30)
	v.SetDefault("monitoring.min_outcomes", 20)
	v.SetDefault("monitoring.hit_rate_threshold", 0.6)
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

// Validate checks that the keys a command needs are present. Each section
// names a concern: store, sam, analysis, scoring, redis, server.
func (c *Config) Validate(sections ...string) error {
	var missing []string
	for _, s := range sections {
		switch s {
		case "store":
			switch c.Store.Driver {
			case "sqlite", "postgres":
			default:
				return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
			}
			if c.Store.DatabaseURL == "" {
				missing = append(missing, "store.database_url")
			}
		case "sam":
			if c.SAM.APIKey == "" {
				missing = append(missing, "sam.api_key")
			}
			if c.SAM.BaseURL == "" {
				missing = append(missing, "sam.base_url")
			}
		case "analysis":
			if c.Analysis.BaseURL == "" {
				missing = append(missing, "analysis.base_url")
			}
			if c.Analysis.PollIntervalSecs <= 0 || c.Analysis.PollTimeoutSecs <= 0 {
				return eris.New("config: analysis poll interval and timeout must be positive")
			}
			if c.Analysis.PollIntervalSecs > c.Analysis.PollTimeoutSecs {
				return eris.New("config: analysis poll interval exceeds poll timeout")
			}
		case "scoring":
			if c.Scoring.WeightsPath == "" {
				missing = append(missing, "scoring.weights_path")
			}
		case "redis":
			if c.Redis.Addr == "" {
				missing = append(missing, "redis.addr")
			}
		case "server":
			if c.Server.Port <= 0 || c.Server.Port > 65535 {
				return eris.Errorf("config: invalid server port %d", c.Server.Port)
			}
		default:
			return eris.Errorf("config: unknown section %q", s)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required keys: %s", strings.Join(missing, ", "))
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
