// Package config loads application configuration and initializes logging.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Scoring ScoringConfig `yaml:"scoring" mapstructure:"scoring"`
	Signal  SignalConfig  `yaml:"signal" mapstructure:"signal"`
	Engine  EngineConfig  `yaml:"engine" mapstructure:"engine"`
	Rules   RulesConfig   `yaml:"rules" mapstructure:"rules"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ScoringConfig holds the tunable weights of the risk scorer. The numbers are
// deliberately configuration, not constants: compliance reviews the defaults
// against the scenario suite before changing them.
type ScoringConfig struct {
	// Per-severity issue weights applied when an issue carries no weight of
	// its own.
	LowWeight      float64 `yaml:"low_weight" mapstructure:"low_weight"`
	MediumWeight   float64 `yaml:"medium_weight" mapstructure:"medium_weight"`
	HighWeight     float64 `yaml:"high_weight" mapstructure:"high_weight"`
	CriticalWeight float64 `yaml:"critical_weight" mapstructure:"critical_weight"`

	// Per-severity ceilings: no single issue may contribute more than its
	// tier ceiling.
	LowCap      float64 `yaml:"low_cap" mapstructure:"low_cap"`
	MediumCap   float64 `yaml:"medium_cap" mapstructure:"medium_cap"`
	HighCap     float64 `yaml:"high_cap" mapstructure:"high_cap"`
	CriticalCap float64 `yaml:"critical_cap" mapstructure:"critical_cap"`

	// MismatchPenalty is scaled by the field's importance; a partial match
	// contributes half.
	MismatchPenalty float64 `yaml:"mismatch_penalty" mapstructure:"mismatch_penalty"`

	// RuleBlendWeight is the rule-based share of the blended score when the
	// AI signal is available; the signal gets the remainder.
	RuleBlendWeight float64 `yaml:"rule_blend_weight" mapstructure:"rule_blend_weight"`

	// Tier thresholds: score < MediumThreshold is low, < HighThreshold is
	// medium, otherwise high.
	MediumThreshold float64 `yaml:"medium_threshold" mapstructure:"medium_threshold"`
	HighThreshold   float64 `yaml:"high_threshold" mapstructure:"high_threshold"`
}

// SignalConfig configures the external probabilistic risk signal client.
type SignalConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RPS         float64 `yaml:"rps" mapstructure:"rps"`
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
}

// EngineConfig configures pipeline behavior.
type EngineConfig struct {
	// QualityAnomalyThreshold: a quality score at or above this is treated as
	// a possible digital copy or screenshot.
	QualityAnomalyThreshold float64 `yaml:"quality_anomaly_threshold" mapstructure:"quality_anomaly_threshold"`
	// LowQualityThreshold: below this the document is suspiciously poor.
	LowQualityThreshold float64 `yaml:"low_quality_threshold" mapstructure:"low_quality_threshold"`
	// MaxConcurrent bounds batch assessment workers.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// RulesConfig points at an optional catalog override file.
type RulesConfig struct {
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the configuration for a run mode. "assess" covers the CLI
// pipeline commands; "serve" adds the HTTP server checks.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "assess", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var problems []string

	switch c.Store.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}

	if c.Scoring.MediumThreshold <= 0 || c.Scoring.HighThreshold <= c.Scoring.MediumThreshold {
		problems = append(problems, "scoring thresholds must satisfy 0 < medium_threshold < high_threshold")
	}
	if c.Scoring.RuleBlendWeight < 0 || c.Scoring.RuleBlendWeight > 1 {
		problems = append(problems, "scoring.rule_blend_weight must be between 0 and 1")
	}
	if c.Engine.MaxConcurrent < 1 || c.Engine.MaxConcurrent > 64 {
		problems = append(problems, "engine.max_concurrent must be between 1 and 64")
	}
	if c.Signal.Enabled && c.Signal.TimeoutSecs <= 0 {
		problems = append(problems, "signal.timeout_secs must be > 0 when the signal is enabled")
	}

	if mode == "serve" && (c.Server.Port < 1 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be between 1 and 65535")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("KYC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "kyc.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("scoring.low_weight", 4)
	v.SetDefault("scoring.medium_weight", 10)
	v.SetDefault("scoring.high_weight", 25)
	v.SetDefault("scoring.critical_weight", 45)
	v.SetDefault("scoring.low_cap", 10)
	v.SetDefault("scoring.medium_cap", 25)
	v.SetDefault("scoring.high_cap", 45)
	v.SetDefault("scoring.critical_cap", 70)
	v.SetDefault("scoring.mismatch_penalty", 30)
	v.SetDefault("scoring.rule_blend_weight", 0.6)
	v.SetDefault("scoring.medium_threshold", 30)
	v.SetDefault("scoring.high_threshold", 70)

	v.SetDefault("signal.timeout_secs", 10)
	v.SetDefault("signal.max_attempts", 2)
	v.SetDefault("signal.rps", 5)
	v.SetDefault("signal.enabled", true)

	v.SetDefault("engine.quality_anomaly_threshold", 98)
	v.SetDefault("engine.low_quality_threshold", 30)
	v.SetDefault("engine.max_concurrent", 8)

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
