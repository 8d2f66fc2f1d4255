// Package config loads application configuration from file and environment
// and owns global logger initialization.
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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Workflow  WorkflowConfig  `yaml:"workflow" mapstructure:"workflow"`
	Match     MatchConfig     `yaml:"match" mapstructure:"match"`
	Provider  ProviderConfig  `yaml:"provider" mapstructure:"provider"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	ExtractionModel string `yaml:"extraction_model" mapstructure:"extraction_model"`
	EnrichmentModel string `yaml:"enrichment_model" mapstructure:"enrichment_model"`
	AnalysisModel   string `yaml:"analysis_model" mapstructure:"analysis_model"`
}

// WorkflowConfig configures pipeline behavior.
type WorkflowConfig struct {
	GateChecks          int    `yaml:"gate_checks" mapstructure:"gate_checks"`
	RemediationAttempts int    `yaml:"remediation_attempts" mapstructure:"remediation_attempts"`
	MaxParallelStages   int    `yaml:"max_parallel_stages" mapstructure:"max_parallel_stages"`
	StageFile           string `yaml:"stage_file" mapstructure:"stage_file"`
	PoolLimit           int    `yaml:"pool_limit" mapstructure:"pool_limit"`
}

// MatchConfig configures upload matching.
type MatchConfig struct {
	Threshold     float64 `yaml:"threshold" mapstructure:"threshold"`
	MaxCandidates int     `yaml:"max_candidates" mapstructure:"max_candidates"`
}

// ProviderConfig configures the rate and retry envelope around provider
// calls.
type ProviderConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// ServerConfig configures the HTTP API server.
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
	v.SetEnvPrefix("EVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "evaluation.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.extraction_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.enrichment_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.analysis_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("workflow.gate_checks", 2)
	v.SetDefault("workflow.remediation_attempts", 2)
	v.SetDefault("workflow.max_parallel_stages", 4)
	v.SetDefault("workflow.pool_limit", 25)
	v.SetDefault("match.threshold", 0.8)
	v.SetDefault("match.max_candidates", 5)
	v.SetDefault("provider.requests_per_second", 2)
	v.SetDefault("provider.burst", 4)
	v.SetDefault("provider.max_retries", 3)

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
