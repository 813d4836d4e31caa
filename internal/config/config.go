package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/nexus-trading/pulse/internal/adapters/deriv"
	"github.com/nexus-trading/pulse/internal/engine"
	"github.com/nexus-trading/pulse/internal/risk"
	"github.com/nexus-trading/pulse/internal/strategy"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for pulse.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	Engine     engine.Rules     `yaml:"engine"`
	Risk       risk.Settings    `yaml:"risk"`
	Strategies StrategiesConfig `yaml:"strategies"`
	Models     ModelsConfig     `yaml:"models"`
	Feed       FeedConfig       `yaml:"feed"`
	Paper      PaperConfig      `yaml:"paper"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id" default:"pulse-1"`
	Environment string `yaml:"environment" default:"development" validate:"oneof=production staging development"`
	LogLevel    string `yaml:"log_level" default:"info" validate:"oneof=trace debug info warn error"`
	LogFormat   string `yaml:"log_format" default:"json" validate:"oneof=json text"`
	// Start trading immediately instead of waiting for an operator.
	AutoStart bool `yaml:"auto_start" default:"true"`
}

// StrategiesConfig tunes the strategy library, keyed by config name
// (breakout, htf_pullback, momentum, price_action, range_trading, scalping,
// smart_money, supply_demand).
type StrategiesConfig map[string]StrategyConfig

type StrategyConfig struct {
	Disabled bool                   `yaml:"disabled"`
	Params   map[string]interface{} `yaml:"params"`
}

// For returns the parameters of one strategy. Unknown names get none.
func (s StrategiesConfig) For(name string) strategy.Config {
	return strategy.Config{Params: s[name].Params}
}

// ModelsConfig points at externally trained model files. Empty paths run
// the heuristic classifier and the rule selector.
type ModelsConfig struct {
	RegimePath      string  `yaml:"regime_path"`
	EdgePath        string  `yaml:"edge_path"`
	ConfidenceFloor float64 `yaml:"confidence_floor" default:"0.55" validate:"gt=0,lt=1"`
}

type FeedConfig struct {
	Deriv        deriv.Config  `yaml:"deriv"`
	GapThreshold time.Duration `yaml:"gap_threshold" default:"5s"`
	StaleTimeout time.Duration `yaml:"stale_timeout" default:"30s"`
	LagThreshold time.Duration `yaml:"lag_threshold" default:"2s"`
	// The feed is unhealthy when no tick at all arrived within this window.
	MaxSilence time.Duration `yaml:"max_silence" default:"1m"`
}

// PaperConfig selects the simulated broker. When disabled orders go to
// Deriv.
type PaperConfig struct {
	Enabled        bool     `yaml:"enabled" default:"true"`
	PayoutRatio    float64  `yaml:"payout_ratio" default:"0.95" validate:"gt=0"`
	OfferedSymbols []string `yaml:"offered_symbols"`
}

type KafkaConfig struct {
	Enabled bool          `yaml:"enabled"`
	Brokers []string      `yaml:"brokers" default:"[\"localhost:9092\"]"`
	Linger  time.Duration `yaml:"linger" default:"5ms"`
	// Trail keeps this many trade log entries in memory.
	TrailSize int `yaml:"trail_size" default:"10000" validate:"gte=1"`
}

type ClickHouseConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DSN           string        `yaml:"dsn" default:"clickhouse://localhost:9000/pulse"`
	Database      string        `yaml:"database" default:"pulse" validate:"required"`
	BatchSize     int           `yaml:"batch_size" default:"500" validate:"gte=1"`
	FlushInterval time.Duration `yaml:"flush_interval" default:"5s"`
}

type MetricsConfig struct {
	Addr           string        `yaml:"addr" default:":9090" validate:"required"`
	Namespace      string        `yaml:"namespace" default:"pulse" validate:"required"`
	HealthInterval time.Duration `yaml:"health_interval" default:"10s"`
}

// Load reads and parses a YAML configuration file. A .env file next to the
// working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("invalid config: kafka.brokers is required when kafka is enabled")
	}
	if !c.Paper.Enabled && c.Feed.Deriv.Token == "" {
		return errors.New("invalid config: feed.deriv.token is required when paper trading is disabled")
	}
	return nil
}
