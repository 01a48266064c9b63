// Package config loads the YAML configuration shared by the command-line tools.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/engine"
	"vprism-adjust/internal/factor"
	"vprism-adjust/internal/writeback"
)

// Config is the root configuration.
type Config struct {
	Engine    EngineConfig            `yaml:"engine"`
	Markets   map[string]MarketConfig `yaml:"markets"`
	Storage   StorageConfig           `yaml:"storage"`
	Writeback WritebackConfig         `yaml:"writeback"`
	Batch     BatchConfig             `yaml:"batch"`
	Metrics   MetricsConfig           `yaml:"metrics"`
}

// EngineConfig holds factor computation settings.
type EngineConfig struct {
	AlgorithmVersion      int     `yaml:"algorithm_version"`
	GapThreshold          float64 `yaml:"gap_threshold"`
	DefaultDividendPolicy string  `yaml:"default_dividend_policy"`
}

// MarketConfig holds per-market settings.
type MarketConfig struct {
	Currency       string `yaml:"currency"`
	DividendPolicy string `yaml:"dividend_policy"` // empty inherits engine.default_dividend_policy
}

// StorageConfig selects the backing stores.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	UseMemory     bool   `yaml:"use_memory"`
	MaxConns      int32  `yaml:"max_conns"`
}

// WritebackConfig configures the asynchronous write-back queue.
type WritebackConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BufferSize     int           `yaml:"buffer_size"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// BatchConfig configures cmd/batch.
type BatchConfig struct {
	Concurrency int                `yaml:"concurrency"`
	Symbols     []domain.SymbolRef `yaml:"symbols"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// Load reads a config file, expanding ${VAR} references from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads a config file and fills unset fields.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads, defaults and validates a config file.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// EngineMarkets resolves per-market dividend policies for the engine.
func (c *Config) EngineMarkets() (map[string]engine.MarketConfig, error) {
	markets := make(map[string]engine.MarketConfig, len(c.Markets))
	for name, m := range c.Markets {
		policyName := m.DividendPolicy
		if policyName == "" {
			policyName = c.Engine.DefaultDividendPolicy
		}
		policy, err := factor.PolicyByName(policyName)
		if err != nil {
			return nil, fmt.Errorf("markets.%s: %w", name, err)
		}
		markets[name] = engine.MarketConfig{Currency: m.Currency, Policy: policy}
	}
	return markets, nil
}

// WritebackQueueConfig converts the write-back section into queue settings.
func (c *Config) WritebackQueueConfig() writeback.Config {
	return writeback.Config{
		BufferSize:     c.Writeback.BufferSize,
		MaxRetries:     c.Writeback.MaxRetries,
		RetryBaseDelay: c.Writeback.RetryBaseDelay,
	}
}

// LoadOrDefault loads path with defaults applied, or returns Default when
// path is empty. The result is not validated.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadWithDefaults(path)
}

// ApplyEnvDefaults fills empty DSNs from POSTGRES_DSN and CLICKHOUSE_DSN.
func (c *Config) ApplyEnvDefaults() {
	if c.Storage.PostgresDSN == "" {
		c.Storage.PostgresDSN = os.Getenv("POSTGRES_DSN")
	}
	if c.Storage.ClickHouseDSN == "" {
		c.Storage.ClickHouseDSN = os.Getenv("CLICKHOUSE_DSN")
	}
}
