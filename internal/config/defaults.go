package config

import (
	"time"

	"vprism-adjust/internal/engine"
	"vprism-adjust/internal/factor"
	"vprism-adjust/internal/orchestrator"
)

// Default values for optional configuration fields.
const (
	DefaultMaxConns         = 10
	DefaultBufferSize       = 256
	DefaultMaxRetries       = 3
	DefaultRetryBaseDelay   = 200 * time.Millisecond
	DefaultMetricsAddr      = ":9090"
	DefaultMetricsPath      = "/metrics"
	DefaultDividendPolicy   = factor.PolicyProportional
	DefaultGapThreshold     = factor.DefaultGapThreshold
	DefaultAlgorithmVersion = engine.DefaultAlgorithmVersion
	DefaultConcurrency      = orchestrator.DefaultConcurrency
)

func (c *Config) applyDefaults() {
	// Engine defaults
	if c.Engine.AlgorithmVersion == 0 {
		c.Engine.AlgorithmVersion = DefaultAlgorithmVersion
	}
	if c.Engine.GapThreshold == 0 {
		c.Engine.GapThreshold = DefaultGapThreshold
	}
	if c.Engine.DefaultDividendPolicy == "" {
		c.Engine.DefaultDividendPolicy = DefaultDividendPolicy
	}

	// Storage defaults
	if c.Storage.MaxConns == 0 {
		c.Storage.MaxConns = DefaultMaxConns
	}

	// Writeback defaults
	if c.Writeback.BufferSize == 0 {
		c.Writeback.BufferSize = DefaultBufferSize
	}
	if c.Writeback.MaxRetries == 0 {
		c.Writeback.MaxRetries = DefaultMaxRetries
	}
	if c.Writeback.RetryBaseDelay == 0 {
		c.Writeback.RetryBaseDelay = DefaultRetryBaseDelay
	}

	// Batch defaults
	if c.Batch.Concurrency == 0 {
		c.Batch.Concurrency = DefaultConcurrency
	}

	// Metrics defaults
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
