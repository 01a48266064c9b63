package config

import (
	"errors"
	"fmt"

	"vprism-adjust/internal/factor"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Engine.AlgorithmVersion < 1 {
		return errors.New("engine.algorithm_version must be >= 1")
	}
	if c.Engine.GapThreshold <= 0 {
		return fmt.Errorf("engine.gap_threshold must be > 0, got %v", c.Engine.GapThreshold)
	}
	if _, err := factor.PolicyByName(c.Engine.DefaultDividendPolicy); err != nil {
		return fmt.Errorf("engine.default_dividend_policy: %w", err)
	}

	for name, m := range c.Markets {
		if m.DividendPolicy == "" {
			continue
		}
		if _, err := factor.PolicyByName(m.DividendPolicy); err != nil {
			return fmt.Errorf("markets.%s.dividend_policy: %w", name, err)
		}
	}

	if !c.Storage.UseMemory {
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required unless storage.use_memory is set")
		}
		if c.Storage.ClickHouseDSN == "" {
			return errors.New("storage.clickhouse_dsn is required unless storage.use_memory is set")
		}
	}
	if c.Storage.MaxConns < 1 {
		return errors.New("storage.max_conns must be >= 1")
	}

	if c.Writeback.BufferSize < 1 {
		return errors.New("writeback.buffer_size must be >= 1")
	}
	if c.Writeback.MaxRetries < 0 {
		return errors.New("writeback.max_retries must be >= 0")
	}

	if c.Batch.Concurrency < 1 {
		return errors.New("batch.concurrency must be >= 1")
	}
	for i, ref := range c.Batch.Symbols {
		if ref.Symbol == "" || ref.Market == "" {
			return fmt.Errorf("batch.symbols[%d]: symbol and market are required", i)
		}
	}

	return nil
}
