package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LoadEnvFile loads KEY=VALUE lines from path into the environment.
// Existing variables are not overridden; a missing file is ignored.
func LoadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// SeedFromCSV loads the given price and event files into stores.
// Empty paths are skipped. Returns the number of prices and events written.
func SeedFromCSV(ctx context.Context, stores *Stores, pricesPath, eventsPath string) (int, int, error) {
	var nPrices, nEvents int

	if pricesPath != "" {
		f, err := os.Open(pricesPath)
		if err != nil {
			return 0, 0, fmt.Errorf("open prices csv: %w", err)
		}
		nPrices, err = LoadPricesCSV(ctx, f, stores.PriceWriter)
		f.Close()
		if err != nil {
			return 0, 0, fmt.Errorf("%s: %w", pricesPath, err)
		}
	}

	if eventsPath != "" {
		f, err := os.Open(eventsPath)
		if err != nil {
			return nPrices, 0, fmt.Errorf("open events csv: %w", err)
		}
		nEvents, err = LoadEventsCSV(ctx, f, stores.EventWriter, uuid.New(), time.Now())
		f.Close()
		if err != nil {
			return nPrices, 0, fmt.Errorf("%s: %w", eventsPath, err)
		}
	}

	return nPrices, nEvents, nil
}
