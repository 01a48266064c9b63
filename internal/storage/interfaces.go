package storage

import (
	"context"
	"time"

	"vprism-adjust/internal/domain"
)

// PriceSource provides read access to raw daily closes (daily_prices).
type PriceSource interface {
	// GetPriceHistory retrieves every close of a symbol with date <= until,
	// ordered by date ASC.
	GetPriceHistory(ctx context.Context, symbol, market string, until time.Time) ([]*domain.PriceObservation, error)
}

// PriceWriter loads raw daily closes.
type PriceWriter interface {
	// InsertBulk adds multiple closes. Fails entire batch on duplicate (symbol, market, date).
	InsertBulk(ctx context.Context, prices []*domain.PriceObservation) error
}

// EventSource provides read access to raw corporate-action events (corporate_actions).
type EventSource interface {
	// GetEvents retrieves every event of a symbol with effective_date <= until,
	// ordered by effective_date ASC, ingest_time ASC.
	// Events are returned as ingested; duplicates across batches are possible.
	GetEvents(ctx context.Context, symbol, market string, until time.Time) ([]*domain.CorporateActionEvent, error)
}

// EventWriter loads raw corporate-action events.
type EventWriter interface {
	// InsertBulk adds multiple events atomically. Missing event ids are derived.
	// Fails entire batch on duplicate (event_id, ingestion_batch_id).
	InsertBulk(ctx context.Context, events []*domain.CorporateActionEvent) error
}

// AdjustmentStore provides access to the versioned adjustments table.
// Rows are append-only; a changed event set produces a new version.
type AdjustmentStore interface {
	// Upsert writes rows atomically and returns the number of rows inserted.
	// A row whose key exists with the same content is skipped.
	// A row whose key exists with different content fails the whole batch
	// with ErrConflictingRow.
	Upsert(ctx context.Context, rows []*domain.AdjustmentFactorRow) (int, error)

	// GetLatest retrieves rows within [start, end] of the most recently built
	// version whose stored span covers [start, end], ordered by date ASC.
	// Returns ErrMissingVersion if no version covers the range.
	GetLatest(ctx context.Context, symbol, market string, start, end time.Time) ([]*domain.AdjustmentFactorRow, error)

	// GetVersion retrieves rows within [start, end] of one version, ordered by date ASC.
	// Returns ErrMissingVersion if the version does not cover the range.
	GetVersion(ctx context.Context, symbol, market, version string, start, end time.Time) ([]*domain.AdjustmentFactorRow, error)

	// ListVersions retrieves metadata of every stored version, newest build first.
	ListVersions(ctx context.Context, symbol, market string) ([]*domain.VersionMetadata, error)
}
