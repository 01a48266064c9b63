package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/idhash"
	"vprism-adjust/internal/storage"
)

// EventStore implements storage.EventSource and storage.EventWriter using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.EventSource = (*EventStore)(nil)
	_ storage.EventWriter = (*EventStore)(nil)
)

const insertEventQuery = `
	INSERT INTO corporate_actions (
		event_id, ingestion_batch_id, market, symbol, effective_date,
		event_type, dividend_cash, currency, split_ratio,
		source, raw_payload, ingest_time
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9,
		$10, $11, $12
	)
`

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *EventStore) InsertBulk(ctx context.Context, events []*domain.CorporateActionEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, e := range events {
		if e == nil || e.Symbol == "" || e.Market == "" || e.Action == nil {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range events {
		var dividendCash, splitRatio *float64
		var currency string
		switch a := e.Action.(type) {
		case domain.CashDividend:
			cash := a.Cash
			dividendCash = &cash
			currency = a.Currency
		case domain.StockSplit:
			ratio := a.Ratio
			splitRatio = &ratio
		}

		var payload []byte
		if len(e.RawPayload) > 0 {
			payload = e.RawPayload
		}

		_, err := tx.Exec(ctx, insertEventQuery,
			idhash.EventIDFor(e), e.IngestionBatchID, e.Market, e.Symbol, domain.TruncateDate(e.EffectiveDate),
			string(e.EventType()), dividendCash, currency, splitRatio,
			e.Source, payload, e.IngestTime,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			if isCheckViolation(err) {
				return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
			}
			return fmt.Errorf("insert corporate action: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetEvents retrieves every event with effective_date <= until,
// ordered by effective_date, ingest_time, event_id.
func (s *EventStore) GetEvents(ctx context.Context, symbol, market string, until time.Time) ([]*domain.CorporateActionEvent, error) {
	query := `
		SELECT
			event_id, ingestion_batch_id, market, symbol, effective_date,
			event_type, dividend_cash, currency, split_ratio,
			source, raw_payload, ingest_time
		FROM corporate_actions
		WHERE market = $1 AND symbol = $2 AND effective_date <= $3
		ORDER BY effective_date ASC, ingest_time ASC, event_id ASC
	`

	rows, err := s.pool.Query(ctx, query, market, symbol, until)
	if err != nil {
		return nil, fmt.Errorf("get corporate actions: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvents scans multiple rows into events.
func scanEvents(rows pgx.Rows) ([]*domain.CorporateActionEvent, error) {
	var events []*domain.CorporateActionEvent

	for rows.Next() {
		var e domain.CorporateActionEvent
		var eventType, currency string
		var dividendCash, splitRatio *float64
		var payload []byte

		err := rows.Scan(
			&e.EventID, &e.IngestionBatchID, &e.Market, &e.Symbol, &e.EffectiveDate,
			&eventType, &dividendCash, &currency, &splitRatio,
			&e.Source, &payload, &e.IngestTime,
		)
		if err != nil {
			return nil, fmt.Errorf("scan corporate action: %w", err)
		}

		switch domain.EventType(eventType) {
		case domain.EventTypeDividend:
			if dividendCash != nil {
				e.Action = domain.CashDividend{Cash: *dividendCash, Currency: currency}
			}
		case domain.EventTypeSplit:
			if splitRatio != nil {
				e.Action = domain.StockSplit{Ratio: *splitRatio}
			}
		}

		e.EffectiveDate = domain.TruncateDate(e.EffectiveDate)
		e.IngestTime = e.IngestTime.UTC()
		if len(payload) > 0 {
			e.RawPayload = payload
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corporate actions: %w", err)
	}

	return events, nil
}
