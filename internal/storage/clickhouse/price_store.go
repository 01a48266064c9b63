package clickhouse

import (
	"context"
	"fmt"
	"time"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/storage"
)

// PriceStore implements storage.PriceSource and storage.PriceWriter using ClickHouse.
type PriceStore struct {
	conn *Conn
}

// NewPriceStore creates a new PriceStore.
func NewPriceStore(conn *Conn) *PriceStore {
	return &PriceStore{conn: conn}
}

// Compile-time interface checks.
var (
	_ storage.PriceSource = (*PriceStore)(nil)
	_ storage.PriceWriter = (*PriceStore)(nil)
)

// chRows is the subset of driver.Rows used by scan helpers.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

type seriesKey struct {
	market, symbol string
}

// InsertBulk adds multiple closes. Fails entire batch on duplicate (market, symbol, date).
// MergeTree does not enforce keys, so duplicates are checked before the insert.
func (s *PriceStore) InsertBulk(ctx context.Context, prices []*domain.PriceObservation) error {
	if len(prices) == 0 {
		return nil
	}

	// Check for intra-batch duplicates and collect per-series date spans
	type span struct{ first, last time.Time }
	spans := make(map[seriesKey]*span)
	seen := make(map[string]struct{}, len(prices))
	for _, p := range prices {
		if p == nil || p.Symbol == "" || p.Market == "" {
			return storage.ErrInvalidInput
		}
		k := p.Market + "|" + p.Symbol + "|" + domain.FormatDate(p.Date)
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}

		sk := seriesKey{p.Market, p.Symbol}
		sp, ok := spans[sk]
		if !ok {
			spans[sk] = &span{p.Date, p.Date}
			continue
		}
		if p.Date.Before(sp.first) {
			sp.first = p.Date
		}
		if p.Date.After(sp.last) {
			sp.last = p.Date
		}
	}

	// Check for duplicates against existing rows
	for sk, sp := range spans {
		existing, err := s.existingDates(ctx, sk, sp.first, sp.last)
		if err != nil {
			return fmt.Errorf("check existing dates: %w", err)
		}
		for _, d := range existing {
			if _, dup := seen[sk.market+"|"+sk.symbol+"|"+domain.FormatDate(d)]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO daily_prices (market, symbol, date, raw_close)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range prices {
		if err := batch.Append(p.Market, p.Symbol, domain.TruncateDate(p.Date), p.RawClose); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetPriceHistory retrieves every close with date <= until, ordered by date ASC.
// FINAL collapses rows not yet merged by ReplacingMergeTree.
func (s *PriceStore) GetPriceHistory(ctx context.Context, symbol, market string, until time.Time) ([]*domain.PriceObservation, error) {
	query := `
		SELECT market, symbol, date, raw_close
		FROM daily_prices FINAL
		WHERE market = ? AND symbol = ? AND date <= ?
		ORDER BY date ASC
	`

	rows, err := s.conn.Query(ctx, query, market, symbol, domain.TruncateDate(until))
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	return scanPrices(rows)
}

func (s *PriceStore) existingDates(ctx context.Context, sk seriesKey, first, last time.Time) ([]time.Time, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT date FROM daily_prices
		WHERE market = ? AND symbol = ? AND date >= ? AND date <= ?
	`, sk.market, sk.symbol, domain.TruncateDate(first), domain.TruncateDate(last))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, domain.TruncateDate(d))
	}
	return dates, rows.Err()
}

// scanPrices scans multiple rows.
func scanPrices(rows chRows) ([]*domain.PriceObservation, error) {
	var prices []*domain.PriceObservation

	for rows.Next() {
		var p domain.PriceObservation
		if err := rows.Scan(&p.Market, &p.Symbol, &p.Date, &p.RawClose); err != nil {
			return nil, fmt.Errorf("scan daily price row: %w", err)
		}
		p.Date = domain.TruncateDate(p.Date)
		prices = append(prices, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily price rows: %w", err)
	}

	return prices, nil
}
