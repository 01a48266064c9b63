package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/storage"
)

// Required CSV columns.
var (
	priceColumns = []string{"market", "symbol", "date", "close"}
	eventColumns = []string{"market", "symbol", "effective_date", "type", "source"}
)

// LoadPricesCSV reads daily closes with header market,symbol,date,close and
// writes them in one batch.
func LoadPricesCSV(ctx context.Context, r io.Reader, w storage.PriceWriter) (int, error) {
	records, err := readRecords(r, priceColumns)
	if err != nil {
		return 0, err
	}

	prices := make([]*domain.PriceObservation, 0, len(records))
	for i, rec := range records {
		date, err := domain.ParseDate(rec["date"])
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", i+2, err)
		}
		closePrice, err := decimal.NewFromString(rec["close"])
		if err != nil {
			return 0, fmt.Errorf("line %d: invalid close %q: %w", i+2, rec["close"], err)
		}
		prices = append(prices, &domain.PriceObservation{
			Symbol:   rec["symbol"],
			Market:   rec["market"],
			Date:     date,
			RawClose: closePrice,
		})
	}

	if err := w.InsertBulk(ctx, prices); err != nil {
		return 0, fmt.Errorf("insert prices: %w", err)
	}
	return len(prices), nil
}

// LoadEventsCSV reads corporate actions with header
// market,symbol,effective_date,type,source and optional event_id, cash,
// currency, ratio and ingest_time columns. Every event shares batchID; rows
// without ingest_time get now. The original record is kept as JSON payload.
func LoadEventsCSV(ctx context.Context, r io.Reader, w storage.EventWriter, batchID uuid.UUID, now time.Time) (int, error) {
	records, err := readRecords(r, eventColumns)
	if err != nil {
		return 0, err
	}

	events := make([]*domain.CorporateActionEvent, 0, len(records))
	for i, rec := range records {
		e, err := parseEvent(rec, batchID, now)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", i+2, err)
		}
		events = append(events, e)
	}

	if err := w.InsertBulk(ctx, events); err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}
	return len(events), nil
}

func parseEvent(rec map[string]string, batchID uuid.UUID, now time.Time) (*domain.CorporateActionEvent, error) {
	date, err := domain.ParseDate(rec["effective_date"])
	if err != nil {
		return nil, err
	}

	var action domain.Action
	switch domain.EventType(strings.ToLower(rec["type"])) {
	case domain.EventTypeDividend:
		cash, err := strconv.ParseFloat(rec["cash"], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cash %q: %w", rec["cash"], err)
		}
		action = domain.CashDividend{Cash: cash, Currency: rec["currency"]}
	case domain.EventTypeSplit:
		ratio, err := strconv.ParseFloat(rec["ratio"], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ratio %q: %w", rec["ratio"], err)
		}
		action = domain.StockSplit{Ratio: ratio}
	default:
		return nil, fmt.Errorf("unknown event type %q", rec["type"])
	}

	ingestTime := now.UTC()
	if s := rec["ingest_time"]; s != "" {
		ingestTime, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("invalid ingest_time %q: %w", s, err)
		}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	return &domain.CorporateActionEvent{
		EventID:          rec["event_id"],
		Market:           rec["market"],
		Symbol:           rec["symbol"],
		EffectiveDate:    date,
		Action:           action,
		Source:           rec["source"],
		RawPayload:       payload,
		IngestionBatchID: batchID,
		IngestTime:       ingestTime,
	}, nil
}

// readRecords reads a headed CSV into one map per row, trimming values.
func readRecords(r io.Reader, required []string) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty csv: header required")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	for _, col := range required {
		if !slices.Contains(header, col) {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var records []map[string]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rec := make(map[string]string, len(header))
		for i, col := range header {
			rec[col] = strings.TrimSpace(row[i])
		}
		records = append(records, rec)
	}
	return records, nil
}
