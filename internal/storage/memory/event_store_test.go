package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/storage"
)

func TestEventStore_InsertBulkAndGet(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()
	batch := uuid.New()
	ingest := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)

	events := []*domain.CorporateActionEvent{
		{EventID: "split-1", Market: "CN", Symbol: "X", EffectiveDate: domain.Date(2024, 1, 3),
			Action: domain.StockSplit{Ratio: 2}, Source: "feed_a", IngestionBatchID: batch, IngestTime: ingest},
		{EventID: "div-1", Market: "CN", Symbol: "X", EffectiveDate: domain.Date(2024, 1, 2),
			Action: domain.CashDividend{Cash: 2, Currency: "CNY"}, Source: "feed_a", IngestionBatchID: batch, IngestTime: ingest},
		{EventID: "div-y", Market: "CN", Symbol: "Y", EffectiveDate: domain.Date(2024, 1, 2),
			Action: domain.CashDividend{Cash: 1}, Source: "feed_a", IngestionBatchID: batch, IngestTime: ingest},
	}

	if err := store.InsertBulk(ctx, events); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := store.GetEvents(ctx, "X", "CN", domain.Date(2024, 12, 31))
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(result))
	}
	if result[0].EventID != "div-1" || result[1].EventID != "split-1" {
		t.Errorf("Expected [div-1 split-1], got [%s %s]", result[0].EventID, result[1].EventID)
	}

	result, _ = store.GetEvents(ctx, "X", "CN", domain.Date(2024, 1, 2))
	if len(result) != 1 {
		t.Errorf("Expected 1 event up to 2024-01-02, got %d", len(result))
	}
}

func TestEventStore_DerivesMissingIDs(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	e := &domain.CorporateActionEvent{
		Market: "CN", Symbol: "X", EffectiveDate: domain.Date(2024, 1, 2),
		Action: domain.CashDividend{Cash: 0.5}, Source: "feed_a",
	}
	if err := store.InsertBulk(ctx, []*domain.CorporateActionEvent{e}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	if e.EventID != "" {
		t.Error("InsertBulk must not mutate its input")
	}

	result, _ := store.GetEvents(ctx, "X", "CN", domain.Date(2024, 12, 31))
	if len(result) != 1 || len(result[0].EventID) != 64 {
		t.Fatalf("Expected one event with a derived 64-char id, got %+v", result)
	}
}

func TestEventStore_SameEventInTwoBatches(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	mk := func(batch uuid.UUID) *domain.CorporateActionEvent {
		return &domain.CorporateActionEvent{
			EventID: "div-1", Market: "CN", Symbol: "X", EffectiveDate: domain.Date(2024, 1, 2),
			Action: domain.CashDividend{Cash: 2}, Source: "feed_a", IngestionBatchID: batch,
		}
	}

	first := uuid.New()
	if err := store.InsertBulk(ctx, []*domain.CorporateActionEvent{mk(first)}); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	if err := store.InsertBulk(ctx, []*domain.CorporateActionEvent{mk(uuid.New())}); err != nil {
		t.Fatalf("Redelivery in a new batch failed: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.CorporateActionEvent{mk(first)})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for same batch, got %v", err)
	}

	result, _ := store.GetEvents(ctx, "X", "CN", domain.Date(2024, 12, 31))
	if len(result) != 2 {
		t.Errorf("Expected both deliveries stored, got %d", len(result))
	}
}

func TestEventStore_InvalidInput(t *testing.T) {
	store := NewEventStore()

	err := store.InsertBulk(context.Background(), []*domain.CorporateActionEvent{
		{EventID: "e1", Market: "CN", Symbol: "X"},
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for missing payload, got %v", err)
	}
}

func TestEventStore_CopiesPayload(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	payload := []byte(`{"cash":2}`)
	_ = store.InsertBulk(ctx, []*domain.CorporateActionEvent{{
		EventID: "e1", Market: "CN", Symbol: "X", EffectiveDate: domain.Date(2024, 1, 2),
		Action: domain.CashDividend{Cash: 2}, Source: "feed_a", RawPayload: payload,
	}})
	payload[0] = 'X'

	result, _ := store.GetEvents(ctx, "X", "CN", domain.Date(2024, 12, 31))
	if string(result[0].RawPayload) != `{"cash":2}` {
		t.Errorf("Stored payload changed with caller's buffer: %s", result[0].RawPayload)
	}
}
