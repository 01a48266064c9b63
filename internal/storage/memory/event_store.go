package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/idhash"
	"vprism-adjust/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventSource and storage.EventWriter.
type EventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CorporateActionEvent // keyed by (event_id, ingestion_batch_id)
}

// NewEventStore creates a new in-memory corporate-action event store.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make(map[string]*domain.CorporateActionEvent),
	}
}

func eventKey(eventID string, e *domain.CorporateActionEvent) string {
	return eventID + "|" + e.IngestionBatchID.String()
}

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *EventStore) InsertBulk(_ context.Context, events []*domain.CorporateActionEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, len(events))
	batchKeys := make(map[string]struct{}, len(events))

	// First pass: validate and check duplicates
	for i, e := range events {
		if e == nil || e.Symbol == "" || e.Market == "" || e.Action == nil {
			return storage.ErrInvalidInput
		}
		key := eventKey(idhash.EventIDFor(e), e)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
		keys[i] = key
	}

	// Second pass: insert all
	for i, e := range events {
		s.data[keys[i]] = copyEvent(e, idhash.EventIDFor(e))
	}

	return nil
}

// GetEvents retrieves every event with effective_date <= until,
// ordered by effective_date, ingest_time, event_id.
func (s *EventStore) GetEvents(_ context.Context, symbol, market string, until time.Time) ([]*domain.CorporateActionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CorporateActionEvent
	for _, e := range s.data {
		if e.Symbol == symbol && e.Market == market && !e.EffectiveDate.After(until) {
			result = append(result, copyEvent(e, e.EventID))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			return a.EffectiveDate.Before(b.EffectiveDate)
		}
		if !a.IngestTime.Equal(b.IngestTime) {
			return a.IngestTime.Before(b.IngestTime)
		}
		return a.EventID < b.EventID
	})

	return result, nil
}

func copyEvent(e *domain.CorporateActionEvent, eventID string) *domain.CorporateActionEvent {
	eventCopy := *e
	eventCopy.EventID = eventID
	eventCopy.EffectiveDate = domain.TruncateDate(e.EffectiveDate)
	if e.RawPayload != nil {
		eventCopy.RawPayload = append([]byte(nil), e.RawPayload...)
	}
	return &eventCopy
}

var (
	_ storage.EventSource = (*EventStore)(nil)
	_ storage.EventWriter = (*EventStore)(nil)
)
