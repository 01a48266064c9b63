package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/storage"
)

// PriceStore is an in-memory implementation of storage.PriceSource and storage.PriceWriter.
type PriceStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PriceObservation // keyed by (market, symbol, date)
}

// NewPriceStore creates a new in-memory price store.
func NewPriceStore() *PriceStore {
	return &PriceStore{
		data: make(map[string]*domain.PriceObservation),
	}
}

// priceKey generates a unique key for a daily close.
func priceKey(market, symbol string, date time.Time) string {
	return fmt.Sprintf("%s|%s|%s", market, symbol, domain.FormatDate(date))
}

// InsertBulk adds multiple closes. Fails entire batch on duplicate.
func (s *PriceStore) InsertBulk(_ context.Context, prices []*domain.PriceObservation) error {
	if len(prices) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(prices))

	// First pass: validate and check duplicates (existing + intra-batch)
	for _, p := range prices {
		if p == nil || p.Symbol == "" || p.Market == "" {
			return storage.ErrInvalidInput
		}
		key := priceKey(p.Market, p.Symbol, p.Date)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, p := range prices {
		priceCopy := *p
		priceCopy.Date = domain.TruncateDate(p.Date)
		s.data[priceKey(p.Market, p.Symbol, p.Date)] = &priceCopy
	}

	return nil
}

// GetPriceHistory retrieves every close with date <= until, ordered by date ASC.
func (s *PriceStore) GetPriceHistory(_ context.Context, symbol, market string, until time.Time) ([]*domain.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceObservation
	for _, p := range s.data {
		if p.Symbol == symbol && p.Market == market && !p.Date.After(until) {
			priceCopy := *p
			result = append(result, &priceCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})

	return result, nil
}

var (
	_ storage.PriceSource = (*PriceStore)(nil)
	_ storage.PriceWriter = (*PriceStore)(nil)
)
