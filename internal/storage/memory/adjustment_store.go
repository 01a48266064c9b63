package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/storage"
)

// AdjustmentStore is an in-memory implementation of storage.AdjustmentStore.
type AdjustmentStore struct {
	mu sync.RWMutex
	// (market, symbol) -> version -> date -> row
	data map[string]map[string]map[string]*domain.AdjustmentFactorRow
}

// NewAdjustmentStore creates a new in-memory adjustment store.
func NewAdjustmentStore() *AdjustmentStore {
	return &AdjustmentStore{
		data: make(map[string]map[string]map[string]*domain.AdjustmentFactorRow),
	}
}

func seriesKey(market, symbol string) string {
	return market + "|" + symbol
}

// Upsert writes rows atomically. Identical rows are skipped; a differing row
// for an existing key fails the whole batch with storage.ErrConflictingRow.
func (s *AdjustmentStore) Upsert(_ context.Context, rows []*domain.AdjustmentFactorRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type rowKey struct {
		series, version, date string
	}
	batch := make(map[rowKey]*domain.AdjustmentFactorRow, len(rows))
	var pending []*domain.AdjustmentFactorRow

	// First pass: validate and detect conflicts (existing + intra-batch)
	for _, r := range rows {
		if r == nil || r.Symbol == "" || r.Market == "" || r.Version == "" {
			return 0, storage.ErrInvalidInput
		}
		k := rowKey{seriesKey(r.Market, r.Symbol), r.Version, domain.FormatDate(r.Date)}

		if existing := s.data[k.series][k.version][k.date]; existing != nil {
			if !existing.SameContent(r) {
				return 0, storage.ErrConflictingRow
			}
			continue
		}
		if prior, ok := batch[k]; ok {
			if !prior.SameContent(r) {
				return 0, storage.ErrConflictingRow
			}
			continue
		}
		batch[k] = r
		pending = append(pending, r)
	}

	// Second pass: insert new rows
	for _, r := range pending {
		series := seriesKey(r.Market, r.Symbol)
		versions, ok := s.data[series]
		if !ok {
			versions = make(map[string]map[string]*domain.AdjustmentFactorRow)
			s.data[series] = versions
		}
		byDate, ok := versions[r.Version]
		if !ok {
			byDate = make(map[string]*domain.AdjustmentFactorRow)
			versions[r.Version] = byDate
		}
		rowCopy := *r
		rowCopy.Date = domain.TruncateDate(r.Date)
		byDate[domain.FormatDate(r.Date)] = &rowCopy
	}

	return len(pending), nil
}

// GetLatest retrieves rows of the most recently built version covering [start, end].
func (s *AdjustmentStore) GetLatest(_ context.Context, symbol, market string, start, end time.Time) ([]*domain.AdjustmentFactorRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.data[seriesKey(market, symbol)]
	for _, meta := range sortedMetadata(symbol, market, versions) {
		if meta.Covers(start, end) {
			return rowsInRange(versions[meta.Version], start, end), nil
		}
	}
	return nil, storage.ErrMissingVersion
}

// GetVersion retrieves rows of one version covering [start, end].
func (s *AdjustmentStore) GetVersion(_ context.Context, symbol, market, version string, start, end time.Time) ([]*domain.AdjustmentFactorRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDate := s.data[seriesKey(market, symbol)][version]
	if len(byDate) == 0 {
		return nil, storage.ErrMissingVersion
	}
	meta := metadataOf(symbol, market, version, byDate)
	if !meta.Covers(start, end) {
		return nil, storage.ErrMissingVersion
	}
	return rowsInRange(byDate, start, end), nil
}

// ListVersions retrieves metadata of every stored version, newest build first.
func (s *AdjustmentStore) ListVersions(_ context.Context, symbol, market string) ([]*domain.VersionMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedMetadata(symbol, market, s.data[seriesKey(market, symbol)]), nil
}

// sortedMetadata summarizes versions ordered by build time DESC, version DESC.
func sortedMetadata(symbol, market string, versions map[string]map[string]*domain.AdjustmentFactorRow) []*domain.VersionMetadata {
	result := make([]*domain.VersionMetadata, 0, len(versions))
	for version, byDate := range versions {
		result = append(result, metadataOf(symbol, market, version, byDate))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].BuildTime.Equal(result[j].BuildTime) {
			return result[i].BuildTime.After(result[j].BuildTime)
		}
		return result[i].Version > result[j].Version
	})
	return result
}

func metadataOf(symbol, market, version string, byDate map[string]*domain.AdjustmentFactorRow) *domain.VersionMetadata {
	meta := &domain.VersionMetadata{
		Symbol:   symbol,
		Market:   market,
		Version:  version,
		RowCount: len(byDate),
	}
	first := true
	for _, r := range byDate {
		if first {
			meta.FirstDate, meta.LastDate = r.Date, r.Date
			meta.SourceEventsHash = r.SourceEventsHash
			meta.BuildTime = r.BuildTime
			first = false
			continue
		}
		if r.Date.Before(meta.FirstDate) {
			meta.FirstDate = r.Date
		}
		if r.Date.After(meta.LastDate) {
			meta.LastDate = r.Date
		}
		if r.BuildTime.After(meta.BuildTime) {
			meta.BuildTime = r.BuildTime
		}
	}
	return meta
}

func rowsInRange(byDate map[string]*domain.AdjustmentFactorRow, start, end time.Time) []*domain.AdjustmentFactorRow {
	var result []*domain.AdjustmentFactorRow
	for _, r := range byDate {
		if !r.Date.Before(start) && !r.Date.After(end) {
			rowCopy := *r
			result = append(result, &rowCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result
}

var _ storage.AdjustmentStore = (*AdjustmentStore)(nil)
