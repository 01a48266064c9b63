package normalization

import (
	"sort"

	"vprism-adjust/internal/domain"
)

// SortEvents orders events by (effective_date ASC, event_type ASC, source ASC, ingest_time ASC, event_id ASC).
// This provides a deterministic order independent of ingestion order.
func SortEvents(events []*domain.CorporateActionEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(events[i], events[j]) < 0
	})
}

// SortUnits orders normalized units by (effective_date ASC, market ASC, symbol ASC).
func SortUnits(units []*domain.NormalizedEventUnit) {
	sort.Slice(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			return a.EffectiveDate.Before(b.EffectiveDate)
		}
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		return a.Symbol < b.Symbol
	})
}

// compareEvents returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareEvents(a, b *domain.CorporateActionEvent) int {
	if !a.EffectiveDate.Equal(b.EffectiveDate) {
		if a.EffectiveDate.Before(b.EffectiveDate) {
			return -1
		}
		return 1
	}
	if a.EventType() != b.EventType() {
		if a.EventType() < b.EventType() {
			return -1
		}
		return 1
	}
	if a.Source != b.Source {
		if a.Source < b.Source {
			return -1
		}
		return 1
	}
	if !a.IngestTime.Equal(b.IngestTime) {
		if a.IngestTime.Before(b.IngestTime) {
			return -1
		}
		return 1
	}
	if a.EventID != b.EventID {
		if a.EventID < b.EventID {
			return -1
		}
		return 1
	}
	return 0
}
