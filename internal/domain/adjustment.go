package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NormalizedEventUnit merges every event of one symbol on one effective date.
type NormalizedEventUnit struct {
	Symbol               string
	Market               string
	EffectiveDate        time.Time
	DividendCash         decimal.Decimal // summed, 0 when no dividend
	SplitRatio           decimal.Decimal // multiplied, 1 when no split
	ContributingEventIDs []string        // every id seen, including discarded conflicts
	ConflictFlag         bool
}

// HasDividend reports whether the unit carries a non-zero cash dividend.
func (u *NormalizedEventUnit) HasDividend() bool {
	return u.DividendCash.Sign() > 0
}

// HasSplit reports whether the unit carries a split other than 1:1.
func (u *NormalizedEventUnit) HasSplit() bool {
	return !u.SplitRatio.Equal(decimal.NewFromInt(1))
}

// AdjustmentFactorRow is one persisted factor row.
// Primary key: (market, symbol, date, version). Rows are never updated.
type AdjustmentFactorRow struct {
	Symbol           string
	Market           string
	Date             time.Time
	AdjFactorQfq     decimal.Decimal
	AdjFactorHfq     decimal.Decimal
	Version          string
	BuildTime        time.Time
	SourceEventsHash string
	ActionGapFlag    bool
}

// SameContent reports whether two rows for the same key carry identical factor content.
// BuildTime and ActionGapFlag are metadata and do not take part in the
// comparison; the flag depends on a configurable threshold, not on the version.
func (r *AdjustmentFactorRow) SameContent(o *AdjustmentFactorRow) bool {
	return r.AdjFactorQfq.Equal(o.AdjFactorQfq) &&
		r.AdjFactorHfq.Equal(o.AdjFactorHfq) &&
		r.SourceEventsHash == o.SourceEventsHash
}

// VersionMetadata summarizes one stored factor version for audit.
type VersionMetadata struct {
	Symbol           string
	Market           string
	Version          string
	SourceEventsHash string
	FirstDate        time.Time
	LastDate         time.Time
	RowCount         int
	BuildTime        time.Time
}

// Covers reports whether the stored span includes [start, end].
func (m *VersionMetadata) Covers(start, end time.Time) bool {
	return !m.FirstDate.After(start) && !m.LastDate.Before(end)
}
