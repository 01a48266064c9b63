// Package verification checks that stored factor rows are reproducible:
// it rebuilds factors from current inputs and compares them with the rows
// persisted under the same version.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/engine"
	"vprism-adjust/internal/observability"
	"vprism-adjust/internal/storage"
)

// Result statuses.
const (
	StatusMatch     = "match"
	StatusDivergent = "divergent"
	StatusMissing   = "missing"
	StatusFailed    = "failed"
)

// FieldDivergence represents a mismatch between stored and rebuilt values.
type FieldDivergence struct {
	Date     time.Time
	Field    string // qfq, hfq, events_hash or row
	Expected string // stored value
	Actual   string // rebuilt value
}

// Result contains the result of verifying a single symbol.
type Result struct {
	Symbol      string
	Market      string
	Version     string // rebuilt version
	Stored      bool   // false when no rows exist for Version
	Match       bool   // true if every compared row matches
	RowsChecked int
	Unstored    int // rebuilt rows newer than the stored span
	Divergences []FieldDivergence
}

// Status classifies the result.
func (r *Result) Status() string {
	switch {
	case !r.Stored:
		return StatusMissing
	case r.Match:
		return StatusMatch
	default:
		return StatusDivergent
	}
}

// Report contains results for batch verification.
type Report struct {
	Total     int
	Matched   int
	Divergent int
	Missing   int
	Failed    int
	Results   []*Result
	Errors    map[string]error // keyed by SymbolRef.String()
}

// Rebuilder recomputes factor rows without touching the store.
type Rebuilder interface {
	Rebuild(ctx context.Context, symbol, market string, until time.Time) (*engine.Rebuild, error)
}

// Options configures a Verifier.
type Options struct {
	Rebuilder Rebuilder
	Store     storage.AdjustmentStore
	Metrics   *observability.Metrics
	Now       func() time.Time
}

// Verifier compares rebuilt factors against stored ones.
type Verifier struct {
	rebuilder Rebuilder
	store     storage.AdjustmentStore
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewVerifier creates a Verifier.
func NewVerifier(opts Options) *Verifier {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		rebuilder: opts.Rebuilder,
		store:     opts.Store,
		metrics:   opts.Metrics,
		now:       now,
	}
}

// VerifySymbol rebuilds the factors of one symbol and compares them with the
// stored rows of the same version. Only dates inside the stored span are
// compared; later rebuilt rows are counted in Unstored.
func (v *Verifier) VerifySymbol(ctx context.Context, symbol, market string) (*Result, error) {
	rebuilt, err := v.rebuilder.Rebuild(ctx, symbol, market, v.now())
	if err != nil {
		v.metrics.RecordVerification(StatusFailed)
		return nil, fmt.Errorf("rebuild %s:%s: %w", market, symbol, err)
	}

	result := &Result{Symbol: symbol, Market: market, Version: rebuilt.Version}

	meta, err := v.findVersion(ctx, symbol, market, rebuilt.Version)
	if err != nil {
		v.metrics.RecordVerification(StatusFailed)
		return nil, err
	}
	if meta == nil {
		v.metrics.RecordVerification(StatusMissing)
		return result, nil
	}
	result.Stored = true

	var compared []*domain.AdjustmentFactorRow
	for _, r := range rebuilt.Rows {
		if r.Date.Before(meta.FirstDate) {
			continue
		}
		if r.Date.After(meta.LastDate) {
			result.Unstored++
			continue
		}
		compared = append(compared, r)
	}

	last := meta.LastDate
	if n := len(rebuilt.Rows); n > 0 && rebuilt.Rows[n-1].Date.Before(last) {
		last = rebuilt.Rows[n-1].Date
	}
	stored, err := v.store.GetVersion(ctx, symbol, market, rebuilt.Version, meta.FirstDate, last)
	if err != nil && !errors.Is(err, storage.ErrMissingVersion) {
		v.metrics.RecordVerification(StatusFailed)
		return nil, fmt.Errorf("load version %s: %w", rebuilt.Version, err)
	}

	result.RowsChecked = len(compared)
	result.Divergences = CompareRows(stored, compared)
	result.Match = len(result.Divergences) == 0

	v.metrics.RecordVerification(result.Status())
	return result, nil
}

// VerifyAll verifies every symbol. A failing symbol is recorded in the
// report and does not stop the others; only context cancellation aborts.
func (v *Verifier) VerifyAll(ctx context.Context, refs []domain.SymbolRef) (*Report, error) {
	report := &Report{Errors: map[string]error{}}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		report.Total++
		result, err := v.VerifySymbol(ctx, ref.Symbol, ref.Market)
		if err != nil {
			report.Failed++
			report.Errors[ref.String()] = err
			continue
		}

		report.Results = append(report.Results, result)
		switch result.Status() {
		case StatusMatch:
			report.Matched++
		case StatusMissing:
			report.Missing++
		default:
			report.Divergent++
		}
	}

	return report, nil
}

func (v *Verifier) findVersion(ctx context.Context, symbol, market, version string) (*domain.VersionMetadata, error) {
	versions, err := v.store.ListVersions(ctx, symbol, market)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	for _, m := range versions {
		if m.Version == version {
			return m, nil
		}
	}
	return nil, nil
}

// CompareRows compares stored and rebuilt rows date by date using exact
// decimal equality. BuildTime and ActionGapFlag are not compared.
func CompareRows(stored, rebuilt []*domain.AdjustmentFactorRow) []FieldDivergence {
	var divergences []FieldDivergence

	byDate := make(map[string]*domain.AdjustmentFactorRow, len(stored))
	for _, r := range stored {
		byDate[domain.FormatDate(r.Date)] = r
	}

	for _, r := range rebuilt {
		key := domain.FormatDate(r.Date)
		s, ok := byDate[key]
		if !ok {
			divergences = append(divergences, FieldDivergence{
				Date:     r.Date,
				Field:    "row",
				Expected: "",
				Actual:   "present",
			})
			continue
		}
		delete(byDate, key)

		if !s.AdjFactorQfq.Equal(r.AdjFactorQfq) {
			divergences = append(divergences, FieldDivergence{
				Date:     r.Date,
				Field:    "qfq",
				Expected: s.AdjFactorQfq.String(),
				Actual:   r.AdjFactorQfq.String(),
			})
		}

		if !s.AdjFactorHfq.Equal(r.AdjFactorHfq) {
			divergences = append(divergences, FieldDivergence{
				Date:     r.Date,
				Field:    "hfq",
				Expected: s.AdjFactorHfq.String(),
				Actual:   r.AdjFactorHfq.String(),
			})
		}

		if s.SourceEventsHash != r.SourceEventsHash {
			divergences = append(divergences, FieldDivergence{
				Date:     r.Date,
				Field:    "events_hash",
				Expected: s.SourceEventsHash,
				Actual:   r.SourceEventsHash,
			})
		}
	}

	// Stored dates the rebuild no longer produces.
	for _, s := range stored {
		if _, ok := byDate[domain.FormatDate(s.Date)]; ok {
			divergences = append(divergences, FieldDivergence{
				Date:     s.Date,
				Field:    "row",
				Expected: "present",
				Actual:   "",
			})
		}
	}

	return divergences
}
