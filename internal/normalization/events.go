package normalization

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/idhash"
)

// ConflictTolerance is the largest difference between two reports of the
// same event type and date that is still treated as agreement.
var ConflictTolerance = decimal.New(1, -9)

// Normalizer merges raw corporate-action events into one unit per trading date.
type Normalizer struct {
	// MarketCurrency rejects dividends declared in another currency.
	// Empty disables the check.
	MarketCurrency string
}

// NewNormalizer creates a normalizer for a market with the given currency.
func NewNormalizer(marketCurrency string) *Normalizer {
	return &Normalizer{MarketCurrency: marketCurrency}
}

// unitKey identifies one NormalizedEventUnit.
type unitKey struct {
	market string
	symbol string
	date   time.Time
}

// sourceAggregate is the combined value one source reports for one (date, type).
type sourceAggregate struct {
	source         string
	value          decimal.Decimal
	earliestIngest time.Time
}

// Merge validates events and merges them per (market, symbol, effective_date).
// Steps:
//  1. Validate every event; any violation aborts the whole call
//  2. Collapse duplicate event ids to the earliest-ingested copy
//  3. Per (date, type, source): sum dividends, multiply splits
//  4. Per (date, type): pick the earliest-ingested source, flag disagreements
//  5. Sort units by date
func (n *Normalizer) Merge(events []*domain.CorporateActionEvent) ([]*domain.NormalizedEventUnit, error) {
	if len(events) == 0 {
		return nil, nil
	}

	// 1. Validate
	if err := n.validate(events); err != nil {
		return nil, err
	}

	// 2. Deduplicate by id
	unique := dedupe(events)
	SortEvents(unique)

	// 3. Group by unit, then type, then source
	type typeGroups map[domain.EventType]map[string]*sourceAggregate
	groups := make(map[unitKey]typeGroups)
	ids := make(map[unitKey][]string)
	var keys []unitKey

	for _, e := range unique {
		k := unitKey{market: e.Market, symbol: e.Symbol, date: domain.TruncateDate(e.EffectiveDate)}
		if _, ok := groups[k]; !ok {
			groups[k] = make(typeGroups)
			keys = append(keys, k)
		}
		ids[k] = append(ids[k], e.EventID)

		byType := groups[k]
		t := e.EventType()
		if byType[t] == nil {
			byType[t] = make(map[string]*sourceAggregate)
		}

		value := actionValue(e.Action)
		agg, ok := byType[t][e.Source]
		if !ok {
			byType[t][e.Source] = &sourceAggregate{
				source:         e.Source,
				value:          value,
				earliestIngest: e.IngestTime,
			}
			continue
		}

		switch t {
		case domain.EventTypeDividend:
			agg.value = agg.value.Add(value)
		case domain.EventTypeSplit:
			agg.value = agg.value.Mul(value)
		}
		if e.IngestTime.Before(agg.earliestIngest) {
			agg.earliestIngest = e.IngestTime
		}
	}

	// 4. Resolve each unit
	units := make([]*domain.NormalizedEventUnit, 0, len(keys))
	for _, k := range keys {
		unitIDs := ids[k]
		sort.Strings(unitIDs)

		u := &domain.NormalizedEventUnit{
			Symbol:               k.symbol,
			Market:               k.market,
			EffectiveDate:        k.date,
			DividendCash:         decimal.Zero,
			SplitRatio:           decimal.NewFromInt(1),
			ContributingEventIDs: unitIDs,
		}

		if aggs, ok := groups[k][domain.EventTypeDividend]; ok {
			value, conflict := resolve(aggs)
			u.DividendCash = value
			u.ConflictFlag = u.ConflictFlag || conflict
		}
		if aggs, ok := groups[k][domain.EventTypeSplit]; ok {
			value, conflict := resolve(aggs)
			u.SplitRatio = value
			u.ConflictFlag = u.ConflictFlag || conflict
		}

		units = append(units, u)
	}

	// 5. Sort
	SortUnits(units)

	return units, nil
}

// validate checks every event and reports all offending ids at once.
func (n *Normalizer) validate(events []*domain.CorporateActionEvent) error {
	var reasons []string
	var offending []string

	reject := func(e *domain.CorporateActionEvent, format string, args ...interface{}) {
		id := idhash.EventIDFor(e)
		reasons = append(reasons, fmt.Sprintf("%s: %s", id, fmt.Sprintf(format, args...)))
		offending = append(offending, id)
	}

	for _, e := range events {
		if e == nil {
			reasons = append(reasons, "nil event")
			continue
		}

		switch a := e.Action.(type) {
		case domain.CashDividend:
			if math.IsNaN(a.Cash) || math.IsInf(a.Cash, 0) {
				reject(e, "dividend_cash is not finite")
			} else if a.Cash < 0 {
				reject(e, "dividend_cash %v is negative", a.Cash)
			} else if n.MarketCurrency != "" && a.Currency != "" &&
				!strings.EqualFold(a.Currency, n.MarketCurrency) {
				reject(e, "dividend currency %s differs from market currency %s", a.Currency, n.MarketCurrency)
			}
		case domain.StockSplit:
			if math.IsNaN(a.Ratio) || math.IsInf(a.Ratio, 0) {
				reject(e, "split_ratio is not finite")
			} else if a.Ratio <= 0 {
				reject(e, "split_ratio %v must be > 0", a.Ratio)
			}
		case nil:
			reject(e, "event carries neither dividend_cash nor split_ratio")
		default:
			reject(e, "unsupported action %T", a)
		}
	}

	if len(reasons) == 0 {
		return nil
	}

	sort.Strings(offending)
	return &domain.InputError{
		Reason:   "invalid corporate action events: " + strings.Join(reasons, "; "),
		EventIDs: offending,
	}
}

// dedupe keeps one copy per event id: the earliest ingested, ties broken by value.
// Returned events are shallow copies with EventID populated.
func dedupe(events []*domain.CorporateActionEvent) []*domain.CorporateActionEvent {
	byID := make(map[string]*domain.CorporateActionEvent, len(events))
	for _, e := range events {
		c := *e
		c.EventID = idhash.EventIDFor(e)
		c.EffectiveDate = domain.TruncateDate(e.EffectiveDate)

		existing, ok := byID[c.EventID]
		if !ok || preferCopy(&c, existing) {
			byID[c.EventID] = &c
		}
	}

	result := make([]*domain.CorporateActionEvent, 0, len(byID))
	for _, e := range byID {
		result = append(result, e)
	}
	return result
}

// preferCopy reports whether candidate should replace existing for the same id.
func preferCopy(candidate, existing *domain.CorporateActionEvent) bool {
	if !candidate.IngestTime.Equal(existing.IngestTime) {
		return candidate.IngestTime.Before(existing.IngestTime)
	}
	if candidate.EventType() != existing.EventType() {
		return candidate.EventType() < existing.EventType()
	}
	return actionValue(candidate.Action).LessThan(actionValue(existing.Action))
}

// resolve picks the earliest-ingested source aggregate and reports whether
// any other source disagrees with it beyond ConflictTolerance.
func resolve(aggs map[string]*sourceAggregate) (decimal.Decimal, bool) {
	ordered := make([]*sourceAggregate, 0, len(aggs))
	for _, a := range aggs {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].earliestIngest.Equal(ordered[j].earliestIngest) {
			return ordered[i].earliestIngest.Before(ordered[j].earliestIngest)
		}
		return ordered[i].source < ordered[j].source
	})

	winner := ordered[0].value
	conflict := false
	for _, a := range ordered[1:] {
		if a.value.Sub(winner).Abs().GreaterThan(ConflictTolerance) {
			conflict = true
		}
	}
	return winner, conflict
}

// actionValue converts a validated payload to decimal.
func actionValue(a domain.Action) decimal.Decimal {
	switch v := a.(type) {
	case domain.CashDividend:
		return decimal.NewFromFloat(v.Cash)
	case domain.StockSplit:
		return decimal.NewFromFloat(v.Ratio)
	default:
		return decimal.Zero
	}
}

// FilterApplicable splits units into those that can be applied to a price
// history spanning [first, last] and those that cannot.
// A unit applies when first < effective_date <= last.
func FilterApplicable(units []*domain.NormalizedEventUnit, first, last time.Time) (applied, skipped []*domain.NormalizedEventUnit) {
	for _, u := range units {
		if u.EffectiveDate.After(first) && !u.EffectiveDate.After(last) {
			applied = append(applied, u)
		} else {
			skipped = append(skipped, u)
		}
	}
	return applied, skipped
}
