// Package factor builds back-adjusted (hfq) and front-adjusted (qfq)
// price-adjustment factors from a raw daily close series and normalized
// corporate-action units.
package factor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"vprism-adjust/internal/domain"
)

// DivisionScale is the number of fractional digits kept by every division and
// by the running back-adjusted factor after each multiplication.
const DivisionScale = 28

// Factor holds both adjustment factors for one trading date.
type Factor struct {
	Date time.Time
	Hfq  decimal.Decimal
	Qfq  decimal.Decimal
}

// FactorBuilder is the interface the engine builds factors through.
type FactorBuilder interface {
	Compute(prices []*domain.PriceObservation, units []*domain.NormalizedEventUnit) ([]Factor, error)
}

// Builder computes factors with a configurable dividend policy.
type Builder struct {
	policy DividendPolicy
}

// NewBuilder creates a builder. A nil policy selects Proportional.
func NewBuilder(policy DividendPolicy) *Builder {
	if policy == nil {
		policy = Proportional{}
	}
	return &Builder{policy: policy}
}

// Policy returns the dividend policy in use.
func (b *Builder) Policy() DividendPolicy {
	return b.policy
}

// Compute walks the full price history and returns one Factor per price date,
// in ascending order.
//
// hfq starts at exactly 1 on the earliest date. A unit applies on the first
// trading date d with prev < effective_date <= d: its split ratio multiplies
// the running factor, and its dividend multiplies it by the policy factor
// computed against the close of prev. Units on or before the earliest date, or
// after the latest date, are ignored.
//
// qfq = hfq / hfq[last], so qfq on the latest date is exactly 1.
func (b *Builder) Compute(prices []*domain.PriceObservation, units []*domain.NormalizedEventUnit) ([]Factor, error) {
	if len(prices) == 0 {
		return nil, nil
	}
	if err := validatePrices(prices); err != nil {
		return nil, err
	}

	one := decimal.NewFromInt(1)
	factors := make([]Factor, len(prices))

	// Back-adjusted pass
	running := one
	factors[0] = Factor{Date: prices[0].Date, Hfq: running}

	j := 0
	for j < len(units) && !units[j].EffectiveDate.After(prices[0].Date) {
		j++
	}

	for i := 1; i < len(prices); i++ {
		d := prices[i].Date
		prevClose := prices[i-1].RawClose

		for j < len(units) && !units[j].EffectiveDate.After(d) {
			u := units[j]
			j++

			if u.SplitRatio.Sign() <= 0 {
				return nil, &domain.InputError{
					Reason:   fmt.Sprintf("split_ratio %s must be > 0", u.SplitRatio),
					EventIDs: u.ContributingEventIDs,
					Date:     u.EffectiveDate,
				}
			}
			running = running.Mul(u.SplitRatio).Round(DivisionScale)

			if u.HasDividend() {
				f, err := b.policy.Factor(u.DividendCash, prevClose)
				if err != nil {
					return nil, &domain.InputError{
						Reason:   fmt.Sprintf("non-positive dividend adjustment: %v", err),
						EventIDs: u.ContributingEventIDs,
						Date:     u.EffectiveDate,
					}
				}
				running = running.Mul(f).Round(DivisionScale)
			}
		}

		factors[i] = Factor{Date: d, Hfq: running}
	}

	// Front-adjusted pass
	last := factors[len(factors)-1].Hfq
	for i := range factors {
		factors[i].Qfq = factors[i].Hfq.DivRound(last, DivisionScale)
	}
	factors[len(factors)-1].Qfq = one

	return factors, nil
}

// validatePrices requires strictly ascending dates and positive closes.
func validatePrices(prices []*domain.PriceObservation) error {
	for i, p := range prices {
		if p.RawClose.Sign() <= 0 {
			return &domain.InputError{
				Reason: fmt.Sprintf("raw_close %s must be > 0", p.RawClose),
				Date:   p.Date,
			}
		}
		if i > 0 && !p.Date.After(prices[i-1].Date) {
			return &domain.InputError{
				Reason: "price dates must be strictly ascending",
				Date:   p.Date,
			}
		}
	}
	return nil
}
