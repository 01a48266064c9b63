package engine

import (
	"context"
	"time"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/idhash"
)

// Rebuild holds factor rows recomputed from current inputs.
type Rebuild struct {
	Version string
	Rows    []*domain.AdjustmentFactorRow
}

// Rebuild recomputes the factor rows of symbol over its full history up to
// until. The store is neither read nor written.
func (e *Engine) Rebuild(ctx context.Context, symbol, market string, until time.Time) (*Rebuild, error) {
	until = domain.TruncateDate(until)
	log := e.logger.With("symbol", symbol, "market", market)

	prices, events, hasEvents, err := e.fetch(ctx, symbol, market, until)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, &PriceSeriesUnavailableError{Symbol: symbol, Market: market, End: until}
	}

	policy, version, applied, err := e.resolve(log, symbol, market, prices, events)
	if err != nil {
		return nil, err
	}

	factors, err := e.newBuild(policy).Compute(prices, applied)
	if err != nil {
		return nil, asInputError(symbol, market, err)
	}

	req := Request{Symbol: symbol, Market: market, End: until}
	return &Rebuild{
		Version: version,
		Rows:    e.factorRows(req, version, idhash.ComputeEventsHash(applied), prices, factors, hasEvents),
	}, nil
}
