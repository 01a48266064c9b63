// Package engine is the adjustment facade: it fetches raw closes and
// corporate-action events, reuses a stored factor version when one matches,
// builds and persists a new version otherwise, and composes the adjusted
// series for the requested window.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/factor"
	"vprism-adjust/internal/idhash"
	"vprism-adjust/internal/normalization"
	"vprism-adjust/internal/observability"
	"vprism-adjust/internal/storage"
)

// DefaultAlgorithmVersion is the algorithm component of new versions.
const DefaultAlgorithmVersion = 1

// endOfHistory bounds the event query that decides whether a symbol has any
// corporate action at all.
var endOfHistory = domain.Date(9999, 12, 31)

// Submitter hands freshly built rows to persistence.
type Submitter interface {
	Submit(ctx context.Context, rows []*domain.AdjustmentFactorRow) error
}

// StoreSubmitter writes rows synchronously to an AdjustmentStore.
type StoreSubmitter struct {
	Store   storage.AdjustmentStore
	Metrics *observability.Metrics
}

// Submit implements Submitter.
func (s *StoreSubmitter) Submit(ctx context.Context, rows []*domain.AdjustmentFactorRow) error {
	n, err := s.Store.Upsert(ctx, rows)
	s.Metrics.RecordStoreWrite(n, err)
	return err
}

// MarketConfig holds per-market settings.
type MarketConfig struct {
	// Currency of cash dividends; empty disables the currency check.
	Currency string
	// Policy converts dividends into factors; nil selects factor.Proportional.
	Policy factor.DividendPolicy
}

// Options configures an Engine.
type Options struct {
	Prices storage.PriceSource
	Events storage.EventSource
	Store  storage.AdjustmentStore

	// NewBuilder creates the factor builder for a policy. Defaults to factor.NewBuilder.
	NewBuilder func(policy factor.DividendPolicy) factor.FactorBuilder

	// Submitter persists built rows. Defaults to a synchronous StoreSubmitter.
	Submitter Submitter

	AlgorithmVersion int
	GapThreshold     float64
	Markets          map[string]MarketConfig

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Request selects one adjusted series.
type Request struct {
	Symbol string
	Market string
	Start  time.Time
	End    time.Time
	Mode   domain.Mode
}

// Stats holds engine counters.
type Stats struct {
	Computes      int64
	CacheHits     int64
	Builds        int64
	WriteFailures int64
}

// Engine computes adjusted price series. It is safe for concurrent use.
type Engine struct {
	prices    storage.PriceSource
	events    storage.EventSource
	store     storage.AdjustmentStore
	newBuild  func(policy factor.DividendPolicy) factor.FactorBuilder
	submitter Submitter

	algorithmVersion int
	gapThreshold     float64
	markets          map[string]MarketConfig

	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	builds singleflight.Group

	computes      atomic.Int64
	cacheHits     atomic.Int64
	buildCount    atomic.Int64
	writeFailures atomic.Int64
}

// New creates an Engine. Prices, Events and Store are required.
func New(opts Options) (*Engine, error) {
	if opts.Prices == nil || opts.Events == nil || opts.Store == nil {
		return nil, errors.New("engine: price source, event source and store are required")
	}

	e := &Engine{
		prices:           opts.Prices,
		events:           opts.Events,
		store:            opts.Store,
		newBuild:         opts.NewBuilder,
		submitter:        opts.Submitter,
		algorithmVersion: opts.AlgorithmVersion,
		gapThreshold:     opts.GapThreshold,
		markets:          opts.Markets,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		now:              opts.Now,
	}

	if e.newBuild == nil {
		e.newBuild = func(p factor.DividendPolicy) factor.FactorBuilder { return factor.NewBuilder(p) }
	}
	if e.submitter == nil {
		e.submitter = &StoreSubmitter{Store: opts.Store, Metrics: opts.Metrics}
	}
	if e.algorithmVersion <= 0 {
		e.algorithmVersion = DefaultAlgorithmVersion
	}
	if e.gapThreshold <= 0 {
		e.gapThreshold = factor.DefaultGapThreshold
	}
	if e.markets == nil {
		e.markets = map[string]MarketConfig{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}

	return e, nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Computes:      e.computes.Load(),
		CacheHits:     e.cacheHits.Load(),
		Builds:        e.buildCount.Load(),
		WriteFailures: e.writeFailures.Load(),
	}
}

// ListVersions returns stored version metadata for a symbol, newest first.
func (e *Engine) ListVersions(ctx context.Context, symbol, market string) ([]*domain.VersionMetadata, error) {
	versions, err := e.store.ListVersions(ctx, symbol, market)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

// Compute returns the adjusted series for req.
//
// Errors: *AdjustmentInputError for invalid requests, events or prices;
// *PriceSeriesUnavailableError when the symbol has no closes up to req.End or
// none inside the window. A failed write-back is logged, not returned.
func (e *Engine) Compute(ctx context.Context, req Request) (*domain.AdjustedSeries, error) {
	started := time.Now()
	e.computes.Add(1)

	series, err := e.compute(ctx, req)

	e.metrics.RecordCompute(string(req.Mode), outcomeOf(err), time.Since(started).Seconds())
	return series, err
}

func (e *Engine) compute(ctx context.Context, req Request) (*domain.AdjustedSeries, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}
	log := e.logger.With("symbol", req.Symbol, "market", req.Market)

	// Full history up to End: factors are anchored at the first close.
	prices, events, hasEvents, err := e.fetch(ctx, req.Symbol, req.Market, req.End)
	if err != nil {
		return nil, err
	}

	window := sliceWindow(prices, req.Start, req.End)
	if len(window) == 0 {
		return nil, &PriceSeriesUnavailableError{Symbol: req.Symbol, Market: req.Market, Start: req.Start, End: req.End}
	}

	gapFlags := e.gapFlags(prices, hasEvents)

	if req.Mode == domain.ModeNone {
		return &domain.AdjustedSeries{
			Symbol: req.Symbol,
			Market: req.Market,
			Start:  req.Start,
			End:    req.End,
			Mode:   req.Mode,
			Rows:   composeRaw(window, gapFlags),
		}, nil
	}

	policy, version, applied, err := e.resolve(log, req.Symbol, req.Market, prices, events)
	if err != nil {
		return nil, err
	}

	if rows, ok := e.lookup(ctx, log, req, version, window); ok {
		e.cacheHits.Add(1)
		e.metrics.RecordCacheLookup(true)
		log.Debug("cache hit", "version", version)
		return e.series(req, version, true, composeStored(window, rows, gapFlags, req.Mode)), nil
	}
	e.metrics.RecordCacheLookup(false)

	factors, err := e.build(ctx, log, req, policy, version, prices, applied, hasEvents)
	if err != nil {
		return nil, err
	}

	rows, ok := composeBuilt(window, factors, gapFlags, req.Mode)
	if !ok {
		// A shared build ran over a different snapshot; recompute from ours.
		log.Warn("shared build does not cover window, rebuilding", "version", version)
		factors, err = e.newBuild(policy).Compute(prices, applied)
		if err != nil {
			return nil, asInputError(req.Symbol, req.Market, err)
		}
		if rows, ok = composeBuilt(window, factors, gapFlags, req.Mode); !ok {
			return nil, fmt.Errorf("factors missing for %s %s", req.Market, req.Symbol)
		}
	}
	return e.series(req, version, false, rows), nil
}

// fetch loads closes and events up to end concurrently. hasEvents reports
// whether the symbol has any event at all, including events after end.
func (e *Engine) fetch(ctx context.Context, symbol, market string, end time.Time) (
	prices []*domain.PriceObservation,
	events []*domain.CorporateActionEvent,
	hasEvents bool,
	err error,
) {
	var all []*domain.CorporateActionEvent

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		prices, err = e.prices.GetPriceHistory(gctx, symbol, market, end)
		if err != nil {
			return fmt.Errorf("fetch prices: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		all, err = e.events.GetEvents(gctx, symbol, market, endOfHistory)
		if err != nil {
			return fmt.Errorf("fetch events: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, false, err
	}

	for _, ev := range all {
		if !ev.EffectiveDate.After(end) {
			events = append(events, ev)
		}
	}
	return prices, events, len(all) > 0, nil
}

// resolve normalizes events, keeps those applicable to the price history and
// derives the version. prices must not be empty.
func (e *Engine) resolve(
	log *slog.Logger,
	symbol, market string,
	prices []*domain.PriceObservation,
	events []*domain.CorporateActionEvent,
) (factor.DividendPolicy, string, []*domain.NormalizedEventUnit, error) {
	cfg := e.markets[market]
	units, err := normalization.NewNormalizer(cfg.Currency).Merge(events)
	if err != nil {
		return nil, "", nil, asInputError(symbol, market, err)
	}
	e.logConflicts(log, units)

	applied, skipped := normalization.FilterApplicable(units, prices[0].Date, prices[len(prices)-1].Date)
	if len(skipped) > 0 {
		log.Debug("event units outside price history", "count", len(skipped))
	}

	policy := cfg.Policy
	if policy == nil {
		policy = factor.Proportional{}
	}
	return policy, e.version(policy, applied), applied, nil
}

// normalizeRequest validates req and truncates its dates.
func normalizeRequest(req Request) (Request, error) {
	if req.Symbol == "" || req.Market == "" {
		return req, &AdjustmentInputError{Symbol: req.Symbol, Market: req.Market, Reason: "symbol and market are required"}
	}
	if req.Mode == "" {
		req.Mode = domain.ModeQfq
	}
	if _, err := domain.ParseMode(string(req.Mode)); err != nil {
		return req, &AdjustmentInputError{Symbol: req.Symbol, Market: req.Market, Reason: err.Error()}
	}
	req.Start = domain.TruncateDate(req.Start)
	req.End = domain.TruncateDate(req.End)
	if req.End.Before(req.Start) {
		return req, &AdjustmentInputError{
			Symbol: req.Symbol,
			Market: req.Market,
			Reason: fmt.Sprintf("end %s before start %s", domain.FormatDate(req.End), domain.FormatDate(req.Start)),
		}
	}
	return req, nil
}

// version tags non-default policies so their factors never share a version
// with proportional factors.
func (e *Engine) version(policy factor.DividendPolicy, units []*domain.NormalizedEventUnit) string {
	tag := policy.Name()
	if tag == factor.PolicyProportional {
		tag = ""
	}
	return idhash.ComputePolicyVersion(e.algorithmVersion, tag, units)
}

// lookup returns stored rows of version covering every window date.
// Store read failures are logged and treated as a miss.
func (e *Engine) lookup(ctx context.Context, log *slog.Logger, req Request, version string, window []*domain.PriceObservation) ([]*domain.AdjustmentFactorRow, bool) {
	rows, err := e.store.GetLatest(ctx, req.Symbol, req.Market, req.Start, req.End)
	if err == nil && len(rows) > 0 && rows[0].Version == version && completeFor(rows, window) {
		return rows, true
	}
	if err != nil && !errors.Is(err, storage.ErrMissingVersion) {
		log.Warn("latest version lookup failed", "error", err)
	}

	rows, err = e.store.GetVersion(ctx, req.Symbol, req.Market, version, req.Start, req.End)
	if err != nil {
		if !errors.Is(err, storage.ErrMissingVersion) {
			log.Warn("version lookup failed", "version", version, "error", err)
		}
		return nil, false
	}
	return rows, completeFor(rows, window)
}

// build computes factors for the full history and submits them for persistence.
// Concurrent builds of the same version over the same closes share one
// computation.
func (e *Engine) build(
	ctx context.Context,
	log *slog.Logger,
	req Request,
	policy factor.DividendPolicy,
	version string,
	prices []*domain.PriceObservation,
	units []*domain.NormalizedEventUnit,
	hasEvents bool,
) ([]factor.Factor, error) {
	// Callers share a build only when they read the same close series.
	key := req.Market + "|" + req.Symbol + "|" + version + "|" + idhash.ComputePricesHash(prices)

	v, err, _ := e.builds.Do(key, func() (interface{}, error) {
		started := time.Now()
		factors, err := e.newBuild(policy).Compute(prices, units)
		if err != nil {
			return nil, asInputError(req.Symbol, req.Market, err)
		}
		e.buildCount.Add(1)
		e.metrics.RecordBuild(time.Since(started).Seconds())

		rows := e.factorRows(req, version, idhash.ComputeEventsHash(units), prices, factors, hasEvents)
		log.Info("built factors", "version", version, "rows", len(rows), "duration", time.Since(started))

		// Joined callers depend on this write; one caller cancelling must not abort it.
		if err := e.submitter.Submit(context.WithoutCancel(ctx), rows); err != nil {
			e.writeFailures.Add(1)
			werr := &StoreWriteError{Symbol: req.Symbol, Market: req.Market, Version: version, Rows: len(rows), Err: err}
			log.Error("store write failed", "version", version, "retryable", werr.Retryable(), "error", werr)
		}
		return factors, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]factor.Factor), nil
}

// factorRows turns built factors into persistable rows, one per price date.
func (e *Engine) factorRows(
	req Request,
	version, eventsHash string,
	prices []*domain.PriceObservation,
	factors []factor.Factor,
	hasEvents bool,
) []*domain.AdjustmentFactorRow {
	built := e.now().UTC().Truncate(time.Microsecond)
	flags := factor.ActionGapFlags(prices, hasEvents, e.gapThreshold)

	rows := make([]*domain.AdjustmentFactorRow, len(factors))
	for i, f := range factors {
		rows[i] = &domain.AdjustmentFactorRow{
			Symbol:           req.Symbol,
			Market:           req.Market,
			Date:             f.Date,
			AdjFactorQfq:     f.Qfq,
			AdjFactorHfq:     f.Hfq,
			Version:          version,
			BuildTime:        built,
			SourceEventsHash: eventsHash,
			ActionGapFlag:    flags[i],
		}
	}
	return rows
}

func (e *Engine) gapFlags(prices []*domain.PriceObservation, hasEvents bool) map[string]bool {
	flags := factor.ActionGapFlags(prices, hasEvents, e.gapThreshold)
	byDate := make(map[string]bool, len(prices))
	for i, p := range prices {
		if flags[i] {
			byDate[domain.FormatDate(p.Date)] = true
		}
	}
	return byDate
}

func (e *Engine) logConflicts(log *slog.Logger, units []*domain.NormalizedEventUnit) {
	conflicts := 0
	for _, u := range units {
		if u.ConflictFlag {
			conflicts++
			log.Warn("conflicting event reports",
				"date", domain.FormatDate(u.EffectiveDate),
				"event_ids", u.ContributingEventIDs,
			)
		}
	}
	e.metrics.RecordConflicts(conflicts)
}

func (e *Engine) series(req Request, version string, cacheHit bool, rows []domain.AdjustedRow) *domain.AdjustedSeries {
	return &domain.AdjustedSeries{
		Symbol:   req.Symbol,
		Market:   req.Market,
		Start:    req.Start,
		End:      req.End,
		Mode:     req.Mode,
		Version:  version,
		CacheHit: cacheHit,
		Rows:     rows,
	}
}

func isConflict(err error) bool {
	return errors.Is(err, storage.ErrConflictingRow)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAdjustmentInput):
		return "input_error"
	case errors.Is(err, ErrPriceSeriesUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
