package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/factor"
)

var one = decimal.NewFromInt(1)

// sliceWindow returns the closes with start <= date <= end.
// prices must be sorted by date.
func sliceWindow(prices []*domain.PriceObservation, start, end time.Time) []*domain.PriceObservation {
	lo := 0
	for lo < len(prices) && prices[lo].Date.Before(start) {
		lo++
	}
	hi := lo
	for hi < len(prices) && !prices[hi].Date.After(end) {
		hi++
	}
	return prices[lo:hi]
}

// completeFor reports whether rows hold exactly one row per window date.
func completeFor(rows []*domain.AdjustmentFactorRow, window []*domain.PriceObservation) bool {
	if len(rows) != len(window) {
		return false
	}
	for i := range rows {
		if !rows[i].Date.Equal(window[i].Date) {
			return false
		}
	}
	return true
}

// composeRaw builds ModeNone rows: raw closes with unit factors.
func composeRaw(window []*domain.PriceObservation, gapFlags map[string]bool) []domain.AdjustedRow {
	rows := make([]domain.AdjustedRow, len(window))
	for i, p := range window {
		rows[i] = domain.AdjustedRow{
			Date:          p.Date,
			CloseRaw:      p.RawClose,
			AdjFactorQfq:  one,
			AdjFactorHfq:  one,
			ActionGapFlag: gapFlags[domain.FormatDate(p.Date)],
		}
	}
	return rows
}

// composeStored builds rows from stored factor rows aligned with window.
func composeStored(window []*domain.PriceObservation, stored []*domain.AdjustmentFactorRow, gapFlags map[string]bool, mode domain.Mode) []domain.AdjustedRow {
	rows := make([]domain.AdjustedRow, len(window))
	for i, p := range window {
		rows[i] = adjustedRow(p, stored[i].AdjFactorQfq, stored[i].AdjFactorHfq, gapFlags, mode)
	}
	return rows
}

// composeBuilt builds rows from freshly built factors covering the full
// history. ok is false when a window date has no factor.
func composeBuilt(window []*domain.PriceObservation, factors []factor.Factor, gapFlags map[string]bool, mode domain.Mode) ([]domain.AdjustedRow, bool) {
	byDate := make(map[string]factor.Factor, len(factors))
	for _, f := range factors {
		byDate[domain.FormatDate(f.Date)] = f
	}

	rows := make([]domain.AdjustedRow, len(window))
	for i, p := range window {
		f, ok := byDate[domain.FormatDate(p.Date)]
		if !ok {
			return nil, false
		}
		rows[i] = adjustedRow(p, f.Qfq, f.Hfq, gapFlags, mode)
	}
	return rows, true
}

func adjustedRow(p *domain.PriceObservation, qfq, hfq decimal.Decimal, gapFlags map[string]bool, mode domain.Mode) domain.AdjustedRow {
	row := domain.AdjustedRow{
		Date:          p.Date,
		CloseRaw:      p.RawClose,
		AdjFactorQfq:  qfq,
		AdjFactorHfq:  hfq,
		ActionGapFlag: gapFlags[domain.FormatDate(p.Date)],
	}
	if mode.WantsQfq() {
		row.CloseQfq = decimal.NewNullDecimal(p.RawClose.Mul(qfq))
	}
	if mode.WantsHfq() {
		row.CloseHfq = decimal.NewNullDecimal(p.RawClose.Mul(hfq))
	}
	return row
}
