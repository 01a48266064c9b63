package reporting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"vprism-adjust/internal/domain"
)

// Presentation precision.
const (
	FactorPlaces = 10
	PricePlaces  = 4
)

// RenderSeriesCSV renders an adjusted series as CSV string.
// Factors are rounded to FactorPlaces and prices to PricePlaces; unrequested
// adjusted closes are left empty.
func RenderSeriesCSV(s *domain.AdjustedSeries) string {
	var sb strings.Builder

	// Header
	sb.WriteString("date,close_raw,close_qfq,close_hfq,adj_factor_qfq,adj_factor_hfq,action_gap_flag\n")

	// Rows
	for _, r := range s.Rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%s,%t\n",
			domain.FormatDate(r.Date),
			r.CloseRaw.StringFixed(PricePlaces),
			nullFixed(r.CloseQfq, PricePlaces),
			nullFixed(r.CloseHfq, PricePlaces),
			r.AdjFactorQfq.StringFixed(FactorPlaces),
			r.AdjFactorHfq.StringFixed(FactorPlaces),
			r.ActionGapFlag,
		))
	}

	return sb.String()
}

func nullFixed(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(places)
}
