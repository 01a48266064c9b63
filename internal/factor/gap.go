package factor

import (
	"math"

	"vprism-adjust/internal/domain"
)

// DefaultGapThreshold is the absolute daily log-return above which a move
// with no corporate-action history is flagged for review.
const DefaultGapThreshold = 0.15

// ActionGapFlags returns one flag per price. When the symbol has any
// corporate-action event, every flag is false. Otherwise a date is flagged
// when |ln(close / prevClose)| exceeds threshold.
// The flag is a heuristic and is never used in factor arithmetic.
func ActionGapFlags(prices []*domain.PriceObservation, hasEvents bool, threshold float64) []bool {
	flags := make([]bool, len(prices))
	if hasEvents || len(prices) < 2 {
		return flags
	}

	for i := 1; i < len(prices); i++ {
		prev := prices[i-1].RawClose.InexactFloat64()
		cur := prices[i].RawClose.InexactFloat64()
		if prev <= 0 || cur <= 0 {
			continue
		}
		if math.Abs(math.Log(cur/prev)) > threshold {
			flags[i] = true
		}
	}
	return flags
}
