package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation is one raw daily close.
// Corresponds to daily_prices table in ClickHouse.
type PriceObservation struct {
	Symbol   string
	Market   string
	Date     time.Time // trading date, 00:00 UTC
	RawClose decimal.Decimal
}
