package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects which adjusted columns are populated.
type Mode string

// Supported modes.
const (
	ModeQfq  Mode = "qfq"
	ModeHfq  Mode = "hfq"
	ModeAll  Mode = "all"
	ModeNone Mode = "none"
)

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeQfq, ModeHfq, ModeAll, ModeNone:
		return m, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be qfq, hfq, all or none", s)
	}
}

// WantsQfq reports whether close_qfq is populated in this mode.
func (m Mode) WantsQfq() bool { return m == ModeQfq || m == ModeAll }

// WantsHfq reports whether close_hfq is populated in this mode.
func (m Mode) WantsHfq() bool { return m == ModeHfq || m == ModeAll }

// AdjustedRow is one output row of an adjusted series.
type AdjustedRow struct {
	Date          time.Time
	CloseRaw      decimal.Decimal
	CloseQfq      decimal.NullDecimal
	CloseHfq      decimal.NullDecimal
	AdjFactorQfq  decimal.Decimal
	AdjFactorHfq  decimal.Decimal
	ActionGapFlag bool
}

// AdjustedSeries is the result of one engine computation.
type AdjustedSeries struct {
	Symbol   string
	Market   string
	Start    time.Time
	End      time.Time
	Mode     Mode
	Version  string // empty for ModeNone
	CacheHit bool
	Rows     []AdjustedRow
}

// SymbolRef identifies one listed instrument.
type SymbolRef struct {
	Symbol string `yaml:"symbol"`
	Market string `yaml:"market"`
}

// String returns "MARKET:SYMBOL".
func (r SymbolRef) String() string {
	return r.Market + ":" + r.Symbol
}
