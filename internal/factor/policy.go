package factor

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Policy names accepted in configuration.
const (
	PolicyProportional = "proportional"
	PolicySplitOnly    = "split_only"
)

// DividendPolicy converts a cash dividend into its multiplicative
// contribution to the back-adjusted (hfq) factor.
type DividendPolicy interface {
	// Name returns the configuration name of the policy.
	Name() string

	// Factor returns the hfq multiplier for a dividend of cash paid on a
	// security that closed at prevClose on the previous trading date.
	Factor(cash, prevClose decimal.Decimal) (decimal.Decimal, error)
}

// Proportional applies 1 / (1 - cash/prevClose), i.e. prevClose / (prevClose - cash).
// A dividend at or above the previous close is rejected.
type Proportional struct{}

// Name implements DividendPolicy.
func (Proportional) Name() string { return PolicyProportional }

// Factor implements DividendPolicy.
func (Proportional) Factor(cash, prevClose decimal.Decimal) (decimal.Decimal, error) {
	if prevClose.LessThanOrEqual(cash) {
		return decimal.Zero, fmt.Errorf("dividend_cash %s is not below previous close %s", cash, prevClose)
	}
	return prevClose.DivRound(prevClose.Sub(cash), DivisionScale), nil
}

// SplitOnly ignores cash dividends; only splits move the factor.
type SplitOnly struct{}

// Name implements DividendPolicy.
func (SplitOnly) Name() string { return PolicySplitOnly }

// Factor implements DividendPolicy.
func (SplitOnly) Factor(_, _ decimal.Decimal) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

// PolicyByName resolves a configured policy name. Empty selects Proportional.
func PolicyByName(name string) (DividendPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyProportional:
		return Proportional{}, nil
	case PolicySplitOnly:
		return SplitOnly{}, nil
	default:
		return nil, fmt.Errorf("unknown dividend policy %q", name)
	}
}
