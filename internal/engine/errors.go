package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"vprism-adjust/internal/domain"
)

// Sentinel errors matched with errors.Is.
var (
	// ErrAdjustmentInput marks malformed or inconsistent event or price input.
	ErrAdjustmentInput = errors.New("adjustment input error")

	// ErrPriceSeriesUnavailable marks a symbol without raw closes for the request.
	ErrPriceSeriesUnavailable = errors.New("price series unavailable")

	// ErrStoreWrite marks a failed best-effort write-back.
	ErrStoreWrite = errors.New("store write failed")
)

// AdjustmentInputError reports invalid input. Nothing is persisted when it is returned.
type AdjustmentInputError struct {
	Symbol   string
	Market   string
	Reason   string
	EventIDs []string
	Date     time.Time
}

func (e *AdjustmentInputError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "adjustment input error for %s/%s: %s", e.Market, e.Symbol, e.Reason)
	if !e.Date.IsZero() {
		fmt.Fprintf(&sb, " (date %s)", domain.FormatDate(e.Date))
	}
	if len(e.EventIDs) > 0 {
		fmt.Fprintf(&sb, " [events: %s]", strings.Join(e.EventIDs, ","))
	}
	return sb.String()
}

// Unwrap allows errors.Is(err, ErrAdjustmentInput).
func (e *AdjustmentInputError) Unwrap() error { return ErrAdjustmentInput }

// PriceSeriesUnavailableError reports that no raw closes exist for the request.
type PriceSeriesUnavailableError struct {
	Symbol string
	Market string
	Start  time.Time
	End    time.Time
}

func (e *PriceSeriesUnavailableError) Error() string {
	return fmt.Sprintf("no prices for %s/%s in [%s, %s]",
		e.Market, e.Symbol, domain.FormatDate(e.Start), domain.FormatDate(e.End))
}

// Unwrap allows errors.Is(err, ErrPriceSeriesUnavailable).
func (e *PriceSeriesUnavailableError) Unwrap() error { return ErrPriceSeriesUnavailable }

// StoreWriteError reports a failed write of freshly built rows.
// The computed series is still returned to the caller; the error is logged
// and counted. Retrying the same write is safe.
type StoreWriteError struct {
	Symbol  string
	Market  string
	Version string
	Rows    int
	Err     error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("write %d rows of %s/%s version %s: %v", e.Rows, e.Market, e.Symbol, e.Version, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StoreWriteError) Unwrap() []error { return []error{ErrStoreWrite, e.Err} }

// Retryable reports whether the write may succeed on retry.
// A conflicting row means the stored content differs and retrying cannot help.
func (e *StoreWriteError) Retryable() bool {
	return !isConflict(e.Err)
}

// asInputError converts a domain.InputError into an AdjustmentInputError.
// Other errors are returned unchanged.
func asInputError(symbol, market string, err error) error {
	var in *domain.InputError
	if errors.As(err, &in) {
		return &AdjustmentInputError{
			Symbol:   symbol,
			Market:   market,
			Reason:   in.Reason,
			EventIDs: in.EventIDs,
			Date:     in.Date,
		}
	}
	return err
}
