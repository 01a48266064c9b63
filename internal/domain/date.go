package domain

import (
	"fmt"
	"time"
)

// DateLayout is the canonical text form of a trading date.
const DateLayout = "2006-01-02"

// Date returns the trading date y-m-d at 00:00 UTC.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a UTC trading date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// TruncateDate drops the time-of-day component and normalizes to UTC.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// FormatDate renders a trading date in canonical form.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
