package domain

import (
	"fmt"
	"strings"
	"time"
)

// InputError describes invalid corporate-action or price input.
// EventIDs and Date identify the offending records.
type InputError struct {
	Reason   string
	EventIDs []string
	Date     time.Time
}

func (e *InputError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Reason)
	if !e.Date.IsZero() {
		fmt.Fprintf(&sb, " (date %s)", FormatDate(e.Date))
	}
	if len(e.EventIDs) > 0 {
		fmt.Fprintf(&sb, " [events: %s]", strings.Join(e.EventIDs, ","))
	}
	return sb.String()
}
