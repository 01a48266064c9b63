package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of corporate action.
type EventType string

// Supported event types.
const (
	EventTypeDividend EventType = "dividend"
	EventTypeSplit    EventType = "split"
)

// Action is the closed set of corporate-action payloads.
// Only CashDividend and StockSplit implement it.
type Action interface {
	Type() EventType
	isAction()
}

// CashDividend is a per-share cash distribution, as ingested.
type CashDividend struct {
	Cash     float64 // cash per share
	Currency string  // ISO code, empty when the feed does not report one
}

// Type implements Action.
func (CashDividend) Type() EventType { return EventTypeDividend }

func (CashDividend) isAction() {}

// StockSplit is a share split; Ratio 2 means one share becomes two.
type StockSplit struct {
	Ratio float64
}

// Type implements Action.
func (StockSplit) Type() EventType { return EventTypeSplit }

func (StockSplit) isAction() {}

// CorporateActionEvent is a raw event as produced by the ingestion side.
// Corresponds to the corporate_actions table.
type CorporateActionEvent struct {
	EventID          string          // stable id; derived when empty
	Market           string          // e.g. CN, US
	Symbol           string          // normalized symbol
	EffectiveDate    time.Time       // ex-date, 00:00 UTC
	Action           Action          // exactly one payload
	Source           string          // feed name
	RawPayload       json.RawMessage // original vendor record
	IngestionBatchID uuid.UUID       // batch that delivered the event
	IngestTime       time.Time       // when the event was ingested
}

// EventType returns the type of the event payload, or "" when missing.
func (e *CorporateActionEvent) EventType() EventType {
	if e.Action == nil {
		return ""
	}
	return e.Action.Type()
}
