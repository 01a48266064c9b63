package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"vprism-adjust/internal/domain"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(market|symbol|event_type|effective_date|source|value)
// Returns hex-encoded hash (64 characters).
//
// The ingestion batch is deliberately not part of the id, so the same
// vendor record delivered twice collapses to one event.
func ComputeEventID(
	market string,
	symbol string,
	eventType domain.EventType,
	effectiveDate time.Time,
	source string,
	value float64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		market,
		symbol,
		string(eventType),
		domain.FormatDate(effectiveDate),
		source,
		strconv.FormatFloat(value, 'g', -1, 64),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// EventIDFor returns e.EventID, deriving it when the feed did not supply one.
func EventIDFor(e *domain.CorporateActionEvent) string {
	if e.EventID != "" {
		return e.EventID
	}

	var value float64
	switch a := e.Action.(type) {
	case domain.CashDividend:
		value = a.Cash
	case domain.StockSplit:
		value = a.Ratio
	}
	return ComputeEventID(e.Market, e.Symbol, e.EventType(), e.EffectiveDate, e.Source, value)
}
