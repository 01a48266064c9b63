package idhash

import (
	"testing"

	"vprism-adjust/internal/domain"
)

func TestComputeEventID(t *testing.T) {
	date := domain.Date(2024, 1, 2)

	got := ComputeEventID("CN", "X", domain.EventTypeDividend, date, "vendor-a", 2)
	if len(got) != 64 {
		t.Errorf("ComputeEventID() length = %d, want 64", len(got))
	}

	got2 := ComputeEventID("CN", "X", domain.EventTypeDividend, date, "vendor-a", 2)
	if got != got2 {
		t.Errorf("ComputeEventID() not deterministic: %s != %s", got, got2)
	}
}

func TestComputeEventID_DifferentInputs(t *testing.T) {
	date := domain.Date(2024, 1, 2)
	base := ComputeEventID("CN", "X", domain.EventTypeDividend, date, "vendor-a", 2)

	if base == ComputeEventID("US", "X", domain.EventTypeDividend, date, "vendor-a", 2) {
		t.Error("Different market should produce different hash")
	}
	if base == ComputeEventID("CN", "X", domain.EventTypeSplit, date, "vendor-a", 2) {
		t.Error("Different event type should produce different hash")
	}
	if base == ComputeEventID("CN", "X", domain.EventTypeDividend, domain.Date(2024, 1, 3), "vendor-a", 2) {
		t.Error("Different date should produce different hash")
	}
	if base == ComputeEventID("CN", "X", domain.EventTypeDividend, date, "vendor-b", 2) {
		t.Error("Different source should produce different hash")
	}
	if base == ComputeEventID("CN", "X", domain.EventTypeDividend, date, "vendor-a", 2.5) {
		t.Error("Different value should produce different hash")
	}
}

func TestEventIDFor(t *testing.T) {
	e := &domain.CorporateActionEvent{
		Market:        "CN",
		Symbol:        "X",
		EffectiveDate: domain.Date(2024, 1, 3),
		Action:        domain.StockSplit{Ratio: 2},
		Source:        "vendor-a",
	}

	want := ComputeEventID("CN", "X", domain.EventTypeSplit, e.EffectiveDate, "vendor-a", 2)
	if got := EventIDFor(e); got != want {
		t.Errorf("EventIDFor() = %s, want %s", got, want)
	}

	e.EventID = "explicit"
	if got := EventIDFor(e); got != "explicit" {
		t.Errorf("EventIDFor() = %s, want explicit id", got)
	}
}
