package main

import (
	"errors"
	"fmt"
	"testing"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/engine"
)

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest("600000", "CN", "2024-01-01", "2024-01-31", "HFQ")
	if err != nil {
		t.Fatalf("buildRequest failed: %v", err)
	}
	if !req.Start.Equal(domain.Date(2024, 1, 1)) || !req.End.Equal(domain.Date(2024, 1, 31)) {
		t.Errorf("unexpected window %s..%s", req.Start, req.End)
	}
	if req.Mode != domain.ModeHfq {
		t.Errorf("mode = %q, want hfq", req.Mode)
	}

	for _, tc := range [][3]string{
		{"", "2024-01-31", "qfq"},
		{"2024/01/01", "", "qfq"},
		{"2024-01-01", "2024-01-31", "forward"},
	} {
		if _, err := buildRequest("600000", "CN", tc[0], tc[1], tc[2]); err == nil {
			t.Errorf("buildRequest(%v): expected error", tc)
		}
	}
}

func TestExitCode(t *testing.T) {
	input := &engine.AdjustmentInputError{Symbol: "X", Market: "CN", Reason: "bad"}
	unavailable := &engine.PriceSeriesUnavailableError{Symbol: "X", Market: "CN"}

	if got := exitCode(fmt.Errorf("compute: %w", input)); got != exitInput {
		t.Errorf("input error exit = %d, want %d", got, exitInput)
	}
	if got := exitCode(unavailable); got != exitUnavailable {
		t.Errorf("unavailable exit = %d, want %d", got, exitUnavailable)
	}
	if got := exitCode(errors.New("boom")); got != exitError {
		t.Errorf("generic exit = %d, want %d", got, exitError)
	}
}
