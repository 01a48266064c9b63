package reporting

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/orchestrator"
	"vprism-adjust/internal/verification"
)

func TestRenderSeriesCSV(t *testing.T) {
	series := &domain.AdjustedSeries{
		Symbol: "600000",
		Market: "CN",
		Mode:   domain.ModeQfq,
		Rows: []domain.AdjustedRow{
			{
				Date:         domain.Date(2024, 1, 1),
				CloseRaw:     decimal.RequireFromString("100"),
				CloseQfq:     decimal.NewNullDecimal(decimal.RequireFromString("49")),
				AdjFactorQfq: decimal.RequireFromString("0.49"),
				AdjFactorHfq: decimal.NewFromInt(1),
			},
			{
				Date:          domain.Date(2024, 1, 2),
				CloseRaw:      decimal.RequireFromString("98"),
				CloseQfq:      decimal.NewNullDecimal(decimal.RequireFromString("49.00000000004")),
				AdjFactorQfq:  decimal.RequireFromString("0.50000000000000000001"),
				AdjFactorHfq:  decimal.RequireFromString("1.0204081632653061224489795918"),
				ActionGapFlag: true,
			},
		},
	}

	got := RenderSeriesCSV(series)
	want := "date,close_raw,close_qfq,close_hfq,adj_factor_qfq,adj_factor_hfq,action_gap_flag\n" +
		"2024-01-01,100.0000,49.0000,,0.4900000000,1.0000000000,false\n" +
		"2024-01-02,98.0000,49.0000,,0.5000000000,1.0204081633,true\n"

	if got != want {
		t.Errorf("RenderSeriesCSV mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderVersionsTable(t *testing.T) {
	if got := RenderVersionsTable(nil); got != "No stored versions.\n" {
		t.Errorf("empty table = %q", got)
	}

	meta := []*domain.VersionMetadata{{
		Symbol:           "600000",
		Market:           "CN",
		Version:          "1:abcdef012345",
		SourceEventsHash: "0123456789abcdef0123",
		FirstDate:        domain.Date(2024, 1, 1),
		LastDate:         domain.Date(2024, 1, 3),
		RowCount:         3,
		BuildTime:        time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC),
	}}

	got := RenderVersionsTable(meta)
	if !strings.Contains(got, "| 1:abcdef012345 | 0123456789ab | 2024-01-01 | 2024-01-03 | 3 | 2024-02-01T08:00:00Z |") {
		t.Errorf("unexpected table:\n%s", got)
	}
}

func TestRenderVerificationMarkdown(t *testing.T) {
	report := &verification.Report{
		Total:     3,
		Matched:   1,
		Divergent: 1,
		Failed:    1,
		Results: []*verification.Result{
			{Symbol: "A", Market: "CN", Version: "1:aaa", Stored: true, Match: true, RowsChecked: 3},
			{
				Symbol: "B", Market: "CN", Version: "1:bbb", Stored: true, RowsChecked: 3,
				Divergences: []verification.FieldDivergence{
					{Date: domain.Date(2024, 1, 2), Field: "qfq", Expected: "0.5", Actual: "0.51"},
				},
			},
		},
		Errors: map[string]error{"CN:C": errors.New("no prices")},
	}

	got := RenderVerificationMarkdown(report, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	for _, want := range []string{
		"# Factor Verification Report",
		"| Divergent | 1 |",
		"| CN:A | 1:aaa | MATCH | 3 | 0 |",
		"| CN:B | 1:bbb | DIVERGENT | 3 | 0 |",
		"| 2024-01-02 | qfq | 0.5 | 0.51 |",
		"- CN:C: no prices",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

func TestRenderBatchSummary(t *testing.T) {
	result := &orchestrator.RunResult{
		SymbolsProcessed: 2,
		Succeeded:        1,
		Failed:           1,
		CacheHits:        1,
		Results: []*orchestrator.SymbolResult{
			{
				Ref:    domain.SymbolRef{Symbol: "A", Market: "CN"},
				Series: &domain.AdjustedSeries{Version: "1:aaa", CacheHit: true, Rows: make([]domain.AdjustedRow, 5)},
			},
			{Ref: domain.SymbolRef{Symbol: "B", Market: "CN"}, Err: errors.New("no prices")},
		},
	}

	got := RenderBatchSummary(result)
	for _, want := range []string{
		"| CN:A | 1:aaa | 5 | true | OK |",
		"| CN:B | - | - | - | FAILED |",
		"Symbols: 2 | Succeeded: 1 | Failed: 1 | Cache hits: 1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}
