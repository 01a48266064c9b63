package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/orchestrator"
	"vprism-adjust/internal/verification"
)

// RenderVersionsTable renders stored version metadata as a Markdown table.
func RenderVersionsTable(meta []*domain.VersionMetadata) string {
	var sb strings.Builder

	if len(meta) == 0 {
		sb.WriteString("No stored versions.\n")
		return sb.String()
	}

	sb.WriteString("| Version | Events Hash | First Date | Last Date | Rows | Build Time |\n")
	sb.WriteString("|---------|-------------|------------|-----------|------|------------|\n")
	for _, m := range meta {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d | %s |\n",
			m.Version,
			shortHash(m.SourceEventsHash),
			domain.FormatDate(m.FirstDate),
			domain.FormatDate(m.LastDate),
			m.RowCount,
			m.BuildTime.UTC().Format(time.RFC3339),
		))
	}

	return sb.String()
}

// RenderVerificationMarkdown renders a verification report as Markdown string.
func RenderVerificationMarkdown(r *verification.Report, generatedAt time.Time) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Factor Verification Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", generatedAt.UTC().Format(time.RFC3339)))

	// Summary
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Symbols | %d |\n", r.Total))
	sb.WriteString(fmt.Sprintf("| Matched | %d |\n", r.Matched))
	sb.WriteString(fmt.Sprintf("| Divergent | %d |\n", r.Divergent))
	sb.WriteString(fmt.Sprintf("| Missing | %d |\n", r.Missing))
	sb.WriteString(fmt.Sprintf("| Failed | %d |\n", r.Failed))
	sb.WriteString("\n")

	// Per-symbol results
	if len(r.Results) > 0 {
		sb.WriteString("## Results\n\n")
		sb.WriteString("| Symbol | Version | Status | Rows Checked | Unstored |\n")
		sb.WriteString("|--------|---------|--------|--------------|----------|\n")
		for _, res := range r.Results {
			sb.WriteString(fmt.Sprintf("| %s:%s | %s | %s | %d | %d |\n",
				res.Market, res.Symbol, res.Version, strings.ToUpper(res.Status()), res.RowsChecked, res.Unstored))
		}
		sb.WriteString("\n")
	}

	// Divergences
	for _, res := range r.Results {
		if len(res.Divergences) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("### %s:%s\n\n", res.Market, res.Symbol))
		sb.WriteString("| Date | Field | Stored | Rebuilt |\n")
		sb.WriteString("|------|-------|--------|---------|\n")
		for _, d := range res.Divergences {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				domain.FormatDate(d.Date), d.Field, d.Expected, d.Actual))
		}
		sb.WriteString("\n")
	}

	// Errors
	if len(r.Errors) > 0 {
		sb.WriteString("## Errors\n\n")
		for _, key := range sortedKeys(r.Errors) {
			sb.WriteString(fmt.Sprintf("- %s: %v\n", key, r.Errors[key]))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// RenderBatchSummary renders a batch run as Markdown string.
func RenderBatchSummary(r *orchestrator.RunResult) string {
	var sb strings.Builder

	sb.WriteString("| Symbol | Version | Rows | Cache Hit | Status |\n")
	sb.WriteString("|--------|---------|------|-----------|--------|\n")
	for _, res := range r.Results {
		if res.Err != nil {
			sb.WriteString(fmt.Sprintf("| %s | - | - | - | FAILED |\n", res.Ref))
			continue
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %t | OK |\n",
			res.Ref, res.Series.Version, len(res.Series.Rows), res.Series.CacheHit))
	}
	sb.WriteString(fmt.Sprintf("\nSymbols: %d | Succeeded: %d | Failed: %d | Cache hits: %d\n",
		r.SymbolsProcessed, r.Succeeded, r.Failed, r.CacheHits))

	return sb.String()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
