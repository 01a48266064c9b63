package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"vprism-adjust/internal/domain"
)

// canonicalScale is the number of fractional digits in the canonical projection.
const canonicalScale = 10

// versionHashLen is the number of hex characters of the events hash kept in a version.
const versionHashLen = 12

// CanonicalEvents renders normalized units as the canonical byte projection:
// one "date|dividend_cash|split_ratio" line per unit, sorted by date.
// Event ids, sources and conflict flags are not part of the projection.
func CanonicalEvents(units []*domain.NormalizedEventUnit) []byte {
	lines := make([]string, 0, len(units))
	for _, u := range units {
		lines = append(lines, fmt.Sprintf("%s|%s|%s",
			domain.FormatDate(u.EffectiveDate),
			u.DividendCash.StringFixed(canonicalScale),
			u.SplitRatio.StringFixed(canonicalScale),
		))
	}
	sort.Strings(lines)

	return []byte(strings.Join(lines, "\n"))
}

// ComputeEventsHash computes the SHA256 of the canonical projection.
// Returns hex-encoded hash (64 characters); stored as source_events_hash.
func ComputeEventsHash(units []*domain.NormalizedEventUnit) string {
	hash := sha256.Sum256(CanonicalEvents(units))
	return hex.EncodeToString(hash[:])
}

// ComputeVersion returns "{algorithmVersion}:{hash[:12]}".
// The result depends only on its arguments.
func ComputeVersion(algorithmVersion int, units []*domain.NormalizedEventUnit) string {
	return FormatVersion(algorithmVersion, ComputeEventsHash(units))
}

// ComputePolicyVersion is ComputeVersion for a builder using a non-default
// dividend policy: the policy name becomes part of the algorithm component,
// "{algorithmVersion}+{policy}:{hash[:12]}". An empty policy yields the same
// result as ComputeVersion.
func ComputePolicyVersion(algorithmVersion int, policy string, units []*domain.NormalizedEventUnit) string {
	hash := ComputeEventsHash(units)
	if policy == "" {
		return FormatVersion(algorithmVersion, hash)
	}
	return fmt.Sprintf("%d+%s:%s", algorithmVersion, policy, shortHash(hash))
}

// FormatVersion builds a version string from a full events hash.
func FormatVersion(algorithmVersion int, eventsHash string) string {
	return fmt.Sprintf("%d:%s", algorithmVersion, shortHash(eventsHash))
}

func shortHash(eventsHash string) string {
	if len(eventsHash) > versionHashLen {
		return eventsHash[:versionHashLen]
	}
	return eventsHash
}

// ComputePricesHash fingerprints a close series as the SHA256 of its
// "date|raw_close" lines in input order. Two series with the same hash yield
// the same factors for the same event units.
func ComputePricesHash(prices []*domain.PriceObservation) string {
	h := sha256.New()
	for _, p := range prices {
		fmt.Fprintf(h, "%s|%s\n", domain.FormatDate(p.Date), p.RawClose.String())
	}
	return hex.EncodeToString(h.Sum(nil))
}
