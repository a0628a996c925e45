// Package resolver maps free-form item mentions onto canonical inventory
// names. Matching is deliberately cheap: normalize, try an exact hit, try
// substring containment, then fall back to sequence similarity.
package resolver

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultThreshold is the minimum similarity ratio for a fuzzy match.
const DefaultThreshold = 0.6

// Normalize lowercases a mention and collapses whitespace and hyphens to
// underscores, the form canonical inventory names use.
func Normalize(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(name)), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '-' || r == '_'
	})
	return strings.Join(fields, "_")
}

// Resolver matches mentions against a candidate list. Candidates are
// consulted in the order given, so ties go to the earlier entry.
type Resolver struct {
	threshold float64
}

// New returns a Resolver using the given similarity threshold. A
// non-positive threshold falls back to DefaultThreshold.
func New(threshold float64) *Resolver {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Resolver{threshold: threshold}
}

// Resolve returns the canonical name matching the mention, or ("", false)
// when nothing clears the bar. Exact normalized matches win outright,
// substring containment next, then the best similarity ratio at or above
// the threshold.
func (r *Resolver) Resolve(mention string, candidates []string) (string, bool) {
	normalized := Normalize(mention)
	if normalized == "" {
		return "", false
	}

	for _, c := range candidates {
		if c == normalized {
			return c, true
		}
	}

	for _, c := range candidates {
		if strings.Contains(c, normalized) || strings.Contains(normalized, c) {
			return c, true
		}
	}

	best := ""
	bestRatio := 0.0
	for _, c := range candidates {
		ratio := similarity(normalized, c)
		if ratio > bestRatio {
			best = c
			bestRatio = ratio
		}
	}
	if bestRatio >= r.threshold {
		return best, true
	}
	return "", false
}

// similarity compares two names character by character.
func similarity(a, b string) float64 {
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}
