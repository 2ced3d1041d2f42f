// Package similarity rejects generated posts that are near-duplicates of
// recently accepted ones.
package similarity

import (
	"github.com/pmezard/go-difflib/difflib"

	"github.com/postgate/postgate/internal/observability"
)

// DefaultThreshold is the ratio above which a candidate is rejected.
const DefaultThreshold = 0.85

// Ratio returns the SequenceMatcher similarity of a and b over their full
// character sequences, in [0, 1]. Two empty strings are identical.
func Ratio(a, b string) float64 {
	return difflib.NewMatcher(chars(a), chars(b)).Ratio()
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// MaxRatio returns the highest Ratio between candidate and any history
// entry, or 0 for empty history.
func MaxRatio(candidate string, history []string) float64 {
	best := 0.0
	for _, h := range history {
		if r := Ratio(candidate, h); r > best {
			best = r
		}
	}
	return best
}

// IsTooSimilar reports whether candidate's ratio to any history entry
// exceeds threshold.
func IsTooSimilar(candidate string, history []string, threshold float64) bool {
	for _, h := range history {
		if Ratio(candidate, h) > threshold {
			return true
		}
	}
	return false
}

// Gate applies a fixed threshold and records the observed ratios.
type Gate struct {
	threshold float64
	metrics   *observability.Metrics
}

// NewGate creates a gate. A non-positive threshold selects DefaultThreshold.
func NewGate(threshold float64, metrics *observability.Metrics) *Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Gate{threshold: threshold, metrics: metrics}
}

// Threshold returns the configured threshold.
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// Check returns whether candidate must be rejected and the highest ratio
// seen against history.
func (g *Gate) Check(candidate string, history []string) (bool, float64) {
	ratio := MaxRatio(candidate, history)
	if len(history) > 0 {
		g.metrics.ObserveSimilarity(ratio)
	}
	return ratio > g.threshold, ratio
}
