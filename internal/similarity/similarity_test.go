package similarity

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestRatio(t *testing.T) {
	assert.Equal(t, 1.0, Ratio("", ""))
	assert.Equal(t, 1.0, Ratio("same post", "same post"))
	assert.Equal(t, 0.0, Ratio("aaaa", "bbbb"))
	// 2*M/T with M=3 matching characters out of T=8
	assert.InDelta(t, 0.75, Ratio("abcd", "bcde"), 1e-9)
}

func TestIsTooSimilar(t *testing.T) {
	history := []string{
		"Just finished a paper on sparse attention. The results surprised me.",
		"Retrieval beats scale for factual recall, at least in this benchmark.",
	}
	assert.True(t, IsTooSimilar(history[0], history, DefaultThreshold))
	assert.True(t, IsTooSimilar("Just finished a paper on sparse attention. The results surprised us.", history, DefaultThreshold))
	assert.False(t, IsTooSimilar("Quantum error correction crossed a milestone this week!", history, DefaultThreshold))
	assert.False(t, IsTooSimilar("anything", nil, DefaultThreshold))
}

func TestGate(t *testing.T) {
	g := NewGate(0, nil)
	assert.Equal(t, DefaultThreshold, g.Threshold())

	reject, ratio := g.Check("hello world", []string{"hello world"})
	assert.True(t, reject)
	assert.Equal(t, 1.0, ratio)

	reject, ratio = g.Check("hello world", nil)
	assert.False(t, reject)
	assert.Equal(t, 0.0, ratio)

	relaxed := NewGate(0.7, nil)
	reject, _ = relaxed.Check("abcdefghij", []string{"abcdefgxyz"})
	assert.False(t, reject)
}

func TestSimilarityProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	text := gen.SliceOf(gen.AlphaString()).Map(func(ws []string) string {
		return "post " + strings.Join(ws, " ")
	})

	properties.Property("a post is too similar to itself", prop.ForAll(
		func(x string) bool {
			return IsTooSimilar(x, []string{x}, DefaultThreshold)
		},
		text,
	))

	properties.Property("empty history never rejects", prop.ForAll(
		func(x string, threshold float64) bool {
			return !IsTooSimilar(x, nil, threshold)
		},
		text, gen.Float64Range(0, 1),
	))

	properties.Property("raising the threshold never adds a rejection", prop.ForAll(
		func(x, h string, lo, delta float64) bool {
			hi := lo + delta
			if IsTooSimilar(x, []string{h}, hi) {
				return IsTooSimilar(x, []string{h}, lo)
			}
			return true
		},
		text, text, gen.Float64Range(0, 1), gen.Float64Range(0, 1),
	))

	properties.Property("ratio stays in the unit interval", prop.ForAll(
		func(a, b string) bool {
			r := Ratio(a, b)
			return r >= 0 && r <= 1
		},
		text, text,
	))

	properties.TestingRun(t)
}
