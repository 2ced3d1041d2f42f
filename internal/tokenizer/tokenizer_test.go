package tokenizer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestHeuristicCount(t *testing.T) {
	e := Heuristic()
	assert.False(t, e.Precise())
	assert.Equal(t, 0, e.Count(""))
	assert.Equal(t, 0, e.Count("abc"))
	assert.Equal(t, 25, e.Count(strings.Repeat("a", 100)))
	// characters, not bytes
	assert.Equal(t, 2, e.Count("héllo wörld"))
}

func TestUnknownModelFallsBack(t *testing.T) {
	for _, model := range []string{"definitely-not-a-model", "mistralai/mistral-small-3.2-24b-instruct:free"} {
		e := NewEstimator(model, zerolog.Nop())
		assert.False(t, e.Precise(), model)
		assert.Equal(t, 12, e.Count(strings.Repeat("x", 50)))
	}
}

func TestChunkBasics(t *testing.T) {
	assert.Nil(t, Chunk("", 10))
	assert.Nil(t, Chunk("   \n\t ", 10))
	assert.Equal(t, []string{"one two", "three"}, Chunk("one two three", 10))
	assert.Equal(t, []string{"a", "supercalifragilistic", "b"}, Chunk("a supercalifragilistic b", 5))
	assert.Equal(t, []string{"alpha beta gamma"}, Chunk("  alpha\n\nbeta   gamma ", 100))
}

func TestChunkProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	wordGen := gen.AlphaString().Map(func(s string) string { return "w" + s })
	textGen := gen.SliceOf(wordGen).Map(func(ws []string) string {
		return "lead " + strings.Join(ws, " \n ")
	})

	properties.Property("non-empty input yields at least one chunk", prop.ForAll(
		func(text string, max int) bool {
			return len(Chunk(text, max)) >= 1
		},
		textGen, gen.IntRange(1, 80),
	))

	properties.Property("re-joining preserves the word sequence", prop.ForAll(
		func(text string, max int) bool {
			joined := strings.Join(Chunk(text, max), " ")
			return joined == strings.Join(strings.Fields(text), " ")
		},
		textGen, gen.IntRange(1, 80),
	))

	properties.Property("chunks respect the limit unless a single word exceeds it", prop.ForAll(
		func(text string, max int) bool {
			for _, c := range Chunk(text, max) {
				if utf8.RuneCountInString(c) > max && len(strings.Fields(c)) != 1 {
					return false
				}
			}
			return true
		},
		textGen, gen.IntRange(1, 80),
	))

	properties.TestingRun(t)
}
