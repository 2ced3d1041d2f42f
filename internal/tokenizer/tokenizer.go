// Package tokenizer estimates token counts for backend budgeting and splits
// long text into bounded chunks.
package tokenizer

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
)

// CharsPerToken is the fallback ratio used when no encoding is available.
const CharsPerToken = 4

// Estimator counts tokens with a tiktoken encoding when the configured model
// has one, and with the CharsPerToken heuristic otherwise. Count never fails.
type Estimator struct {
	model string
	enc   *tiktoken.Tiktoken
}

// NewEstimator resolves the encoding for model. Resolution failures (unknown
// model, encoding files unreachable) select the heuristic.
func NewEstimator(model string, logger zerolog.Logger) *Estimator {
	e := &Estimator{model: model}
	if model == "" {
		return e
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		logger.Warn().Err(err).Str("model", model).Msg("tokenizer unavailable, estimating by characters")
		return e
	}
	e.enc = enc
	return e
}

// Heuristic returns an estimator that only uses the character ratio.
func Heuristic() *Estimator {
	return &Estimator{}
}

// Precise reports whether a real encoding backs the estimator.
func (e *Estimator) Precise() bool {
	return e.enc != nil
}

// Count returns the estimated token count of text.
func (e *Estimator) Count(text string) int {
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return utf8.RuneCountInString(text) / CharsPerToken
}

// Chunk splits text on whitespace and greedily packs words into chunks of at
// most maxChars characters, counting one separator per word. A word longer
// than maxChars gets a chunk of its own. Empty input yields no chunks.
func Chunk(text string, maxChars int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	size := 0
	for _, w := range words {
		wordSize := utf8.RuneCountInString(w) + 1
		if size+wordSize > maxChars && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			size = 0
		}
		current = append(current, w)
		size += wordSize
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
