// Package reducer fits document text into the generation token budget by
// passing it through, truncating it or summarizing it.
package reducer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/postgate/postgate/internal/backend"
	"github.com/postgate/postgate/internal/cache"
	"github.com/postgate/postgate/internal/config"
	pgerrors "github.com/postgate/postgate/internal/errors"
	"github.com/postgate/postgate/internal/observability"
	"github.com/postgate/postgate/internal/tokenizer"
)

// Strategy names the reduction that was applied.
type Strategy string

const (
	StrategyRaw             Strategy = "raw"
	StrategyTruncate        Strategy = "truncate"
	StrategySummarize       Strategy = "summarize"
	StrategySummaryFallback Strategy = "summary_fallback"
)

const summarySystemPrompt = `Summarize the following document. Extract its key points, main arguments and the details that matter most: findings, figures, names of methods and the authors' conclusions.
The summary will be used to write a social media post about the document, so keep what a reader would find interesting and drop boilerplate such as references, acknowledgements and formatting artifacts.`

// TokenCounter estimates token counts.
type TokenCounter interface {
	Count(text string) int
}

// Budget is the per-request token budget.
type Budget struct {
	InstructionTokens      int
	MaxTotalTokens         int
	ReservedResponseTokens int
}

// NewBudget derives the budget for an instruction of instructionTokens.
func NewBudget(instructionTokens int, cfg config.BudgetConfig) Budget {
	return Budget{
		InstructionTokens:      instructionTokens,
		MaxTotalTokens:         cfg.MaxTotalTokens,
		ReservedResponseTokens: cfg.ReservedResponseTokens,
	}
}

// Available returns the tokens left for document content.
func (b Budget) Available() int {
	return b.MaxTotalTokens - b.InstructionTokens - b.ReservedResponseTokens
}

// Result is the reduced content.
type Result struct {
	Content  string
	Strategy Strategy
	// Tokens is the estimate for the original text.
	Tokens int
}

// Options configures a Reducer.
type Options struct {
	Budget       config.BudgetConfig
	SummaryModel string
	Cache        *cache.SummaryCache
	Metrics      *observability.Metrics
}

// Reducer picks and applies one reduction strategy per request.
type Reducer struct {
	counter TokenCounter
	client  backend.ChatClient
	opts    Options
	logger  zerolog.Logger
}

// New creates a Reducer. client serves summarization calls.
func New(counter TokenCounter, client backend.ChatClient, opts Options, logger zerolog.Logger) *Reducer {
	return &Reducer{counter: counter, client: client, opts: opts, logger: logger}
}

// Reduce returns text unchanged when it fits the budget, its first chunk when
// it fits twice over, and a backend summary otherwise. A failed summary
// falls back to a fixed-length prefix. Blank output is an EMPTY_CONTENT input
// error.
func (r *Reducer) Reduce(ctx context.Context, text string, budget Budget) (Result, error) {
	available := budget.Available()
	if available <= 0 {
		return Result{}, pgerrors.NewConfigError(fmt.Sprintf("token budget leaves no room for content (available %d)", available))
	}

	tokens := r.counter.Count(text)
	res := Result{Tokens: tokens}

	switch {
	case tokens <= available:
		res.Content = text
		res.Strategy = StrategyRaw
	case tokens < 2*available:
		chunks := tokenizer.Chunk(text, available)
		if len(chunks) > 0 {
			res.Content = chunks[0]
		}
		res.Strategy = StrategyTruncate
	default:
		summary, err := r.summarize(ctx, text)
		if err != nil {
			r.logger.Warn().Err(err).
				Int("tokens", tokens).
				Int("fallback_chars", r.opts.Budget.FallbackPrefixChars).
				Msg("summarization failed, using document prefix")
			res.Content = prefix(text, r.opts.Budget.FallbackPrefixChars)
			res.Strategy = StrategySummaryFallback
		} else {
			res.Content = summary
			res.Strategy = StrategySummarize
		}
	}

	r.opts.Metrics.ObserveReduction(string(res.Strategy))
	r.logger.Debug().
		Str("strategy", string(res.Strategy)).
		Int("tokens", tokens).
		Int("available", available).
		Msg("content reduced")

	if strings.TrimSpace(res.Content) == "" {
		return res, pgerrors.NewInputError(pgerrors.CodeEmptyContent, "no usable content after reduction")
	}
	return res, nil
}

func (r *Reducer) summarize(ctx context.Context, text string) (string, error) {
	input := prefix(text, r.opts.Budget.SummaryInputChars)
	key := cache.Key(r.opts.SummaryModel, input)
	if r.opts.Cache != nil {
		if s, ok := r.opts.Cache.Get(key); ok {
			return s, nil
		}
	}

	resp, err := r.client.Complete(ctx, backend.ChatRequest{
		Purpose: backend.PurposeSummary,
		Model:   r.opts.SummaryModel,
		Messages: []backend.Message{
			{Role: backend.RoleSystem, Content: summarySystemPrompt},
			{Role: backend.RoleUser, Content: input},
		},
		Temperature: r.opts.Budget.SummaryTemperature,
		MaxTokens:   r.opts.Budget.SummaryMaxTokens,
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", pgerrors.NewBackendError(pgerrors.CodeEmptyCompletion, "summary was empty", nil)
	}

	if r.opts.Cache != nil {
		r.opts.Cache.Put(key, summary)
	}
	return summary, nil
}

// prefix returns the first n runes of s.
func prefix(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
