// Package pipeline runs one post generation request end to end: PII gate,
// content reduction, generation attempts under the similarity gate and the
// analytics append for the accepted post.
package pipeline

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/postgate/postgate/internal/config"
	pgerrors "github.com/postgate/postgate/internal/errors"
	"github.com/postgate/postgate/internal/generator"
	"github.com/postgate/postgate/internal/observability"
	"github.com/postgate/postgate/internal/pii"
	"github.com/postgate/postgate/internal/reducer"
	"github.com/postgate/postgate/internal/similarity"
	"github.com/postgate/postgate/pkg/types"
)

// Status is the terminal state of a request.
type Status string

const (
	StatusAccepted     Status = "accepted"
	StatusInputError   Status = "input_error"
	StatusRejectedPII  Status = "rejected_pii"
	StatusContentError Status = "content_error"
	StatusBackendError Status = "backend_error"
	StatusExhausted    Status = "exhausted"
)

// sentinelPrefixes mark extraction failures passed through as text.
var sentinelPrefixes = []string{"Error", "No PDF", "No text"}

// Detector finds personal data.
type Detector interface {
	Detect(ctx context.Context, text string) []pii.Finding
}

// EventLog is the analytics store as seen by the pipeline.
type EventLog interface {
	Log(ctx context.Context, eventType types.EventType, metadata types.Metadata, content string) (types.AnalyticsEvent, error)
	ReadRecent(ctx context.Context, eventType types.EventType, limit int) ([]string, error)
}

// Request is one generation request. RequestID is generated when empty.
type Request struct {
	Text      string
	Tone      string
	Version   string
	RequestID string
}

// Result is what the caller sees. Text holds the post when Status is
// accepted and the advisory otherwise.
type Result struct {
	Status      Status           `json:"status"`
	Text        string           `json:"text"`
	Attempts    int              `json:"attempts"`
	Strategy    reducer.Strategy `json:"strategy,omitempty"`
	RequestID   string           `json:"request_id"`
	Similarity  float64          `json:"similarity,omitempty"`
	EntityTypes []string         `json:"entity_types,omitempty"`
}

// Options holds the request-level knobs.
type Options struct {
	MaxAttempts        int
	AcceptFirstAttempt bool
	HistorySize        int
	Budget             config.BudgetConfig
}

// Pipeline wires the components together. It holds no per-request state and
// is safe for concurrent use.
type Pipeline struct {
	detector  Detector
	reducer   *reducer.Reducer
	generator *generator.Generator
	gate      *similarity.Gate
	events    EventLog
	opts      Options
	metrics   *observability.Metrics
	stats     *observability.OutcomeStats
	logger    zerolog.Logger
}

// Deps are the collaborators of a Pipeline. Metrics and Stats may be nil.
type Deps struct {
	Detector  Detector
	Reducer   *reducer.Reducer
	Generator *generator.Generator
	Gate      *similarity.Gate
	Events    EventLog
	Metrics   *observability.Metrics
	Stats     *observability.OutcomeStats
}

// New creates a Pipeline.
func New(deps Deps, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.HistorySize < 0 {
		opts.HistorySize = 0
	}
	return &Pipeline{
		detector:  deps.Detector,
		reducer:   deps.Reducer,
		generator: deps.Generator,
		gate:      deps.Gate,
		events:    deps.Events,
		opts:      opts,
		metrics:   deps.Metrics,
		stats:     deps.Stats,
		logger:    logger,
	}
}

// Process runs the request. It never returns an error: every failure is a
// Result with a non-accepted status and a user-facing advisory.
func (p *Pipeline) Process(ctx context.Context, req Request) Result {
	res := p.process(ctx, req)
	p.metrics.ObserveRequest(string(res.Status))
	if p.stats != nil {
		p.stats.RecordOutcome(string(res.Status), string(res.Strategy))
	}
	return res
}

func (p *Pipeline) process(ctx context.Context, req Request) Result {
	res := Result{RequestID: req.RequestID}
	if res.RequestID == "" {
		res.RequestID = uuid.NewString()
	}
	logger := p.logger.With().Str("request_id", res.RequestID).Logger()

	if strings.TrimSpace(req.Text) == "" {
		return fail(res, StatusInputError, pgerrors.NewInputError(pgerrors.CodeMissingInput, "no document text"), logger)
	}
	for _, prefix := range sentinelPrefixes {
		if strings.HasPrefix(req.Text, prefix) {
			logger.Info().Str("sentinel", prefix).Msg("extraction failure passed as text")
			res.Status = StatusInputError
			res.Text = req.Text
			return res
		}
	}

	findings := p.detector.Detect(ctx, req.Text)
	if len(findings) > 0 {
		res.Status = StatusRejectedPII
		res.Text = pii.Advisory(findings)
		res.EntityTypes = pii.EntityTypes(findings)
		if p.stats != nil {
			for _, t := range res.EntityTypes {
				p.stats.RecordEntity(t)
			}
		}
		logger.Info().
			Int("findings", len(findings)).
			Strs("entity_types", res.EntityTypes).
			Msg("request rejected for personal data")
		return res
	}

	if err := p.generator.CheckContent(req.Text); err != nil {
		return fail(res, StatusInputError, err, logger)
	}

	budget := reducer.NewBudget(p.generator.InstructionTokens(req.Tone), p.opts.Budget)
	reduced, err := p.reducer.Reduce(ctx, req.Text, budget)
	if err != nil {
		return fail(res, StatusContentError, err, logger)
	}
	res.Strategy = reduced.Strategy
	logger = logger.With().Str("strategy", string(reduced.Strategy)).Logger()

	history, err := p.events.ReadRecent(ctx, types.EventGeneration, p.opts.HistorySize)
	if err != nil {
		logger.Warn().Err(err).Msg("history unavailable, checking against empty history")
		history = nil
	}

	for i := 0; i < p.opts.MaxAttempts; i++ {
		res.Attempts = i + 1
		attempt, err := p.generator.Generate(ctx, reduced.Content, req.Tone, i)
		if err != nil {
			p.metrics.ObserveAttempts(res.Attempts)
			status := StatusBackendError
			if pgerrors.GetCategory(err) == pgerrors.ErrCategoryInput {
				status = StatusContentError
			}
			return fail(res, status, err, logger.With().Int("attempt", i).Logger())
		}

		tooSimilar, ratio := p.gate.Check(attempt.Text, history)
		res.Similarity = ratio
		if tooSimilar && !(i == 0 && p.opts.AcceptFirstAttempt) {
			logger.Info().
				Int("attempt", i).
				Float64("similarity", ratio).
				Float64("temperature", attempt.Temperature).
				Msg("candidate rejected as too similar")
			continue
		}

		attempt.Accepted = true
		p.metrics.ObserveAttempts(res.Attempts)
		res.Status = StatusAccepted
		res.Text = attempt.Text
		p.recordGeneration(ctx, req, res, attempt, logger)
		return res
	}

	p.metrics.ObserveAttempts(res.Attempts)
	return fail(res, StatusExhausted, pgerrors.NewExhaustedError(res.Attempts), logger)
}

func (p *Pipeline) recordGeneration(ctx context.Context, req Request, res Result, attempt generator.Attempt, logger zerolog.Logger) {
	metadata := types.Metadata{
		"tone":        req.Tone,
		"version":     req.Version,
		"length":      utf8.RuneCountInString(res.Text),
		"attempt":     attempt.Index,
		"temperature": attempt.Temperature,
		"request_id":  res.RequestID,
		"strategy":    string(res.Strategy),
	}
	if _, err := p.events.Log(ctx, types.EventGeneration, metadata, res.Text); err != nil {
		p.metrics.ObserveAnalyticsFailure()
		logger.Error().Err(err).Msg("failed to append generation event")
		return
	}
	logger.Info().
		Int("attempt", attempt.Index).
		Float64("similarity", res.Similarity).
		Msg("post accepted")
}

func fail(res Result, status Status, err error, logger zerolog.Logger) Result {
	res.Status = status
	res.Text = Advisory(err)
	event := logger.Info()
	if status == StatusBackendError {
		event = logger.Warn()
	}
	event.Err(err).Str("status", string(status)).Msg("request finished without a post")
	return res
}

// Feedback is a user's reaction to a post.
type Feedback struct {
	Post    string `json:"post"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
	Version string `json:"version,omitempty"`
}

// RecordFeedback appends a feedback event whose content is the post.
func (p *Pipeline) RecordFeedback(ctx context.Context, fb Feedback) (types.AnalyticsEvent, error) {
	if strings.TrimSpace(fb.Post) == "" {
		return types.AnalyticsEvent{}, pgerrors.NewInputError(pgerrors.CodeMissingInput, "feedback needs the post text")
	}
	metadata := types.Metadata{
		"rating":  fb.Rating,
		"comment": fb.Comment,
		"version": fb.Version,
		"length":  utf8.RuneCountInString(fb.Post),
	}
	ev, err := p.events.Log(ctx, types.EventFeedback, metadata, fb.Post)
	if err != nil {
		p.metrics.ObserveAnalyticsFailure()
		return types.AnalyticsEvent{}, err
	}
	return ev, nil
}
