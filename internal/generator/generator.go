// Package generator turns reduced document content into a social media post
// through the generation backend.
package generator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/postgate/postgate/internal/backend"
	"github.com/postgate/postgate/internal/config"
	pgerrors "github.com/postgate/postgate/internal/errors"
)

const instructionTemplate = `Write a social media post in a %s tone about the document below.

1) VOICE
- Write in the first person, as someone who just read the document and wants to share it.
- Keep it conversational and add one or two personal reflections on why it matters.

2) SHAPE
- Aim for 1300 to 2000 characters.
- Open with a hook that makes people stop scrolling.
- Follow with two or three short paragraphs and include one or two concrete facts or numbers from the document.
- Close with a question or a call to action that invites replies.

3) SUBSTANCE
- Mention the authors and the publication date when the document states them.
- Highlight one to three takeaways a practitioner could use.

4) ATTRIBUTION AND FORMAT
- Use between one and three emojis.
- End with the line "Based on work by [Authors] ([Publication Date])" followed by a few relevant hashtags such as #llm.
- Output only the post. Do not describe what you are doing or comment on these instructions.`

// TokenCounter estimates token counts.
type TokenCounter interface {
	Count(text string) int
}

// Options configures a Generator.
type Options struct {
	Model           string
	BaseTemperature float64
	TemperatureStep float64
	TopP            float64
	MaxTokens       int

	MinContentChars  int
	MinContentTokens int
}

// OptionsFromConfig maps the generation section onto Options.
func OptionsFromConfig(cfg config.GenerationConfig, model string) Options {
	return Options{
		Model:            model,
		BaseTemperature:  cfg.BaseTemperature,
		TemperatureStep:  cfg.TemperatureStep,
		TopP:             cfg.TopP,
		MaxTokens:        cfg.MaxTokens,
		MinContentChars:  cfg.MinContentChars,
		MinContentTokens: cfg.MinContentTokens,
	}
}

// Attempt is one generation attempt within a request.
type Attempt struct {
	Index       int
	Temperature float64
	Text        string
	Accepted    bool
}

// Generator builds prompts and calls the backend.
type Generator struct {
	client  backend.ChatClient
	counter TokenCounter
	opts    Options
	logger  zerolog.Logger
}

// New creates a Generator.
func New(client backend.ChatClient, counter TokenCounter, opts Options, logger zerolog.Logger) *Generator {
	return &Generator{client: client, counter: counter, opts: opts, logger: logger}
}

// Instruction returns the system instruction for tone. Any tone string is
// accepted and interpolated verbatim.
func Instruction(tone string) string {
	return fmt.Sprintf(instructionTemplate, tone)
}

// InstructionTokens estimates the instruction size for budgeting.
func (g *Generator) InstructionTokens(tone string) int {
	return g.counter.Count(Instruction(tone))
}

// Temperature returns the sampling temperature for attempt.
func (g *Generator) Temperature(attempt int) float64 {
	return g.opts.BaseTemperature + g.opts.TemperatureStep*float64(attempt)
}

// CheckContent refuses content below the minimum character or token count.
func (g *Generator) CheckContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return pgerrors.NewInputError(pgerrors.CodeEmptyContent, "no usable content")
	}
	chars := utf8.RuneCountInString(trimmed)
	tokens := g.counter.Count(trimmed)
	if chars < g.opts.MinContentChars || tokens < g.opts.MinContentTokens {
		return pgerrors.NewInputError(pgerrors.CodeContentTooShort, "content too short to generate a post").
			WithDetails(map[string]interface{}{"chars": chars, "tokens": tokens})
	}
	return nil
}

// Generate produces the candidate post for attempt from already reduced
// content. The length minimum belongs to the raw document (CheckContent), so
// only blank content is refused here.
func (g *Generator) Generate(ctx context.Context, content, tone string, attempt int) (Attempt, error) {
	a := Attempt{Index: attempt, Temperature: g.Temperature(attempt)}
	if strings.TrimSpace(content) == "" {
		return a, pgerrors.NewInputError(pgerrors.CodeEmptyContent, "no usable content")
	}

	resp, err := g.client.Complete(ctx, backend.ChatRequest{
		Purpose: backend.PurposeGeneration,
		Model:   g.opts.Model,
		Messages: []backend.Message{
			{Role: backend.RoleSystem, Content: Instruction(tone)},
			{Role: backend.RoleUser, Content: "Document content:\n" + content},
		},
		Temperature: a.Temperature,
		TopP:        g.opts.TopP,
		MaxTokens:   g.opts.MaxTokens,
	})
	if err != nil {
		return a, err
	}

	a.Text = cleanOutput(resp.Content)
	if a.Text == "" {
		return a, pgerrors.NewBackendError(pgerrors.CodeEmptyCompletion, "generation returned empty content", nil)
	}
	g.logger.Debug().
		Int("attempt", attempt).
		Float64("temperature", a.Temperature).
		Int("length", utf8.RuneCountInString(a.Text)).
		Msg("candidate generated")
	return a, nil
}

// cleanOutput strips surrounding whitespace and a markdown code fence the
// model sometimes wraps the post in.
func cleanOutput(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(strings.TrimSpace(s[:i]), " \t") {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
