package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postgate/postgate/internal/analytics"
	"github.com/postgate/postgate/internal/backend"
	"github.com/postgate/postgate/internal/config"
	pgerrors "github.com/postgate/postgate/internal/errors"
	"github.com/postgate/postgate/internal/generator"
	"github.com/postgate/postgate/internal/pii"
	"github.com/postgate/postgate/internal/reducer"
	"github.com/postgate/postgate/internal/similarity"
	"github.com/postgate/postgate/internal/storage"
	"github.com/postgate/postgate/internal/tokenizer"
	"github.com/postgate/postgate/pkg/types"
)

// The document avoids digits and honorifics so no recognizer fires.
var docText = strings.Repeat("Researchers describe a new way to compress long documents while keeping the key arguments intact. ", 6)

const historyPost = "Just read a fascinating study on compressing long documents without losing the argument. The authors keep every key claim while cutting length sharply. Would you trust a compressed paper? #llm"

const novelPost = "🚀 Quantum sensors are leaving the lab! A new field trial shows portable magnetometers mapping underground pipes with surprising accuracy. What would you measure first? #physics"

type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(1500 * time.Millisecond)
	return c.t
}

type fixture struct {
	pipeline *Pipeline
	client   *backend.ScriptedClient
	store    *analytics.Store
}

type fixtureOptions struct {
	acceptFirst bool
	budget      config.BudgetConfig
	events      EventLog
}

func defaultBudget() config.BudgetConfig {
	return config.BudgetConfig{
		MaxTotalTokens:         32000,
		ReservedResponseTokens: 3000,
		SummaryInputChars:      80000,
		SummaryMaxTokens:       4000,
		SummaryTemperature:     0.5,
		FallbackPrefixChars:    1000,
	}
}

func newFixture(t *testing.T, fo fixtureOptions, steps ...backend.Step) *fixture {
	t.Helper()
	if fo.budget.MaxTotalTokens == 0 {
		fo.budget = defaultBudget()
	}

	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	clock := &tickClock{t: time.Date(2025, 6, 2, 9, 0, 0, 0, time.Local)}
	store, err := analytics.NewStore(local, analytics.Options{
		Layout: config.LayoutPerEvent,
		Prefix: "analytics_logs",
		Now:    clock.Now,
	}, zerolog.Nop())
	require.NoError(t, err)

	client := backend.NewScriptedClient(steps...)
	est := tokenizer.Heuristic()
	detector, err := pii.NewDetectorFromConfig(config.PIIConfig{
		Policy:            config.PolicyEnhanced,
		Threshold:         0.8,
		EnhancedThreshold: 0.65,
	}, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	gen := generator.New(client, est, generator.Options{
		Model:            "gen-model",
		BaseTemperature:  0.7,
		TemperatureStep:  0.1,
		TopP:             0.85,
		MaxTokens:        3000,
		MinContentChars:  300,
		MinContentTokens: 100,
	}, zerolog.Nop())
	red := reducer.New(est, client, reducer.Options{Budget: fo.budget, SummaryModel: "summary-model"}, zerolog.Nop())

	var events EventLog = store
	if fo.events != nil {
		events = fo.events
	}
	p := New(Deps{
		Detector:  detector,
		Reducer:   red,
		Generator: gen,
		Gate:      similarity.NewGate(0.85, nil),
		Events:    events,
	}, Options{
		MaxAttempts:        5,
		AcceptFirstAttempt: fo.acceptFirst,
		HistorySize:        10,
		Budget:             fo.budget,
	}, zerolog.Nop())

	return &fixture{pipeline: p, client: client, store: store}
}

func (f *fixture) seedHistory(t *testing.T, posts ...string) {
	t.Helper()
	for _, post := range posts {
		_, err := f.store.Log(context.Background(), types.EventGeneration, types.Metadata{"tone": "seed"}, post)
		require.NoError(t, err)
	}
}

func (f *fixture) generations(t *testing.T) []string {
	t.Helper()
	got, err := f.store.ReadRecent(context.Background(), types.EventGeneration, 100)
	require.NoError(t, err)
	return got
}

func TestProcess_TooShortMakesNoBackendCall(t *testing.T) {
	f := newFixture(t, fixtureOptions{}, backend.Reply("unused"))
	text := "A short note about a paper that I liked very much."
	require.Equal(t, 50, len(text))

	res := f.pipeline.Process(context.Background(), Request{Text: text, Tone: "casual"})

	assert.Equal(t, StatusInputError, res.Status)
	assert.Equal(t, advisoryTooShort, res.Text)
	assert.Empty(t, f.client.Calls())
	assert.Empty(t, f.generations(t))
	assert.NotEmpty(t, res.RequestID)
}

func TestProcess_SSNShortCircuits(t *testing.T) {
	for _, ssn := range []string{"536-22-8704", "123-45-6789", "987-65-4321"} {
		t.Run(ssn, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{}, backend.Reply("unused"))
			text := docText + "The applicant reference is " + ssn + " in the annex."

			res := f.pipeline.Process(context.Background(), Request{Text: text, Tone: "casual"})

			assert.Equal(t, StatusRejectedPII, res.Status)
			assert.Equal(t, []string{"US_SSN"}, res.EntityTypes)
			assert.Contains(t, res.Text, "US_SSN")
			assert.Contains(t, res.Text, "1 instances")
			assert.Empty(t, f.client.Calls())
			assert.Empty(t, f.generations(t))
		})
	}
}

func TestProcess_ExhaustedWhenEveryAttemptRepeatsHistory(t *testing.T) {
	steps := make([]backend.Step, 5)
	for i := range steps {
		steps[i] = backend.Reply(historyPost)
	}
	f := newFixture(t, fixtureOptions{}, steps...)
	f.seedHistory(t, historyPost)

	res := f.pipeline.Process(context.Background(), Request{Text: docText, Tone: "professional"})

	assert.Equal(t, StatusExhausted, res.Status)
	assert.Equal(t, 5, res.Attempts)
	assert.Contains(t, res.Text, "5 attempts")
	assert.Len(t, f.client.CallsFor(backend.PurposeGeneration), 5)
	assert.Equal(t, []string{historyPost}, f.generations(t))

	calls := f.client.Calls()
	for i, c := range calls {
		assert.InDelta(t, 0.7+0.1*float64(i), c.Temperature, 1e-9)
	}
}

func TestProcess_NovelPostAcceptedOnFirstAttempt(t *testing.T) {
	f := newFixture(t, fixtureOptions{}, backend.Reply(novelPost))
	f.seedHistory(t, historyPost)

	res := f.pipeline.Process(context.Background(), Request{Text: docText, Tone: "professional", Version: "v2"})

	require.Equal(t, StatusAccepted, res.Status)
	assert.Equal(t, novelPost, res.Text)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, reducer.StrategyRaw, res.Strategy)
	assert.Less(t, res.Similarity, 0.85)
	assert.Equal(t, []string{novelPost, historyPost}, f.generations(t))

	events, err := f.store.Recent(context.Background(), func(ev types.AnalyticsEvent) bool {
		return ev.Type == types.EventGeneration
	}, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	md := events[0].Metadata
	assert.EqualValues(t, utf8.RuneCountInString(novelPost), md["length"])
	assert.EqualValues(t, 0, md["attempt"])
	assert.Equal(t, "professional", md["tone"])
	assert.Equal(t, "v2", md["version"])
	assert.Equal(t, "raw", md["strategy"])
	assert.Equal(t, res.RequestID, md["request_id"])
}

func TestProcess_RetriesUntilUnique(t *testing.T) {
	f := newFixture(t, fixtureOptions{}, backend.Reply(historyPost), backend.Reply(novelPost))
	f.seedHistory(t, historyPost)

	res := f.pipeline.Process(context.Background(), Request{Text: docText, Tone: "casual"})

	require.Equal(t, StatusAccepted, res.Status)
	assert.Equal(t, 2, res.Attempts)
	calls := f.client.Calls()
	require.Len(t, calls, 2)
	assert.InDelta(t, 0.8, calls[1].Temperature, 1e-9)
}

func TestProcess_AcceptFirstAttemptIgnoresSimilarity(t *testing.T) {
	f := newFixture(t, fixtureOptions{acceptFirst: true}, backend.Reply(historyPost))
	f.seedHistory(t, historyPost)

	res := f.pipeline.Process(context.Background(), Request{Text: docText, Tone: "casual"})

	assert.Equal(t, StatusAccepted, res.Status)
	assert.Equal(t, 1.0, res.Similarity)
	assert.Len(t, f.generations(t), 2)
}

func TestProcess_BackendErrorIsNotRetried(t *testing.T) {
	f := newFixture(t, fixtureOptions{},
		backend.Step{Err: pgerrors.NewBackendError(pgerrors.CodeBadStatus, "chat completion returned status 502", nil)},
		backend.Reply(novelPost))

	res := f.pipeline.Process(context.Background(), Request{Text: docText, Tone: "casual"})

	assert.Equal(t, StatusBackendError, res.Status)
	assert.Equal(t, "Error generating social media post: chat completion returned status 502", res.Text)
	assert.Len(t, f.client.Calls(), 1)
	assert.Empty(t, f.generations(t))
}

func TestProcess_EmptyCompletionAdvisory(t *testing.T) {
	f := newFixture(t, fixtureOptions{}, backend.Reply("   "))

	res := f.pipeline.Process(context.Background(), Request{Text: docText, Tone: "casual"})

	assert.Equal(t, StatusBackendError, res.Status)
	assert.Equal(t, advisoryNoOutput, res.Text)
}

func TestProcess_SentinelAndEmptyInput(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	res := f.pipeline.Process(context.Background(), Request{Text: "No PDF file uploaded."})
	assert.Equal(t, StatusInputError, res.Status)
	assert.Equal(t, "No PDF file uploaded.", res.Text)

	res = f.pipeline.Process(context.Background(), Request{Text: "  \n "})
	assert.Equal(t, StatusInputError, res.Status)
	assert.Equal(t, advisoryEmpty, res.Text)
	assert.Empty(t, f.client.Calls())
}

func TestProcess_SummarizesLargeDocuments(t *testing.T) {
	budget := defaultBudget()
	budget.MaxTotalTokens = 2000
	budget.ReservedResponseTokens = 300
	f := newFixture(t, fixtureOptions{budget: budget}, backend.Reply(strings.Repeat("A compact summary of the compression paper and its main claims. ", 8)), backend.Reply(novelPost))

	res := f.pipeline.Process(context.Background(), Request{Text: strings.Repeat(docText, 25), Tone: "casual"})

	require.Equal(t, StatusAccepted, res.Status)
	assert.Equal(t, reducer.StrategySummarize, res.Strategy)
	require.Len(t, f.client.CallsFor(backend.PurposeSummary), 1)
	gen := f.client.CallsFor(backend.PurposeGeneration)
	require.Len(t, gen, 1)
	assert.Contains(t, gen[0].Messages[1].Content, "A compact summary")
}

func TestProcess_ShortSummaryIsNotRefusedAsTooShort(t *testing.T) {
	budget := defaultBudget()
	budget.MaxTotalTokens = 2000
	budget.ReservedResponseTokens = 300
	summary := "Compression keeps key arguments while cutting long documents sharply."
	f := newFixture(t, fixtureOptions{budget: budget}, backend.Reply(summary), backend.Reply(novelPost))

	doc := strings.Repeat(docText, 25)
	require.Greater(t, len(doc), 14000)
	res := f.pipeline.Process(context.Background(), Request{Text: doc, Tone: "casual"})

	require.Equal(t, StatusAccepted, res.Status, res.Text)
	assert.Equal(t, reducer.StrategySummarize, res.Strategy)
	gen := f.client.CallsFor(backend.PurposeGeneration)
	require.Len(t, gen, 1)
	assert.Contains(t, gen[0].Messages[1].Content, summary)
}

type brokenEvents struct {
	logged int
}

func (b *brokenEvents) Log(context.Context, types.EventType, types.Metadata, string) (types.AnalyticsEvent, error) {
	b.logged++
	return types.AnalyticsEvent{}, pgerrors.NewStorageError(pgerrors.CodeWriteFailed, "disk full", errors.New("ENOSPC"))
}

func (b *brokenEvents) ReadRecent(context.Context, types.EventType, int) ([]string, error) {
	return nil, pgerrors.NewStorageError(pgerrors.CodeReadFailed, "listing failed", nil)
}

func TestProcess_AnalyticsFailuresAreNotFatal(t *testing.T) {
	events := &brokenEvents{}
	f := newFixture(t, fixtureOptions{events: events}, backend.Reply(novelPost))

	res := f.pipeline.Process(context.Background(), Request{Text: docText, Tone: "casual"})

	assert.Equal(t, StatusAccepted, res.Status)
	assert.Equal(t, novelPost, res.Text)
	assert.Equal(t, 1, events.logged)
}

func TestRecordFeedback_AppendsEveryTime(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	fb := Feedback{Post: novelPost, Rating: 4, Comment: "nice", Version: "v2"}

	_, err := f.pipeline.RecordFeedback(context.Background(), fb)
	require.NoError(t, err)
	_, err = f.pipeline.RecordFeedback(context.Background(), fb)
	require.NoError(t, err)

	got, err := f.store.ReadRecent(context.Background(), types.EventFeedback, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{novelPost, novelPost}, got)
	assert.Empty(t, f.generations(t))

	_, err = f.pipeline.RecordFeedback(context.Background(), Feedback{Rating: 1})
	assert.Equal(t, pgerrors.CodeMissingInput, pgerrors.GetCode(err))
}

func TestAdvisory(t *testing.T) {
	assert.Equal(t, "", Advisory(nil))
	assert.Equal(t, advisoryTooShort, Advisory(pgerrors.NewInputError(pgerrors.CodeContentTooShort, "x")))
	assert.Equal(t, advisoryEmpty, Advisory(pgerrors.NewInputError(pgerrors.CodeExtractFailed, "x")))
	assert.Equal(t, advisoryUnavailable, Advisory(pgerrors.NewBackendError(pgerrors.CodeTimeout, "x", nil)))
	assert.Contains(t, Advisory(pgerrors.NewExhaustedError(3)), "3 attempts")
	assert.Equal(t, "Error generating social media post: boom", Advisory(errors.New("boom")))
}
