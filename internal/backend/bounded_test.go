package backend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgerrors "github.com/postgate/postgate/internal/errors"
	"github.com/postgate/postgate/internal/observability"
)

func TestBounded_TimeoutBecomesTimeoutError(t *testing.T) {
	slow := ClientFunc(func(ctx context.Context, req ChatRequest) (ChatResponse, error) {
		<-ctx.Done()
		return ChatResponse{}, errors.New("connection reset")
	})
	b := NewBounded(slow, BoundedOptions{Timeout: 20 * time.Millisecond, MaxConcurrency: 2}, zerolog.Nop())

	_, err := b.Complete(context.Background(), ChatRequest{Purpose: PurposeGeneration})
	require.Error(t, err)
	assert.Equal(t, pgerrors.CodeTimeout, pgerrors.GetCode(err))
}

func TestBounded_UncategorizedErrorIsRequestFailed(t *testing.T) {
	failing := ClientFunc(func(ctx context.Context, req ChatRequest) (ChatResponse, error) {
		return ChatResponse{}, errors.New("boom")
	})
	b := NewBounded(failing, BoundedOptions{Timeout: time.Second, MaxConcurrency: 1}, zerolog.Nop())

	_, err := b.Complete(context.Background(), ChatRequest{Purpose: PurposeSummary})
	require.Error(t, err)
	assert.Equal(t, pgerrors.ErrCategoryBackend, pgerrors.GetCategory(err))
	assert.Equal(t, pgerrors.CodeRequestFailed, pgerrors.GetCode(err))
}

func TestBounded_PassesThroughCategorizedErrors(t *testing.T) {
	inner := NewScriptedClient(Step{Err: pgerrors.NewBackendError(pgerrors.CodeBadStatus, "status 500", nil)})
	b := NewBounded(inner, BoundedOptions{Timeout: time.Second, MaxConcurrency: 1}, zerolog.Nop())

	_, err := b.Complete(context.Background(), ChatRequest{})
	assert.Equal(t, pgerrors.CodeBadStatus, pgerrors.GetCode(err))
}

func TestBounded_LimitsConcurrency(t *testing.T) {
	var inFlight, peak int32
	inner := ClientFunc(func(ctx context.Context, req ChatRequest) (ChatResponse, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return ChatResponse{Content: "ok"}, nil
	})
	b := NewBounded(inner, BoundedOptions{Timeout: 5 * time.Second, MaxConcurrency: 3}, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Complete(context.Background(), ChatRequest{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&peak), int32(1))
}

func TestBounded_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	inner := NewScriptedClient(Reply("hello"), Step{Err: pgerrors.NewBackendError(pgerrors.CodeEmptyCompletion, "empty", nil)})
	b := NewBounded(inner, BoundedOptions{Timeout: time.Second, MaxConcurrency: 1, Metrics: metrics}, zerolog.Nop())

	_, err := b.Complete(context.Background(), ChatRequest{Purpose: PurposeGeneration})
	require.NoError(t, err)
	_, err = b.Complete(context.Background(), ChatRequest{Purpose: PurposeGeneration})
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	assert.True(t, found["postgate_backend_request_duration_seconds"])
	assert.True(t, found["postgate_backend_errors_total"])
}

func TestScriptedClient_RecordsCalls(t *testing.T) {
	s := NewScriptedClient(Reply("one"), Reply("two"))
	ctx := context.Background()

	r1, err := s.Complete(ctx, ChatRequest{Purpose: PurposeSummary})
	require.NoError(t, err)
	r2, err := s.Complete(ctx, ChatRequest{Purpose: PurposeGeneration})
	require.NoError(t, err)
	_, err = s.Complete(ctx, ChatRequest{Purpose: PurposeGeneration})
	require.Error(t, err)

	assert.Equal(t, "one", r1.Content)
	assert.Equal(t, "two", r2.Content)
	assert.Len(t, s.Calls(), 3)
	assert.Len(t, s.CallsFor(PurposeGeneration), 2)
}

func TestEchoClient_ConfirmsEveryNumberedItem(t *testing.T) {
	e := NewEchoClient()
	resp, err := e.Complete(context.Background(), ChatRequest{
		Purpose:  PurposeVerification,
		Messages: []Message{{Role: RoleUser, Content: "Findings:\n1. EMAIL: a@b.co\n2. PHONE: 555 123 4567"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "1: CONFIRM\n2: CONFIRM", resp.Content)

	gen, err := e.Complete(context.Background(), ChatRequest{
		Purpose:     PurposeGeneration,
		Temperature: 0.9,
		Messages:    []Message{{Role: RoleUser, Content: "PDF Content:\nsome words"}},
	})
	require.NoError(t, err)
	assert.Contains(t, gen.Content, "t=0.90")
	assert.Contains(t, gen.Content, "some words")
}
