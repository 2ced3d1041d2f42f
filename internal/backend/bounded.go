package backend

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	pgerrors "github.com/postgate/postgate/internal/errors"
	"github.com/postgate/postgate/internal/observability"
)

// BoundedOptions configures NewBounded.
type BoundedOptions struct {
	// Timeout bounds each call including time spent waiting for a slot.
	Timeout time.Duration
	// MaxConcurrency bounds calls in flight across all requests.
	MaxConcurrency int
	Metrics        *observability.Metrics
}

// Bounded wraps a ChatClient with a per-call deadline, a process-wide
// concurrency limit, latency metrics and call logging.
type Bounded struct {
	next    ChatClient
	timeout time.Duration
	sem     *semaphore.Weighted
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewBounded wraps next.
func NewBounded(next ChatClient, opts BoundedOptions, logger zerolog.Logger) *Bounded {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	return &Bounded{
		next:    next,
		timeout: opts.Timeout,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// Complete runs the call under the deadline and concurrency bound. An
// expired deadline is always reported as a TIMEOUT backend error.
func (b *Bounded) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := b.call(ctx, req)
	elapsed := time.Since(start)

	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && pgerrors.GetCode(err) != pgerrors.CodeTimeout {
		err = pgerrors.NewBackendError(pgerrors.CodeTimeout, "backend call timed out", err)
	}
	if err != nil && pgerrors.GetCategory(err) == "" {
		err = pgerrors.NewBackendError(pgerrors.CodeRequestFailed, "backend call failed", err)
	}

	b.metrics.ObserveBackendCall(string(req.Purpose), elapsed, pgerrors.GetCode(err))
	event := b.logger.Debug()
	if err != nil {
		event = b.logger.Warn().Err(err)
	}
	event.Str("purpose", string(req.Purpose)).
		Str("model", req.Model).
		Dur("elapsed", elapsed).
		Msg("backend call")

	return resp, err
}

func (b *Bounded) call(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeTimeout, "no backend slot before deadline", err)
	}
	defer b.sem.Release(1)
	return b.next.Complete(ctx, req)
}
