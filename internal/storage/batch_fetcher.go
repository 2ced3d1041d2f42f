package storage

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchFetcher reads several objects from storage in parallel, bounded by a
// weighted semaphore. Callers that need ordered processing fetch a window
// at a time and walk the result in their own order.
type BatchFetcher struct {
	storage     ObjectStorage
	concurrency int
}

// FetchResult contains the outcome of a batch fetch.
type FetchResult struct {
	Objects map[string][]byte
	Errors  map[string]error
}

// NewBatchFetcher creates a fetcher with at most concurrency reads in flight.
func NewBatchFetcher(storage ObjectStorage, concurrency int) *BatchFetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchFetcher{
		storage:     storage,
		concurrency: concurrency,
	}
}

// Fetch reads every path. A failed read is reported in Errors and does not
// abort the others; only context cancellation stops scheduling new reads.
func (b *BatchFetcher) Fetch(ctx context.Context, objectPaths []string) *FetchResult {
	result := &FetchResult{
		Objects: make(map[string][]byte, len(objectPaths)),
		Errors:  make(map[string]error),
	}
	if len(objectPaths) == 0 {
		return result
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, p := range objectPaths {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[p] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(objectPath string) {
			defer sem.Release(1)
			defer wg.Done()

			data, err := b.storage.Get(ctx, objectPath)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[objectPath] = err
				return
			}
			result.Objects[objectPath] = data
		}(p)
	}

	wg.Wait()
	return result
}
