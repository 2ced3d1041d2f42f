// Package cache keeps backend summaries of large documents in memory so a
// repeated upload does not pay for a second summarization call.
package cache

import (
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"

	"github.com/postgate/postgate/internal/observability"
)

// Stats holds cache counters.
type Stats struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
	Entries   atomic.Int64
	SizeBytes atomic.Int64
}

type entry struct {
	payload     []byte
	lastAccess  atomic.Int64
	accessCount atomic.Int64
}

// SummaryCache is a size-bounded cache of summaries keyed by the model and
// the exact input that was summarized. Payloads are stored snappy-compressed
// and sizes are accounted in compressed bytes.
type SummaryCache struct {
	maxBytes int64
	stats    Stats
	metrics  *observability.Metrics

	mu    sync.Mutex
	index map[string]*entry
}

// NewSummaryCache creates a cache holding at most maxBytes of payload.
func NewSummaryCache(maxBytes int64, metrics *observability.Metrics) (*SummaryCache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("maxBytes must be positive, got %d", maxBytes)
	}
	return &SummaryCache{
		maxBytes: maxBytes,
		metrics:  metrics,
		index:    make(map[string]*entry),
	}, nil
}

// Key derives the cache key for summarizing input with model.
func Key(model, input string) string {
	h := murmur3.New128()
	_, _ = h.Write([]byte(model))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached summary for key.
func (c *SummaryCache) Get(key string) (string, bool) {
	c.mu.Lock()
	e, ok := c.index[key]
	c.mu.Unlock()

	if !ok {
		c.stats.Misses.Add(1)
		c.metrics.ObserveCacheLookup(false)
		return "", false
	}

	decoded, err := snappy.Decode(nil, e.payload)
	if err != nil {
		c.Remove(key)
		c.stats.Misses.Add(1)
		c.metrics.ObserveCacheLookup(false)
		return "", false
	}

	e.lastAccess.Store(time.Now().UnixNano())
	e.accessCount.Add(1)
	c.stats.Hits.Add(1)
	c.metrics.ObserveCacheLookup(true)
	return string(decoded), true
}

// Put stores summary under key, evicting the least used entries when the
// cache grows past its bound. A payload larger than the whole cache is not
// stored.
func (c *SummaryCache) Put(key, summary string) {
	payload := snappy.Encode(nil, []byte(summary))
	size := int64(len(payload))
	if size > c.maxBytes {
		return
	}

	e := &entry{payload: payload}
	e.lastAccess.Store(time.Now().UnixNano())
	e.accessCount.Store(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.index[key]; ok {
		c.stats.SizeBytes.Add(-int64(len(old.payload)))
		c.stats.Entries.Add(-1)
	}
	c.index[key] = e
	c.stats.SizeBytes.Add(size)
	c.stats.Entries.Add(1)

	if c.stats.SizeBytes.Load() > c.maxBytes {
		c.evictLocked()
	}
}

// evictLocked drops entries, fewest accesses first and then oldest access,
// until the cache is back under 90% of its bound.
func (c *SummaryCache) evictLocked() {
	target := int64(float64(c.maxBytes) * 0.9)

	type candidate struct {
		key        string
		count      int64
		accessTime int64
	}
	candidates := make([]candidate, 0, len(c.index))
	for k, e := range c.index {
		candidates = append(candidates, candidate{key: k, count: e.accessCount.Load(), accessTime: e.lastAccess.Load()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count < candidates[j].count
		}
		return candidates[i].accessTime < candidates[j].accessTime
	})

	for _, cand := range candidates {
		if c.stats.SizeBytes.Load() <= target {
			break
		}
		e := c.index[cand.key]
		delete(c.index, cand.key)
		c.stats.SizeBytes.Add(-int64(len(e.payload)))
		c.stats.Entries.Add(-1)
		c.stats.Evictions.Add(1)
	}
}

// Remove deletes key from the cache.
func (c *SummaryCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index[key]
	if !ok {
		return false
	}
	delete(c.index, key)
	c.stats.SizeBytes.Add(-int64(len(e.payload)))
	c.stats.Entries.Add(-1)
	return true
}

// Snapshot returns hits, misses, evictions, entries and size in bytes.
func (c *SummaryCache) Snapshot() (hits, misses, evictions, entries, size int64) {
	return c.stats.Hits.Load(), c.stats.Misses.Load(), c.stats.Evictions.Load(),
		c.stats.Entries.Load(), c.stats.SizeBytes.Load()
}

// HitRate returns the hit rate as a percentage.
func (c *SummaryCache) HitRate() float64 {
	hits := c.stats.Hits.Load()
	total := hits + c.stats.Misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// Capacity returns the bound in bytes.
func (c *SummaryCache) Capacity() int64 {
	return c.maxBytes
}
