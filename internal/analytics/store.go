// Package analytics implements the append-only event log that records
// accepted posts and feedback. The same log is the history source for the
// similarity gate, so reads walk it newest-first.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/postgate/postgate/internal/config"
	pgerrors "github.com/postgate/postgate/internal/errors"
	"github.com/postgate/postgate/internal/storage"
	"github.com/postgate/postgate/pkg/types"
)

const objectSuffix = ".jsonl"

// Options configures a Store.
type Options struct {
	// Layout is config.LayoutPerEvent or config.LayoutDaily.
	Layout string
	// Prefix is prepended to every object path.
	Prefix string
	// FetchConcurrency is how many partitions are read in parallel.
	FetchConcurrency int
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Store appends events to object storage and reads them back newest-first.
type Store struct {
	storage  storage.ObjectStorage
	appender storage.Appender
	fetcher  *storage.BatchFetcher
	ids      *types.EventIDGenerator
	layout   string
	prefix   string
	window   int
	now      func() time.Time
	logger   zerolog.Logger
}

// NewStore creates a store over the given backend. The daily layout needs a
// backend that implements storage.Appender.
func NewStore(backend storage.ObjectStorage, opts Options, logger zerolog.Logger) (*Store, error) {
	if opts.Layout == "" {
		opts.Layout = config.LayoutPerEvent
	}
	if opts.FetchConcurrency < 1 {
		opts.FetchConcurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		storage: backend,
		fetcher: storage.NewBatchFetcher(backend, opts.FetchConcurrency),
		ids:     types.NewEventIDGenerator(),
		layout:  opts.Layout,
		prefix:  strings.Trim(opts.Prefix, "/"),
		window:  opts.FetchConcurrency,
		now:     opts.Now,
		logger:  logger,
	}

	switch opts.Layout {
	case config.LayoutPerEvent:
	case config.LayoutDaily:
		app, ok := backend.(storage.Appender)
		if !ok {
			return nil, pgerrors.NewConfigError("analytics layout daily requires an appendable storage backend")
		}
		s.appender = app
	default:
		return nil, pgerrors.NewConfigError(fmt.Sprintf("unknown analytics layout %q", opts.Layout))
	}
	return s, nil
}

// Log builds an event stamped now and appends it.
func (s *Store) Log(ctx context.Context, eventType types.EventType, metadata types.Metadata, content string) (types.AnalyticsEvent, error) {
	ev := types.NewEvent(s.now(), eventType, metadata, content)
	if err := s.Append(ctx, ev); err != nil {
		return types.AnalyticsEvent{}, err
	}
	return ev, nil
}

// Append durably writes one event as one complete line. Appending the same
// payload twice yields two records.
func (s *Store) Append(ctx context.Context, ev types.AnalyticsEvent) error {
	at := s.now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = at.Truncate(time.Second)
	}
	line, err := ev.MarshalLine()
	if err != nil {
		return pgerrors.NewInternalError("failed to encode analytics event", err)
	}

	var objectPath string
	switch s.layout {
	case config.LayoutDaily:
		objectPath = s.join(at.Format("2006-01-02") + objectSuffix)
		err = s.appender.Append(ctx, objectPath, line)
	default:
		id, idErr := s.ids.NextAt(at)
		if idErr != nil {
			return pgerrors.NewInternalError("failed to allocate event id", idErr)
		}
		objectPath = s.join(
			at.Format("2006-01-02"),
			fmt.Sprintf("%s-%03d_%s_%s%s", at.Format("15-04-05"), at.Nanosecond()/int(time.Millisecond), id, ev.Type, objectSuffix),
		)
		err = s.storage.Put(ctx, objectPath, line)
	}
	if err != nil {
		return pgerrors.NewStorageError(pgerrors.CodeWriteFailed, "failed to append analytics event", err).
			WithDetails(map[string]interface{}{"object": objectPath})
	}

	s.logger.Debug().
		Str("object", objectPath).
		Stringer("event_type", ev.Type).
		Msg("analytics event appended")
	return nil
}

// ReadRecent returns up to limit contents of events of the given type,
// newest first. Events without content are skipped.
func (s *Store) ReadRecent(ctx context.Context, eventType types.EventType, limit int) ([]string, error) {
	events, err := s.Recent(ctx, func(ev types.AnalyticsEvent) bool {
		return ev.Type == eventType && ev.HasContent
	}, limit)
	if err != nil {
		return nil, err
	}
	contents := make([]string, len(events))
	for i, ev := range events {
		contents[i] = ev.Content
	}
	return contents, nil
}

// Recent scans partitions from newest to oldest and, within each, records
// from last written to first written, collecting events accepted by match
// until limit is reached. Malformed records and unreadable partitions are
// skipped.
func (s *Store) Recent(ctx context.Context, match func(types.AnalyticsEvent) bool, limit int) ([]types.AnalyticsEvent, error) {
	if limit <= 0 {
		return nil, nil
	}

	listPrefix := s.prefix
	if listPrefix != "" {
		listPrefix += "/"
	}
	objects, err := s.storage.ListObjects(ctx, listPrefix)
	if err != nil {
		return nil, pgerrors.NewStorageError(pgerrors.CodeReadFailed, "failed to list analytics partitions", err)
	}

	partitions := objects[:0]
	for _, o := range objects {
		if strings.HasSuffix(o, objectSuffix) {
			partitions = append(partitions, o)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(partitions)))

	var out []types.AnalyticsEvent
	for start := 0; start < len(partitions); start += s.window {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + s.window
		if end > len(partitions) {
			end = len(partitions)
		}
		window := partitions[start:end]
		fetched := s.fetcher.Fetch(ctx, window)

		for _, p := range window {
			data, ok := fetched.Objects[p]
			if !ok {
				s.logger.Warn().Err(fetched.Errors[p]).Str("object", p).Msg("skipping unreadable analytics partition")
				continue
			}
			lines := strings.Split(string(data), "\n")
			for i := len(lines) - 1; i >= 0; i-- {
				line := strings.TrimSpace(lines[i])
				if line == "" {
					continue
				}
				ev, err := types.ParseLine([]byte(line))
				if err != nil {
					s.logger.Debug().Err(err).Str("object", p).Msg("skipping malformed analytics record")
					continue
				}
				if !match(ev) {
					continue
				}
				out = append(out, ev)
				if len(out) == limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (s *Store) join(parts ...string) string {
	if s.prefix == "" {
		return strings.Join(parts, "/")
	}
	return s.prefix + "/" + strings.Join(parts, "/")
}
