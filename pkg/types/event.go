// Package types defines the analytics event model shared by the store, the
// pipeline and the HTTP surface.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the wall-clock, second-precision format written to the log.
const TimestampLayout = "2006-01-02 15:04:05"

// EventType is the closed set of analytics event kinds.
type EventType uint8

const (
	// EventGeneration records an accepted post.
	EventGeneration EventType = iota + 1
	// EventFeedback records user feedback on a post.
	EventFeedback
	// EventOther covers every other kind of record. It never carries content.
	EventOther
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case EventGeneration:
		return "generation"
	case EventFeedback:
		return "feedback"
	case EventOther:
		return "other"
	default:
		return fmt.Sprintf("EventType(%d)", uint8(t))
	}
}

// CarriesContent reports whether events of this type hold a content payload.
func (t EventType) CarriesContent() bool {
	switch t {
	case EventGeneration, EventFeedback:
		return true
	default:
		return false
	}
}

// ParseEventType maps a wire name back to an EventType.
func ParseEventType(s string) (EventType, error) {
	switch s {
	case "generation":
		return EventGeneration, nil
	case "feedback":
		return EventFeedback, nil
	case "other":
		return EventOther, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	if _, err := ParseEventType(t.String()); err != nil {
		return nil, err
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EventType) UnmarshalText(b []byte) error {
	v, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Metadata maps string keys to scalar values (string, bool, number or nil).
type Metadata map[string]interface{}

// Validate rejects nested values.
func (m Metadata) Validate() error {
	for k, v := range m {
		switch v.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
		default:
			return fmt.Errorf("%w: key %q has %T", ErrInvalidMetadata, k, v)
		}
	}
	return nil
}

// AnalyticsEvent is one immutable record of the analytics log.
type AnalyticsEvent struct {
	Timestamp time.Time
	Type      EventType
	Metadata  Metadata
	// Content is only meaningful for types where CarriesContent is true.
	Content    string
	HasContent bool
}

// NewEvent builds an event stamped at now, truncated to the second.
func NewEvent(now time.Time, eventType EventType, metadata Metadata, content string) AnalyticsEvent {
	ev := AnalyticsEvent{
		Timestamp: now.Truncate(time.Second),
		Type:      eventType,
		Metadata:  metadata,
	}
	if eventType.CarriesContent() && content != "" {
		ev.Content = content
		ev.HasContent = true
	}
	return ev
}

type eventRecord struct {
	Timestamp string    `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Metadata  Metadata  `json:"metadata"`
	Content   *string   `json:"content,omitempty"`
}

// MarshalLine serializes the event as one newline-terminated JSON line.
func (e AnalyticsEvent) MarshalLine() ([]byte, error) {
	if e.Timestamp.IsZero() {
		return nil, ErrMissingTimestamp
	}
	if err := e.Metadata.Validate(); err != nil {
		return nil, err
	}
	rec := eventRecord{
		Timestamp: e.Timestamp.Format(TimestampLayout),
		EventType: e.Type,
		Metadata:  e.Metadata,
	}
	if rec.Metadata == nil {
		rec.Metadata = Metadata{}
	}
	if e.HasContent && e.Type.CarriesContent() {
		content := e.Content
		rec.Content = &content
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseLine decodes one log line. Event type names other than generation
// and feedback read back as EventOther without content. Lines with a missing
// type, missing timestamps or non-scalar metadata are rejected.
func ParseLine(line []byte) (AnalyticsEvent, error) {
	var rec struct {
		Timestamp string   `json:"timestamp"`
		EventType string   `json:"event_type"`
		Metadata  Metadata `json:"metadata"`
		Content   *string  `json:"content"`
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		return AnalyticsEvent{}, err
	}
	if rec.Timestamp == "" {
		return AnalyticsEvent{}, ErrMissingTimestamp
	}
	ts, err := time.ParseInLocation(TimestampLayout, rec.Timestamp, time.Local)
	if err != nil {
		return AnalyticsEvent{}, fmt.Errorf("invalid timestamp %q: %w", rec.Timestamp, err)
	}
	if rec.EventType == "" {
		return AnalyticsEvent{}, fmt.Errorf("%w: missing", ErrUnknownEventType)
	}
	eventType, err := ParseEventType(rec.EventType)
	if err != nil {
		eventType = EventOther
	}
	if err := rec.Metadata.Validate(); err != nil {
		return AnalyticsEvent{}, err
	}

	ev := AnalyticsEvent{
		Timestamp: ts,
		Type:      eventType,
		Metadata:  rec.Metadata,
	}
	if rec.Content != nil && eventType.CarriesContent() {
		ev.Content = *rec.Content
		ev.HasContent = true
	}
	return ev, nil
}
