package types

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyticsEvent_MarshalLine(t *testing.T) {
	now := time.Date(2026, 10, 19, 14, 3, 7, 900_000_000, time.Local)
	ev := NewEvent(now, EventGeneration, Metadata{"tone": "Professional", "length": 42}, "hello <world>")

	line, err := ev.MarshalLine()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(line), "\n"))
	assert.Equal(t, 1, strings.Count(string(line), "\n"))
	assert.Contains(t, string(line), `"timestamp":"2026-10-19 14:03:07"`)
	assert.Contains(t, string(line), `"event_type":"generation"`)
	assert.Contains(t, string(line), `"content":"hello <world>"`)

	parsed, err := ParseLine(line)
	require.NoError(t, err)
	assert.Equal(t, EventGeneration, parsed.Type)
	assert.True(t, parsed.HasContent)
	assert.Equal(t, "hello <world>", parsed.Content)
	assert.Equal(t, "Professional", parsed.Metadata["tone"])
	assert.Equal(t, float64(42), parsed.Metadata["length"])
	assert.True(t, parsed.Timestamp.Equal(now.Truncate(time.Second)))
}

func TestAnalyticsEvent_NoContent(t *testing.T) {
	ev := NewEvent(time.Now(), EventFeedback, Metadata{"rating": 5}, "")
	line, err := ev.MarshalLine()
	require.NoError(t, err)
	assert.NotContains(t, string(line), "content")

	parsed, err := ParseLine(line)
	require.NoError(t, err)
	assert.False(t, parsed.HasContent)
}

func TestMetadata_RejectsNestedValues(t *testing.T) {
	ev := NewEvent(time.Now(), EventGeneration, Metadata{"nested": map[string]string{"a": "b"}}, "x")
	_, err := ev.MarshalLine()
	assert.True(t, errors.Is(err, ErrInvalidMetadata))
}

func TestParseLine_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"timestamp": `,
		"missing type":    `{"timestamp":"2026-10-19 10:00:00","metadata":{}}`,
		"missing time":    `{"event_type":"generation","metadata":{}}`,
		"bad time":        `{"timestamp":"yesterday","event_type":"generation","metadata":{}}`,
		"nested metadata": `{"timestamp":"2026-10-19 10:00:00","event_type":"generation","metadata":{"a":[1]}}`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseLine([]byte(line))
			assert.Error(t, err)
		})
	}
}

func TestParseEventType(t *testing.T) {
	for _, typ := range []EventType{EventGeneration, EventFeedback, EventOther} {
		got, err := ParseEventType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseEventType("export")
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestParseLine_OtherEventTypes(t *testing.T) {
	for _, name := range []string{"other", "export", "page_view"} {
		line := `{"timestamp":"2026-10-19 10:00:00","event_type":"` + name + `","metadata":{"k":"v"},"content":"ignored"}`
		ev, err := ParseLine([]byte(line))
		require.NoError(t, err, name)
		assert.Equal(t, EventOther, ev.Type)
		assert.False(t, ev.HasContent)
		assert.Equal(t, "v", ev.Metadata["k"])
	}

	line, err := NewEvent(time.Now(), EventOther, Metadata{"action": "export"}, "dropped").MarshalLine()
	require.NoError(t, err)
	assert.Contains(t, string(line), `"event_type":"other"`)
	assert.NotContains(t, string(line), "dropped")
}
