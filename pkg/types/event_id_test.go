package types

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestEventID_StringRoundTrip(t *testing.T) {
	g := NewEventIDGenerator()
	id, err := g.NextAt(time.UnixMilli(1760000000123))
	if err != nil {
		t.Fatalf("NextAt failed: %v", err)
	}

	s := id.String()
	if len(s) != 26 {
		t.Fatalf("expected 26 characters, got %d (%q)", len(s), s)
	}

	parsed, err := ParseEventID(s)
	if err != nil {
		t.Fatalf("ParseEventID(%q) failed: %v", s, err)
	}
	if parsed != id {
		t.Errorf("round trip mismatch: got %x, want %x", parsed, id)
	}
	if got := parsed.Time().UnixMilli(); got != 1760000000123 {
		t.Errorf("embedded time = %d, want 1760000000123", got)
	}
}

func TestParseEventID_Invalid(t *testing.T) {
	if _, err := ParseEventID("short"); err != ErrInvalidEventIDLength {
		t.Errorf("expected ErrInvalidEventIDLength, got %v", err)
	}
	if _, err := ParseEventID("01ARZ3NDEKTSV4RRFFQ69G5FA!"); err != ErrInvalidEventIDCharacter {
		t.Errorf("expected ErrInvalidEventIDCharacter, got %v", err)
	}
	if _, err := ParseEventID("81ARZ3NDEKTSV4RRFFQ69G5FAV"); err != ErrInvalidEventIDCharacter {
		t.Errorf("expected overflow of the leading character to be rejected, got %v", err)
	}
}

func TestProperty_EventIDOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ids for later milliseconds sort after earlier ones", prop.ForAll(
		func(t1Ms, t2Ms int64) bool {
			if t1Ms >= t2Ms {
				t1Ms, t2Ms = t2Ms, t1Ms+1
			}
			g := NewEventIDGenerator()
			a, err := g.NextAt(time.UnixMilli(t1Ms))
			if err != nil {
				return false
			}
			b, err := g.NextAt(time.UnixMilli(t2Ms))
			if err != nil {
				return false
			}
			return a.Compare(b) < 0 && a.String() < b.String()
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.Int64Range(1000000000000, 2000000000000),
	))

	properties.Property("ids within one millisecond are strictly increasing", prop.ForAll(
		func(ms int64, count int) bool {
			g := NewEventIDGenerator()
			ts := time.UnixMilli(ms)
			var prev EventID
			for i := 0; i < count; i++ {
				cur, err := g.NextAt(ts)
				if err != nil {
					return false
				}
				if i > 0 && (prev.Compare(cur) >= 0 || prev.String() >= cur.String()) {
					return false
				}
				prev = cur
			}
			return true
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.IntRange(2, 200),
	))

	properties.TestingRun(t)
}
