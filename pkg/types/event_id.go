package types

import (
	"crypto/rand"
	"sync"
	"time"
)

// EventID is a 128-bit, lexicographically sortable identifier for analytics
// events: a 48-bit millisecond timestamp followed by 80 random bits.
// Its string form sorts in creation order, which the analytics reader relies
// on when it orders per-event objects newest-first.
type EventID [16]byte

// Crockford's Base32 alphabet (excludes I, L, O, U)
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// EventIDGenerator issues EventIDs that are strictly increasing within one
// process, even when several events share a millisecond.
type EventIDGenerator struct {
	mu            sync.Mutex
	lastTimestamp uint64
	lastRandom    [10]byte
}

// NewEventIDGenerator creates a new generator.
func NewEventIDGenerator() *EventIDGenerator {
	return &EventIDGenerator{}
}

// Next returns an id for the current time.
func (g *EventIDGenerator) Next() (EventID, error) {
	return g.NextAt(time.Now())
}

// NextAt returns an id for t. Ids requested for the same millisecond
// increment the random component instead of drawing new entropy.
func (g *EventIDGenerator) NextAt(t time.Time) (EventID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := uint64(t.UnixMilli())

	var id EventID
	for i := 0; i < 6; i++ {
		id[i] = byte(ms >> (40 - 8*i))
	}

	if ms == g.lastTimestamp {
		for i := 9; i >= 0; i-- {
			g.lastRandom[i]++
			if g.lastRandom[i] != 0 {
				break
			}
		}
	} else {
		if _, err := rand.Read(g.lastRandom[:]); err != nil {
			return EventID{}, err
		}
		g.lastTimestamp = ms
	}
	copy(id[6:], g.lastRandom[:])

	return id, nil
}

// Time returns the millisecond timestamp embedded in the id.
func (id EventID) Time() time.Time {
	var ms uint64
	for i := 0; i < 6; i++ {
		ms = ms<<8 | uint64(id[i])
	}
	return time.UnixMilli(int64(ms))
}

// String encodes the id as 26 Crockford Base32 characters.
func (id EventID) String() string {
	// 128 bits are emitted as 26 groups of 5 bits, left-padded by 2 bits.
	var buf [26]byte
	var acc uint32
	bits := 2 // leading pad: 26*5 = 130 = 128 + 2
	pos := 0
	for _, b := range id {
		acc = acc<<8 | uint32(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			buf[pos] = crockfordBase32[(acc>>uint(bits))&31]
			pos++
		}
	}
	return string(buf[:])
}

// ParseEventID decodes the 26-character form produced by String.
func ParseEventID(s string) (EventID, error) {
	if len(s) != 26 {
		return EventID{}, ErrInvalidEventIDLength
	}
	if decodeBase32(s[0]) > 7 {
		// the first character only carries 3 significant bits
		return EventID{}, ErrInvalidEventIDCharacter
	}

	var id EventID
	var acc uint32
	bits := -2
	pos := 0
	for i := 0; i < len(s); i++ {
		v := decodeBase32(s[i])
		if v == 0xFF {
			return EventID{}, ErrInvalidEventIDCharacter
		}
		acc = acc<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			bits -= 8
			id[pos] = byte(acc >> uint(bits))
			pos++
		}
	}
	return id, nil
}

// Compare orders ids bytewise: -1, 0 or 1.
func (id EventID) Compare(other EventID) int {
	for i := range id {
		switch {
		case id[i] < other[i]:
			return -1
		case id[i] > other[i]:
			return 1
		}
	}
	return 0
}

func decodeBase32(c byte) byte {
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	switch c {
	case 'O':
		return 0
	case 'I', 'L':
		return 1
	}
	for i := 0; i < len(crockfordBase32); i++ {
		if crockfordBase32[i] == c {
			return byte(i)
		}
	}
	return 0xFF
}
