package observability

import (
	"sort"
	"sync"
	"time"
)

// OutcomeStats tracks recent request outcomes and detected PII entity types
// in memory, for the operator-facing stats endpoint.
type OutcomeStats struct {
	mu       sync.RWMutex
	outcomes map[string]*OutcomeStat
	entities map[string]*OutcomeStat
	window   time.Duration
}

// OutcomeStat holds counts for one outcome status or entity type.
type OutcomeStat struct {
	Name     string         `json:"name"`
	Count    int64          `json:"count"`
	LastSeen time.Time      `json:"last_seen"`
	Details  map[string]int `json:"details,omitempty"` // e.g. strategy → count for accepted requests
}

// NewOutcomeStats creates a tracker whose entries expire after window.
func NewOutcomeStats(window time.Duration) *OutcomeStats {
	return &OutcomeStats{
		outcomes: make(map[string]*OutcomeStat),
		entities: make(map[string]*OutcomeStat),
		window:   window,
	}
}

// RecordOutcome records a finished request. detail is optional.
func (s *OutcomeStats) RecordOutcome(status, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record(s.outcomes, status, detail)
}

// RecordEntity records one detected entity type.
func (s *OutcomeStats) RecordEntity(entityType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record(s.entities, entityType, "")
}

func record(m map[string]*OutcomeStat, name, detail string) {
	stat, ok := m[name]
	if !ok {
		stat = &OutcomeStat{Name: name, Details: make(map[string]int)}
		m[name] = stat
	}
	stat.Count++
	stat.LastSeen = time.Now()
	if detail != "" {
		stat.Details[detail]++
	}
}

// TopOutcomes returns the n most frequent outcomes, as copies.
func (s *OutcomeStats) TopOutcomes(n int) []OutcomeStat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return top(s.outcomes, n)
}

// TopEntities returns the n most frequent entity types, as copies.
func (s *OutcomeStats) TopEntities(n int) []OutcomeStat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return top(s.entities, n)
}

func top(m map[string]*OutcomeStat, n int) []OutcomeStat {
	if n <= 0 || len(m) == 0 {
		return []OutcomeStat{}
	}

	stats := make([]OutcomeStat, 0, len(m))
	for _, st := range m {
		cp := OutcomeStat{
			Name:     st.Name,
			Count:    st.Count,
			LastSeen: st.LastSeen,
			Details:  make(map[string]int, len(st.Details)),
		}
		for k, v := range st.Details {
			cp.Details[k] = v
		}
		stats = append(stats, cp)
	}

	// Sort by count descending, name ascending on ties
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Name < stats[j].Name
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries not seen within the window.
// This should be called periodically (e.g., every 5 minutes).
func (s *OutcomeStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-s.window)
	for name, st := range s.outcomes {
		if st.LastSeen.Before(threshold) {
			delete(s.outcomes, name)
		}
	}
	for name, st := range s.entities {
		if st.LastSeen.Before(threshold) {
			delete(s.entities, name)
		}
	}
}
