package pii

import (
	"context"
	"regexp"
	"sort"
)

// Stage transforms a list of findings for one text. Stages must not mutate
// their input slice.
type Stage interface {
	Name() string
	Apply(ctx context.Context, text string, in []Finding) ([]Finding, error)
}

// RecognizerStage appends the matches of every recognizer.
type RecognizerStage struct {
	Recognizers []Recognizer
}

func (s *RecognizerStage) Name() string { return "recognizers" }

func (s *RecognizerStage) Apply(_ context.Context, text string, in []Finding) ([]Finding, error) {
	out := append([]Finding(nil), in...)
	for _, r := range s.Recognizers {
		out = append(out, r.Recognize(text)...)
	}
	return out, nil
}

// Rule is a deterministic pattern whose matches are always reported at
// confidence 1.0.
type Rule struct {
	Entity  EntityType
	Pattern *regexp.Regexp
}

// DefaultRules returns the built-in regex rules.
func DefaultRules() []Rule {
	return []Rule{
		{Entity: EntityCustomID, Pattern: regexp.MustCompile(`\bID\d{6}\b`)},
	}
}

// RuleStage appends regex rule matches.
type RuleStage struct {
	Rules []Rule
}

func (s *RuleStage) Name() string { return "regex_rules" }

func (s *RuleStage) Apply(_ context.Context, text string, in []Finding) ([]Finding, error) {
	out := append([]Finding(nil), in...)
	for _, rule := range s.Rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			out = append(out, Finding{
				EntityType: rule.Entity,
				Start:      loc[0],
				End:        loc[1],
				Text:       text[loc[0]:loc[1]],
				Confidence: 1.0,
				Source:     SourceRegexRule,
			})
		}
	}
	return out, nil
}

// ConfidenceFilter drops recognizer findings scored below Threshold. Regex
// rule findings always pass.
type ConfidenceFilter struct {
	Threshold float64
}

func (s *ConfidenceFilter) Name() string { return "confidence_filter" }

func (s *ConfidenceFilter) Apply(_ context.Context, _ string, in []Finding) ([]Finding, error) {
	out := make([]Finding, 0, len(in))
	for _, f := range in {
		if f.Source == SourceRegexRule || f.Confidence >= s.Threshold {
			out = append(out, f)
		}
	}
	return out, nil
}

// OverlapResolver keeps one finding per overlapping group: the higher
// confidence wins and ties go to the longer span. Output is sorted by start.
type OverlapResolver struct{}

func (OverlapResolver) Name() string { return "overlap_resolver" }

func (OverlapResolver) Apply(_ context.Context, _ string, in []Finding) ([]Finding, error) {
	ranked := append([]Finding(nil), in...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Len() != b.Len() {
			return a.Len() > b.Len()
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.EntityType < b.EntityType
	})

	var kept []Finding
	for _, f := range ranked {
		clash := false
		for _, k := range kept {
			if f.Overlaps(k) {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, f)
		}
	}
	sortByPosition(kept)
	return kept, nil
}
