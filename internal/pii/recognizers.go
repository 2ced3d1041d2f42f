package pii

import (
	"regexp"
	"strings"
	"unicode"
)

// Context enhancement constants. A recognizer match preceded by one of its
// context words within contextWindow words gains contextBoost, is lifted to
// at least contextFloor and never exceeds 1.0.
const (
	contextWindow = 5
	contextBoost  = 0.35
	contextFloor  = 0.4
)

// Recognizer finds candidate entities of one type.
type Recognizer interface {
	Entity() EntityType
	Recognize(text string) []Finding
}

// validator inspects a raw match. It returns a replacement score (0 keeps the
// base score) and whether the match survives.
type validator func(match string) (score float64, ok bool)

// PatternRecognizer scores regex matches, optionally validating them and
// boosting them when context words precede the match.
type PatternRecognizer struct {
	entity  EntityType
	re      *regexp.Regexp
	score   float64
	group   int
	context []string
	check   validator
}

// Entity returns the entity type this recognizer emits.
func (r *PatternRecognizer) Entity() EntityType {
	return r.entity
}

// Recognize returns every surviving match in text.
func (r *PatternRecognizer) Recognize(text string) []Finding {
	var out []Finding
	for _, loc := range r.re.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[2*r.group], loc[2*r.group+1]
		if start < 0 {
			continue
		}
		match := text[start:end]

		score := r.score
		if r.check != nil {
			s, ok := r.check(match)
			if !ok {
				continue
			}
			if s > 0 {
				score = s
			}
		}
		if score < 1.0 && hasContext(text[:start], r.context) {
			score += contextBoost
			if score < contextFloor {
				score = contextFloor
			}
			if score > 1.0 {
				score = 1.0
			}
		}

		out = append(out, Finding{
			EntityType: r.entity,
			Start:      start,
			End:        end,
			Text:       match,
			Confidence: score,
			Source:     SourceRecognizer,
		})
	}
	return out
}

func hasContext(prefix string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	fields := strings.Fields(prefix)
	if len(fields) > contextWindow {
		fields = fields[len(fields)-contextWindow:]
	}
	for _, f := range fields {
		f = strings.ToLower(strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
		if f == "" {
			continue
		}
		for _, w := range words {
			if strings.HasPrefix(f, w) {
				return true
			}
		}
	}
	return false
}

// DefaultRecognizers returns the built-in recognizer set.
func DefaultRecognizers() []Recognizer {
	return []Recognizer{
		&PatternRecognizer{
			entity: EntityEmail,
			re:     regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
			score:  0.95,
		},
		&PatternRecognizer{
			entity:  EntityUSSSN,
			re:      regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			score:   0.85,
			context: []string{"ssn", "social", "security"},
			check:   validSSNShape,
		},
		&PatternRecognizer{
			entity:  EntityUSSSN,
			re:      regexp.MustCompile(`\b\d{9}\b`),
			score:   0.3,
			context: []string{"ssn", "social", "security"},
			check:   validSSN,
		},
		&PatternRecognizer{
			entity:  EntityPhone,
			re:      regexp.MustCompile(`(?:\+1[\-.\s]?)?(?:\(\d{3}\)\s?|\b\d{3}[\-.\s])\d{3}[\-.\s]\d{4}\b`),
			score:   0.75,
			context: []string{"phone", "call", "tel", "mobile", "cell", "fax", "contact"},
		},
		&PatternRecognizer{
			entity: EntityCreditCard,
			re:     regexp.MustCompile(`\b(?:\d[ \-]?){12,18}\d\b`),
			score:  0.3,
			check:  validCard,
		},
		&PatternRecognizer{
			entity: EntityIBAN,
			re:     regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,3})?\b`),
			score:  0.5,
			check:  validIBAN,
		},
		&PatternRecognizer{
			entity:  EntityIPAddress,
			re:      regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`),
			score:   0.6,
			context: []string{"ip", "address", "host", "server"},
		},
		&PatternRecognizer{
			entity:  EntityCrypto,
			re:      regexp.MustCompile(`\b(?:bc1[a-z0-9]{25,39}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})\b`),
			score:   0.5,
			context: []string{"wallet", "btc", "bitcoin", "crypto"},
		},
		&PatternRecognizer{
			entity:  EntityUKNINO,
			re:      regexp.MustCompile(`\b[A-CEGHJ-PR-TW-Z][A-CEGHJ-NPR-TW-Z] ?\d{2} ?\d{2} ?\d{2} ?[A-D]\b`),
			score:   0.5,
			context: []string{"national", "insurance", "nino"},
			check:   validNINO,
		},
		&PatternRecognizer{
			entity:  EntityUSPassport,
			re:      regexp.MustCompile(`\b[A-Z]\d{8}\b`),
			score:   0.4,
			context: []string{"passport", "travel"},
		},
		&PatternRecognizer{
			entity:  EntityUSITIN,
			re:      regexp.MustCompile(`\b9\d{2}[\- ]?(?:5\d|6[0-5]|7\d|8[0-8]|9[0-24-9])[\- ]?\d{4}\b`),
			score:   0.5,
			context: []string{"itin", "taxpayer", "tax"},
		},
		&PatternRecognizer{
			entity:  EntityUSBankNumber,
			re:      regexp.MustCompile(`\b\d{8,17}\b`),
			score:   0.3,
			context: []string{"account", "bank", "acct", "routing", "checking", "savings"},
		},
		&PatternRecognizer{
			entity: EntityStreetAddress,
			re:     regexp.MustCompile(`\b\d{1,5}\s+(?:[A-Z][A-Za-z]+\s+){1,3}(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Court|Ct|Way|Place|Pl)\b\.?`),
			score:  0.7,
		},
		&PatternRecognizer{
			entity: EntityPerson,
			re:     regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?`),
			score:  0.85,
		},
		&PatternRecognizer{
			entity: EntityPerson,
			re:     regexp.MustCompile(`(?i:\bmy name is)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`),
			score:  0.85,
			group:  1,
		},
	}
}

// FilterRecognizers keeps only recognizers for the named entity types. An
// empty list keeps all of them.
func FilterRecognizers(recognizers []Recognizer, entities []string) []Recognizer {
	if len(entities) == 0 {
		return recognizers
	}
	want := make(map[EntityType]bool, len(entities))
	for _, e := range entities {
		want[EntityType(strings.ToUpper(strings.TrimSpace(e)))] = true
	}
	var out []Recognizer
	for _, r := range recognizers {
		if want[r.Entity()] {
			out = append(out, r)
		}
	}
	return out
}

func digitsOf(s string) []int {
	var d []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			d = append(d, int(r-'0'))
		}
	}
	return d
}

// validSSNShape rejects only numbers whose area, group or serial field can
// never be valid. Samples and 9xx areas still look like an SSN to a reader
// and are flagged.
func validSSNShape(match string) (float64, bool) {
	d := digitsOf(match)
	if len(d) != 9 {
		return 0, false
	}
	area := d[0]*100 + d[1]*10 + d[2]
	group := d[3]*10 + d[4]
	serial := d[5]*1000 + d[6]*100 + d[7]*10 + d[8]
	if area == 0 || area == 666 || group == 0 || serial == 0 {
		return 0, false
	}
	return 0, true
}

// validSSN is the stricter check for bare nine digit runs: it also rejects
// areas the SSA never issues and well-known samples.
func validSSN(match string) (float64, bool) {
	if _, ok := validSSNShape(match); !ok {
		return 0, false
	}
	d := digitsOf(match)
	if d[0] == 9 {
		return 0, false
	}
	var plain strings.Builder
	for _, x := range d {
		plain.WriteByte(byte('0' + x))
	}
	switch plain.String() {
	case "078051120", "123456789":
		return 0, false
	}
	return 0, true
}

// validCard accepts 13 to 19 digit numbers passing the Luhn check.
func validCard(match string) (float64, bool) {
	d := digitsOf(match)
	if len(d) < 13 || len(d) > 19 {
		return 0, false
	}
	if !luhn(d) {
		return 0, false
	}
	return 1.0, true
}

func luhn(digits []int) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := digits[i]
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}

// validIBAN applies the ISO 13616 mod-97 check.
func validIBAN(match string) (float64, bool) {
	s := strings.ReplaceAll(match, " ", "")
	if len(s) < 15 || len(s) > 34 {
		return 0, false
	}
	rearranged := s[4:] + s[:4]
	rem := 0
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			rem = (rem*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			v := int(r-'A') + 10
			rem = (rem*100 + v) % 97
		default:
			return 0, false
		}
	}
	if rem != 1 {
		return 0, false
	}
	return 1.0, true
}

// validNINO rejects prefixes that are never allocated.
func validNINO(match string) (float64, bool) {
	switch match[:2] {
	case "BG", "GB", "KN", "NK", "NT", "TN", "ZZ":
		return 0, false
	}
	return 0, true
}
