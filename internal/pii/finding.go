// Package pii detects and redacts personal data in document text.
//
// Detection is a chain of stages, each transforming a list of findings:
// pattern recognizers, deterministic regex rules, a confidence filter, an
// overlap resolver and an optional backend verifier. The chain is built once
// by NewDetector and shared across requests.
package pii

import "sort"

// EntityType names a class of personal data.
type EntityType string

const (
	EntityPerson        EntityType = "PERSON"
	EntityPhone         EntityType = "PHONE_NUMBER"
	EntityEmail         EntityType = "EMAIL_ADDRESS"
	EntityCreditCard    EntityType = "CREDIT_CARD"
	EntityUSSSN         EntityType = "US_SSN"
	EntityUSITIN        EntityType = "US_ITIN"
	EntityUSPassport    EntityType = "US_PASSPORT"
	EntityUSBankNumber  EntityType = "US_BANK_NUMBER"
	EntityIPAddress     EntityType = "IP_ADDRESS"
	EntityIBAN          EntityType = "IBAN_CODE"
	EntityCrypto        EntityType = "CRYPTO"
	EntityUKNINO        EntityType = "UK_NINO"
	EntityStreetAddress EntityType = "STREET_ADDRESS"
	EntityCustomID      EntityType = "CUSTOM_ID"
)

// Source tells which path produced a finding.
type Source string

const (
	SourceRecognizer Source = "recognizer"
	SourceRegexRule  Source = "regex_rule"
)

// Finding is one detected span. Start and End are byte offsets into the
// scanned text with End exclusive.
type Finding struct {
	EntityType EntityType `json:"entity_type"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Source     Source     `json:"source"`
}

// Len returns the span length in bytes.
func (f Finding) Len() int {
	return f.End - f.Start
}

// Overlaps reports whether the two spans share at least one byte.
func (f Finding) Overlaps(o Finding) bool {
	return f.Start < o.End && o.Start < f.End
}

// sortByPosition orders findings by start, then longer span first, then
// entity type, so stage output is deterministic.
func sortByPosition(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End > b.End
		}
		return a.EntityType < b.EntityType
	})
}

// EntityTypes returns the distinct entity types in findings, sorted.
func EntityTypes(findings []Finding) []string {
	seen := make(map[EntityType]struct{}, len(findings))
	var out []string
	for _, f := range findings {
		if _, ok := seen[f.EntityType]; ok {
			continue
		}
		seen[f.EntityType] = struct{}{}
		out = append(out, string(f.EntityType))
	}
	sort.Strings(out)
	return out
}
