package pii

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postgate/postgate/internal/backend"
	"github.com/postgate/postgate/internal/config"
)

func enhancedDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetectorFromConfig(config.PIIConfig{
		Policy:            config.PolicyEnhanced,
		Threshold:         0.8,
		EnhancedThreshold: 0.65,
	}, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	return d
}

func TestDetect_HyphenatedSSNOnly(t *testing.T) {
	d := enhancedDetector(t)
	for _, ssn := range []string{"536-22-8704", "123-45-6789", "987-65-4321", "912-34-5678", "078-05-1120"} {
		text := "The appendix lists " + ssn + " as the reference for the applicant."

		findings := d.Detect(context.Background(), text)
		require.Len(t, findings, 1, ssn)
		assert.Equal(t, EntityUSSSN, findings[0].EntityType, ssn)
		assert.Equal(t, ssn, findings[0].Text)
		assert.Equal(t, SourceRecognizer, findings[0].Source)
		assert.GreaterOrEqual(t, findings[0].Confidence, 0.65, ssn)
		assert.Contains(t, Advisory(findings), "US_SSN")
	}
}

func TestDetect_BaselinePolicyFlagsSampleSSNs(t *testing.T) {
	d, err := NewDetectorFromConfig(config.PIIConfig{
		Policy:            config.PolicyBaseline,
		Threshold:         0.8,
		EnhancedThreshold: 0.65,
	}, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	for _, ssn := range []string{"123-45-6789", "987-65-4321"} {
		findings := d.Detect(context.Background(), "The applicant reference is "+ssn+" in the annex.")
		require.Len(t, findings, 1, ssn)
		assert.Equal(t, EntityUSSSN, findings[0].EntityType)
	}
}

func TestDetect_InvalidSSNsAreIgnored(t *testing.T) {
	d := enhancedDetector(t)
	for _, ssn := range []string{"000-12-3456", "666-12-3456", "536-00-1234", "536-22-0000", "123456789", "912345678"} {
		findings := d.Detect(context.Background(), "value "+ssn+" here")
		for _, f := range findings {
			assert.NotEqual(t, EntityUSSSN, f.EntityType, ssn)
		}
	}
}

func TestDetect_CreditCardRequiresLuhn(t *testing.T) {
	d := enhancedDetector(t)

	findings := d.Detect(context.Background(), "Paid with 4111 1111 1111 1111 yesterday.")
	require.Len(t, findings, 1)
	assert.Equal(t, EntityCreditCard, findings[0].EntityType)
	assert.Equal(t, 1.0, findings[0].Confidence)

	findings = d.Detect(context.Background(), "Paid with 4111 1111 1111 1112 yesterday.")
	for _, f := range findings {
		assert.NotEqual(t, EntityCreditCard, f.EntityType)
	}
}

func TestDetect_CommonEntities(t *testing.T) {
	d := enhancedDetector(t)
	tests := []struct {
		name string
		text string
		want EntityType
	}{
		{"email", "write to jane.doe@example.org for details", EntityEmail},
		{"phone with context", "call me on 555-123-4567 tomorrow", EntityPhone},
		{"honorific", "Thanks to Dr. Jane Smith for the review", EntityPerson},
		{"self introduction", "Hello, my name is Alice Walker and I study bees", EntityPerson},
		{"iban", "transfer to GB82 WEST 1234 5698 7654 32 please", EntityIBAN},
		{"custom id", "ticket ID123456 was closed", EntityCustomID},
		{"street", "she lives at 221 Baker Street now", EntityStreetAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			types := EntityTypes(d.Detect(context.Background(), tt.text))
			assert.Contains(t, types, string(tt.want))
		})
	}
}

func TestDetect_PolicyThresholds(t *testing.T) {
	text := "the number 555-123-4567 appears in the table"

	enhanced := enhancedDetector(t)
	assert.True(t, enhanced.ContainsPII(context.Background(), text))

	baseline, err := NewDetectorFromConfig(config.PIIConfig{
		Policy:            config.PolicyBaseline,
		Threshold:         0.8,
		EnhancedThreshold: 0.65,
	}, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, baseline.ContainsPII(context.Background(), text))
}

func TestDetect_CleanProse(t *testing.T) {
	d := enhancedDetector(t)
	text := "Large language models compress knowledge into weights. The authors argue that retrieval helps with factual questions and show a careful ablation."
	assert.False(t, d.ContainsPII(context.Background(), text))
}

func TestNewDetectorFromConfig_Errors(t *testing.T) {
	_, err := NewDetectorFromConfig(config.PIIConfig{Policy: "strict"}, nil, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewDetectorFromConfig(config.PIIConfig{Policy: config.PolicyBaseline, Entities: []string{"NOPE"}}, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewDetectorFromConfig_EntityFilter(t *testing.T) {
	d, err := NewDetectorFromConfig(config.PIIConfig{
		Policy:            config.PolicyEnhanced,
		EnhancedThreshold: 0.65,
		Entities:          []string{"email_address"},
	}, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	types := EntityTypes(d.Detect(context.Background(), "mail a@b.io, card 4111 1111 1111 1111, ref ID654321"))
	assert.Equal(t, []string{"CUSTOM_ID", "EMAIL_ADDRESS"}, types)
}

func TestOverlapResolver(t *testing.T) {
	in := []Finding{
		{EntityType: EntityUSBankNumber, Start: 0, End: 9, Confidence: 0.65},
		{EntityType: EntityUSSSN, Start: 0, End: 9, Confidence: 0.65},
		{EntityType: EntityPhone, Start: 0, End: 12, Confidence: 0.65},
		{EntityType: EntityEmail, Start: 20, End: 30, Confidence: 0.95},
		{EntityType: EntityPerson, Start: 25, End: 35, Confidence: 0.85},
	}
	out, err := OverlapResolver{}.Apply(context.Background(), "", in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, EntityPhone, out[0].EntityType)
	assert.Equal(t, EntityEmail, out[1].EntityType)
}

func TestVerifier_DropsFalsePositives(t *testing.T) {
	client := backend.NewScriptedClient(backend.Reply("1: CONFIRM\n2: FALSE_POSITIVE"))
	d := NewDetector(Options{
		Threshold: 0.65,
		Verifier:  NewVerifier(client, "verify-model"),
	}, zerolog.Nop())

	findings := d.Detect(context.Background(), "mail a@b.io or c@d.io")
	require.Len(t, findings, 1)
	assert.Equal(t, "a@b.io", findings[0].Text)

	calls := client.CallsFor(backend.PurposeVerification)
	require.Len(t, calls, 1)
	assert.Equal(t, "verify-model", calls[0].Model)
	assert.InDelta(t, 0.1, calls[0].Temperature, 1e-9)
	assert.Contains(t, calls[0].Messages[1].Content, `2. EMAIL_ADDRESS: "c@d.io"`)
}

func TestVerifier_FailsOpen(t *testing.T) {
	tests := []struct {
		name string
		step backend.Step
	}{
		{"short reply", backend.Reply("1: FALSE_POSITIVE")},
		{"unknown item", backend.Reply("1: FALSE_POSITIVE\n3: CONFIRM")},
		{"backend error", backend.Step{Err: errors.New("down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := backend.NewScriptedClient(tt.step)
			d := NewDetector(Options{Threshold: 0.65, Verifier: NewVerifier(client, "m")}, zerolog.Nop())
			findings := d.Detect(context.Background(), "mail a@b.io or c@d.io")
			assert.Len(t, findings, 2)
		})
	}
}

func TestVerifier_SkipsCallWithoutFindings(t *testing.T) {
	client := backend.NewScriptedClient()
	d := NewDetector(Options{Threshold: 0.65, Verifier: NewVerifier(client, "m")}, zerolog.Nop())
	assert.Empty(t, d.Detect(context.Background(), "nothing personal here"))
	assert.Empty(t, client.Calls())
}

func TestParseVerdicts(t *testing.T) {
	got, err := ParseVerdicts("Here you go\n2: false positive\n1. CONFIRMED\n", 2)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, got)

	_, err = ParseVerdicts("1: CONFIRM\n1: CONFIRM", 2)
	assert.Error(t, err)
	_, err = ParseVerdicts("", 1)
	assert.Error(t, err)
}

func TestAnalyze(t *testing.T) {
	d := enhancedDetector(t)
	report := d.Analyze(context.Background(), "Contact jane@example.com about ID000042.")
	assert.True(t, report.ContainsPII)
	assert.Equal(t, 2, report.Count)
	assert.Equal(t, []string{"CUSTOM_ID", "EMAIL_ADDRESS"}, report.EntityTypes)
	assert.Equal(t, "Contact [EMAIL_ADDRESS] about [CUSTOM_ID].", report.RedactedText)
}

func TestRedact_SkipsOverlaps(t *testing.T) {
	text := "abcdefghij"
	out := Redact(text, []Finding{
		{EntityType: "A", Start: 2, End: 6},
		{EntityType: "B", Start: 4, End: 8},
	})
	assert.Equal(t, "abcd[B]ij", out)
}

func TestRedactProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	words := gen.SliceOf(gen.AlphaString())

	properties.Property("no findings is the identity", prop.ForAll(
		func(ws []string) bool {
			text := strings.Join(ws, " ")
			return Redact(text, nil) == text
		},
		words,
	))

	properties.Property("exactly the found spans are replaced", prop.ForAll(
		func(ws []string) bool {
			var raw, want []string
			for i, w := range ws {
				raw = append(raw, w, fmt.Sprintf("ID%06d", i))
				want = append(want, w, "[CUSTOM_ID]")
			}
			text := strings.Join(raw, " ")
			findings, _ := (&RuleStage{Rules: DefaultRules()}).Apply(context.Background(), text, nil)
			if len(findings) != len(ws) {
				return false
			}
			return Redact(text, findings) == strings.Join(want, " ")
		},
		words,
	))

	properties.TestingRun(t)
}

func luhnCheckDigit(payload []int) int {
	for d := 0; d < 10; d++ {
		if luhn(append(append([]int(nil), payload...), d)) {
			return d
		}
	}
	return -1
}

func TestCreditCardProperty(t *testing.T) {
	d := enhancedDetector(t)
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("luhn-valid card numbers are flagged", prop.ForAll(
		func(payload []int) bool {
			digits := append(append([]int(nil), payload...), luhnCheckDigit(payload))
			var sb strings.Builder
			for i, x := range digits {
				if i > 0 && i%4 == 0 {
					sb.WriteByte(' ')
				}
				sb.WriteByte(byte('0' + x))
			}
			findings := d.Detect(context.Background(), "charged to "+sb.String()+" last week")
			for _, f := range findings {
				if f.EntityType == EntityCreditCard && f.Confidence >= 0.65 {
					return true
				}
			}
			return false
		},
		gen.SliceOfN(15, gen.IntRange(0, 9)),
	))

	properties.TestingRun(t)
}
