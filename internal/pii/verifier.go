package pii

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/postgate/postgate/internal/backend"
	pgerrors "github.com/postgate/postgate/internal/errors"
)

const (
	verifyTemperature = 0.1
	verifyMaxTokens   = 1000
	verifyContext     = 40
)

// FindingsMarker separates the instructions from the numbered items in a
// verification request.
const FindingsMarker = "Findings:"

const verifySystemPrompt = `You are a PII verification assistant. You receive numbered findings produced by an automated detector, each with a short excerpt of surrounding text.
Decide for every finding whether it is genuine personal or sensitive information about a real individual, or a false positive such as a version number, a citation, a product code or a public figure mentioned in passing.
Answer with exactly one line per finding, in the form "<number>: CONFIRM" or "<number>: FALSE_POSITIVE". Do not add any other text.`

var verdictLine = regexp.MustCompile(`(?i)^\s*(\d+)\s*[:.)\-]\s*(confirm(?:ed)?|false[_ ]positive)\b`)

// Verifier asks the verification model to confirm or reject each finding.
// Items are matched to verdicts by their explicit number; any disagreement
// between the items sent and the verdicts received is an error.
type Verifier struct {
	client backend.ChatClient
	model  string
}

// NewVerifier creates a verifier using model on client.
func NewVerifier(client backend.ChatClient, model string) *Verifier {
	return &Verifier{client: client, model: model}
}

func (v *Verifier) Name() string { return "verifier" }

// Apply drops findings the model marks FALSE_POSITIVE. A failed call or an
// unusable reply returns an error and the caller keeps the input.
func (v *Verifier) Apply(ctx context.Context, text string, in []Finding) ([]Finding, error) {
	if len(in) == 0 {
		return in, nil
	}

	resp, err := v.client.Complete(ctx, backend.ChatRequest{
		Purpose: backend.PurposeVerification,
		Model:   v.model,
		Messages: []backend.Message{
			{Role: backend.RoleSystem, Content: verifySystemPrompt},
			{Role: backend.RoleUser, Content: buildVerificationPrompt(text, in)},
		},
		Temperature: verifyTemperature,
		MaxTokens:   verifyMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	verdicts, err := ParseVerdicts(resp.Content, len(in))
	if err != nil {
		return nil, err
	}

	out := make([]Finding, 0, len(in))
	for i, f := range in {
		if verdicts[i] {
			out = append(out, f)
		}
	}
	return out, nil
}

func buildVerificationPrompt(text string, findings []Finding) string {
	var sb strings.Builder
	sb.WriteString(FindingsMarker)
	sb.WriteByte('\n')
	for i, f := range findings {
		lo := f.Start - verifyContext
		if lo < 0 {
			lo = 0
		}
		hi := f.End + verifyContext
		if hi > len(text) {
			hi = len(text)
		}
		excerpt := strings.Join(strings.Fields(strings.ToValidUTF8(text[lo:hi], "")), " ")
		fmt.Fprintf(&sb, "%d. %s: %q (context: %q)\n", i+1, f.EntityType, f.Text, excerpt)
	}
	return sb.String()
}

// ParseVerdicts reads "<n>: CONFIRM|FALSE_POSITIVE" lines for n items and
// returns confirmed[i] for item i+1. Lines that carry no verdict are ignored.
// A missing, duplicate or out-of-range number is a VERIFICATION_MISMATCH.
func ParseVerdicts(reply string, n int) ([]bool, error) {
	confirmed := make([]bool, n)
	seen := make([]bool, n)
	count := 0

	for _, line := range strings.Split(reply, "\n") {
		m := verdictLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil || num < 1 || num > n {
			return nil, mismatch(fmt.Sprintf("verdict for unknown item %s", m[1]), n, count)
		}
		if seen[num-1] {
			return nil, mismatch(fmt.Sprintf("duplicate verdict for item %d", num), n, count)
		}
		seen[num-1] = true
		count++
		confirmed[num-1] = strings.HasPrefix(strings.ToLower(m[2]), "confirm")
	}

	if count != n {
		return nil, mismatch(fmt.Sprintf("expected %d verdicts, got %d", n, count), n, count)
	}
	return confirmed, nil
}

func mismatch(msg string, want, got int) error {
	return pgerrors.NewBackendError(pgerrors.CodeVerificationMismatch, msg, nil).
		WithDetails(map[string]interface{}{"expected": want, "received": got})
}
