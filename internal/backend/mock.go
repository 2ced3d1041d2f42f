package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	pgerrors "github.com/postgate/postgate/internal/errors"
)

// ClientFunc adapts a function to ChatClient.
type ClientFunc func(ctx context.Context, req ChatRequest) (ChatResponse, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return f(ctx, req)
}

// Step is one scripted reply.
type Step struct {
	Content string
	Err     error
}

// ScriptedClient replays steps in order and records every request.
// Once the script runs out every call fails with EMPTY_COMPLETION.
type ScriptedClient struct {
	mu    sync.Mutex
	steps []Step
	calls []ChatRequest
}

// NewScriptedClient creates a client that replays steps.
func NewScriptedClient(steps ...Step) *ScriptedClient {
	return &ScriptedClient{steps: steps}
}

// Reply is shorthand for a successful step.
func Reply(content string) Step {
	return Step{Content: content}
}

// Complete returns the next scripted step.
func (s *ScriptedClient) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, req)
	if err := ctx.Err(); err != nil {
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeTimeout, "backend call timed out", err)
	}
	if len(s.steps) == 0 {
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeEmptyCompletion, "script exhausted", nil)
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.Err != nil {
		return ChatResponse{}, step.Err
	}
	if strings.TrimSpace(step.Content) == "" {
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeEmptyCompletion, "chat completion returned empty content", nil)
	}
	return ChatResponse{Content: step.Content, Model: req.Model}, nil
}

// Calls returns a copy of the recorded requests.
func (s *ScriptedClient) Calls() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.calls...)
}

// CallsFor returns the recorded requests with the given purpose.
func (s *ScriptedClient) CallsFor(p Purpose) []ChatRequest {
	var out []ChatRequest
	for _, c := range s.Calls() {
		if c.Purpose == p {
			out = append(out, c)
		}
	}
	return out
}

// EchoClient is the offline "mock" provider. It answers without any network
// access: generation returns an excerpt of the supplied content tagged with
// the sampling temperature, summary returns a prefix and verification
// confirms every item.
type EchoClient struct{}

// NewEchoClient creates the offline client.
func NewEchoClient() *EchoClient {
	return &EchoClient{}
}

// Complete answers req deterministically.
func (EchoClient) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeTimeout, "backend call timed out", err)
	}

	var user string
	for _, m := range req.Messages {
		if m.Role == RoleUser {
			user = m.Content
		}
	}

	var out string
	switch req.Purpose {
	case PurposeVerification:
		var lines []string
		n := 0
		if i := strings.LastIndex(user, "Findings:"); i >= 0 {
			user = user[i:]
		}
		for _, l := range strings.Split(user, "\n") {
			if strings.HasPrefix(strings.TrimSpace(l), fmt.Sprintf("%d.", n+1)) {
				n++
				lines = append(lines, fmt.Sprintf("%d: CONFIRM", n))
			}
		}
		out = strings.Join(lines, "\n")
	case PurposeSummary:
		out = prefixRunes(user, 1000)
	default:
		out = fmt.Sprintf("Notes from my reading (t=%.2f): %s #llm", req.Temperature, prefixRunes(strings.Join(strings.Fields(user), " "), 600))
	}
	if strings.TrimSpace(out) == "" {
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeEmptyCompletion, "chat completion returned empty content", nil)
	}
	return ChatResponse{Content: out, Model: "echo"}, nil
}

func prefixRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
