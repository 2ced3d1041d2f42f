package backend

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	pgerrors "github.com/postgate/postgate/internal/errors"
)

// GeminiClient serves chat requests through the Gemini API.
// System messages become the system instruction; assistant turns map to
// the "model" role.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, pgerrors.NewConfigError("backend api key is required for the gemini provider")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, pgerrors.NewBackendError(pgerrors.CodeRequestFailed, "failed to create gemini client", err)
	}
	return &GeminiClient{client: client}, nil
}

// Complete sends one generate-content request.
func (g *GeminiClient) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(req.TopP))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	var system []string
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}

	result, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeTimeout, "backend call timed out", err)
		}
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeRequestFailed, "gemini generate content failed", err)
	}

	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeEmptyCompletion, "gemini returned no candidates", nil)
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeEmptyCompletion, "gemini returned empty content", nil)
	}
	return ChatResponse{Content: content, Model: req.Model}, nil
}
