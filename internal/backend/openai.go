package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	pgerrors "github.com/postgate/postgate/internal/errors"
)

// maxErrorBody caps how much of a failed response body is kept in errors.
const maxErrorBody = 512

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint
// such as OpenRouter.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	// Referer and Title become the HTTP-Referer and X-Title headers.
	Referer string
	Title   string
	// HTTPClient overrides the default client; deadlines come from ctx.
	HTTPClient *http.Client
}

// OpenAIClient speaks the /chat/completions protocol.
type OpenAIClient struct {
	cfg  OpenAIConfig
	http *http.Client
}

// NewOpenAIClient creates a client for cfg.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAIClient{cfg: cfg, http: hc}
}

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	TopP        float64             `json:"top_p,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Stream      bool                `json:"stream"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one non-streaming completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body := openAIChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	}
	for _, m := range req.Messages {
		role := m.Role
		if role == "" {
			role = RoleUser
		}
		body.Messages = append(body.Messages, openAIChatMessage{Role: string(role), Content: m.Content})
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return ChatResponse{}, pgerrors.NewInternalError("failed to encode chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeRequestFailed, "failed to build chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		httpReq.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ChatResponse{}, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatResponse{}, classifyTransportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := respBytes
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeBadStatus,
			fmt.Sprintf("chat completion returned status %d", resp.StatusCode),
			errors.New(strings.TrimSpace(string(snippet)))).
			WithDetails(map[string]interface{}{"status": resp.StatusCode})
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeMalformedResponse, "failed to decode chat completion", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeBadStatus, "chat completion reported an error", errors.New(parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeEmptyCompletion, "chat completion returned no choices", nil)
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return ChatResponse{}, pgerrors.NewBackendError(pgerrors.CodeEmptyCompletion, "chat completion returned empty content", nil)
	}

	return ChatResponse{Content: content, Model: parsed.Model}, nil
}

// classifyTransportError maps network and deadline failures.
func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pgerrors.NewBackendError(pgerrors.CodeTimeout, "backend call timed out", err)
	}
	return pgerrors.NewBackendError(pgerrors.CodeRequestFailed, "backend call failed", err)
}
