// Package backend provides the chat-completion clients used for post
// generation, summarization and PII verification.
package backend

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/postgate/postgate/internal/config"
	pgerrors "github.com/postgate/postgate/internal/errors"
	"github.com/postgate/postgate/internal/observability"
)

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Purpose labels a call for logging and metrics.
type Purpose string

const (
	PurposeGeneration   Purpose = "generation"
	PurposeSummary      Purpose = "summary"
	PurposeVerification Purpose = "verification"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    Role
	Content string
}

// ChatRequest is a non-streaming completion request. Zero TopP and
// MaxTokens leave the provider defaults in place.
type ChatRequest struct {
	Purpose     Purpose
	Model       string
	Messages    []Message
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// ChatResponse carries the first choice's content.
type ChatResponse struct {
	Content string
	Model   string
}

// ChatClient is the generation backend capability.
//
// Implementations return *errors.PostgateError values in the BACKEND
// category: a missing choice or blank content is EMPTY_COMPLETION, a non-2xx
// status BAD_STATUS, an undecodable body MALFORMED_RESPONSE and an expired
// deadline TIMEOUT.
type ChatClient interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// New builds the configured provider wrapped with the timeout and
// concurrency bound.
func New(ctx context.Context, cfg config.BackendConfig, metrics *observability.Metrics, logger zerolog.Logger) (ChatClient, error) {
	var inner ChatClient
	switch cfg.Provider {
	case config.ProviderOpenAICompatible:
		if cfg.APIKey == "" {
			return nil, pgerrors.NewConfigError("backend api key is required for the openai_compatible provider")
		}
		inner = NewOpenAIClient(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Referer: cfg.Referer,
			Title:   cfg.Title,
		})
	case config.ProviderGemini:
		g, err := NewGeminiClient(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		inner = g
	case config.ProviderMock:
		inner = NewEchoClient()
	default:
		return nil, pgerrors.NewConfigError(fmt.Sprintf("unsupported backend provider: %s", cfg.Provider))
	}

	return NewBounded(inner, BoundedOptions{
		Timeout:        cfg.Timeout,
		MaxConcurrency: cfg.MaxConcurrency,
		Metrics:        metrics,
	}, logger), nil
}
