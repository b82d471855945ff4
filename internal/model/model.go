package model

import (
	"context"

	"github.com/stupiduntilnot/relaybot/internal/history"
)

// EmptyResponse replaces a blank completion so callers always have text to
// deliver.
const EmptyResponse = "(empty model response)"

// ChatRequest is one completion call.
type ChatRequest struct {
	// Model is the provider's wire model id.
	Model           string
	Messages        []history.Message
	MaxOutputTokens int
	Temperature     float64
}

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the chat gateway abstraction used by the pipeline. Failures
// are returned as *ProviderError.
type Provider interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (CompletionResponse, error)
}

// ImageProvider generates a single image for a text prompt.
type ImageProvider interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}
