// Package llm adapts chat-completion providers to a single text-in/text-out call.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/autospook/config"
)

// Request is a single-turn completion request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSON asks providers that support it for a JSON object response.
	JSON bool
}

// Response carries the generated text and token accounting.
type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Provider is implemented by every LLM backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// NewProvider builds a provider from its config entry.
func NewProvider(name string, cfg config.LLMProvider) (Provider, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(name, cfg.APIKey, cfg.BaseURL, timeout), nil
	case "anthropic":
		return NewAnthropicProvider(name, cfg.APIKey, cfg.BaseURL, timeout, cfg.MaxRetries), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}

// Cost estimates spend for a call given per-1K token prices.
func Cost(model config.LLMModel, inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1000*model.CostPer1K + float64(outputTokens)/1000*model.CostPer1KOutput
}
