// Package llm provides clients for the text generation service used to
// synthesize queries and cleaning plans.
package llm

import (
	"context"
)

// GenerateResponseResult is the completion text plus token usage.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMClient defines the interface for generation calls.
// Use this interface for dependency injection to enable mocking in tests.
type LLMClient interface {
	// GenerateResponse performs one blocking completion call. It never retries.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, thinking bool) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Ensure the clients implement LLMClient at compile time.
var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
)
