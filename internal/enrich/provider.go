// Package enrich fills the commercial fields of an auction record that
// the cascade left empty, using an external LLM. The whole package is
// optional: without API keys the pipeline gets a no-op enricher and
// records pass through untouched.
package enrich

import "context"

// Provider is a single-turn LLM completion backend. Implementations
// convert between these common types and their API-specific formats and
// hold no conversation state.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "claude").
	Name() string

	// Model returns the configured model name, used to price usage.
	Model() string

	// Complete sends one prompt and returns one response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is the input for a single completion turn.
type CompletionRequest struct {
	// SystemPrompt carries the instructions and the reply schema.
	SystemPrompt string

	// UserPrompt carries the record payload.
	UserPrompt string

	// MaxTokens limits the response length. Zero uses the provider
	// default.
	MaxTokens int
}

// CompletionResponse is the model's reply for a single turn.
type CompletionResponse struct {
	// Content is the raw text reply, expected to be a JSON object.
	Content string

	// StopReason indicates why generation stopped, in the provider's
	// vocabulary ("stop", "end_turn", "length", ...).
	StopReason string

	// Usage tracks token consumption for this turn.
	Usage Usage
}
