package llm

import "context"

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message) (*Response, error)

	// Stream sends a chat completion request and returns a channel of incremental deltas.
	// The channel is closed when the response ends or ctx is cancelled.
	Stream(ctx context.Context, messages []Message) (<-chan Delta, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	TopP        float32

	// JSONMode asks the backend to constrain replies to a single JSON object.
	JSONMode bool
}

// Collect drains a stream into a single string, returning the first error seen.
func Collect(stream <-chan Delta) (string, error) {
	var out []byte
	for d := range stream {
		if d.Err != nil {
			return string(out), d.Err
		}
		out = append(out, d.Content...)
	}
	return string(out), nil
}
