// Package llm provides OpenAI-compatible and Anthropic LLM client
// functionality for answer generation and remote embeddings.
package llm

import (
	"context"
)

// Generator produces grounded answer text. The confidence scorer only ever
// consumes the grounding facts, never the provider, so implementations are
// swappable without touching scoring logic.
type Generator interface {
	// Generate produces a completion for the prompt. systemPrompt may be
	// empty. maxTokens <= 0 uses the provider default.
	Generate(ctx context.Context, prompt, systemPrompt string, maxTokens int, temperature float64) (string, error)
}

// EmbeddingClient generates embedding vectors for input text.
// Use this interface for dependency injection to enable mocking in tests.
type EmbeddingClient interface {
	// CreateEmbedding generates an embedding vector for the input text.
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)

	// GetModel returns the configured model name.
	GetModel() string
}

// Ensure Client implements both capabilities at compile time.
var (
	_ Generator       = (*Client)(nil)
	_ EmbeddingClient = (*Client)(nil)
	_ Generator       = (*AnthropicClient)(nil)
)
