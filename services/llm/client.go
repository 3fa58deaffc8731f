package llm

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any generation backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Backend pairs a client with the identifier used for rate limiting and
// failure reporting. IDs must be unique within a fallback chain.
type Backend struct {
	ID     string
	Client LLMClient
}

// Pacer spaces out calls to a rate-limited backend. Wait blocks until the
// backend's next slot is available or the context is done.
type Pacer interface {
	Wait(ctx context.Context, backendID string) error
}
