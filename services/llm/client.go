package llm

import "context"

// Message is a single turn of a chat-style exchange. Kept local to this
// package instead of importing the teacher's orchestrator-owned
// datatypes.Message, since that type belonged to a product surface this
// domain does not carry forward.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend
// TODO: Add more methods to this interface.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}
