package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient is the single LLM backend spec.md §6 names: an
// OpenAI-compatible chat completions endpoint, configured entirely by
// llm.base_url / llm.api_key / llm.model / llm.temperature. BaseURL lets
// the same client target any OpenAI-compatible gateway (vLLM, LiteLLM,
// Azure OpenAI), matching original_source/comet/llm/client.py's single
// client with no provider dispatch.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIClient builds the backend from the llm.* config section.
func NewOpenAIClient(apiKey, baseURL, model string, temperature float32) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm.api_key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	slog.Info("initializing LLM client", "model", model, "base_url", baseURL)
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
	}, nil
}

// Generate implements the LLMClient interface.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	slog.Debug("generating text via LLM", "model", o.model)
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a helpful assistant."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: o.temperature,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("LLM API call failed", "error", err)
		return "", fmt.Errorf("LLM API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("LLM returned no choices")
		return "", fmt.Errorf("LLM returned no choices")
	}
	slog.Debug("received response from LLM", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
