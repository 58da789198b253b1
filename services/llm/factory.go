package llm

import (
	"github.com/comet-forge/comet/pkg/config"
	"github.com/comet-forge/comet/pkg/errkind"
)

// NewClient builds the single OpenAI-compatible LLMClient backend
// spec.md §6 names, from llm.base_url / llm.api_key / llm.model /
// llm.temperature.
func NewClient(cfg config.LLMConfig) (LLMClient, error) {
	c, err := NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature)
	if err != nil {
		return nil, errkind.Wrap("llm.NewClient", errkind.ConfigInvalid, err)
	}
	return c, nil
}
