package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comet-forge/comet/pkg/config"
	"github.com/comet-forge/comet/pkg/errkind"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Model: "gpt-4o"})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ConfigInvalid))
}

func TestNewClientUsesConfigOverrides(t *testing.T) {
	client, err := NewClient(config.LLMConfig{APIKey: "sk-test", Model: "gpt-4o", BaseURL: "http://localhost:8080/v1", Temperature: 0.3})
	require.NoError(t, err)
	oai, ok := client.(*OpenAIClient)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", oai.model)
	assert.Equal(t, float32(0.3), oai.temperature)
}

func TestNewClientDefaultsModelWhenUnset(t *testing.T) {
	client, err := NewClient(config.LLMConfig{APIKey: "sk-test"})
	require.NoError(t, err)
	oai, ok := client.(*OpenAIClient)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", oai.model)
}
