package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioc-platform/agentcore/config"
)

func TestNewModelClientProviders(t *testing.T) {
	ctx := context.Background()

	cfg := &config.Config{}
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.AnthropicKey = "key"
	cfg.LLM.AnthropicModel = "claude-sonnet-4-20250514"
	client, err := newModelClient(ctx, cfg)
	require.NoError(t, err)
	assert.NotNil(t, client)

	cfg = &config.Config{}
	cfg.LLM.Provider = "openai"
	cfg.LLM.OpenAIAPIKey = "key"
	cfg.LLM.OpenAIModel = "gpt-4o"
	client, err = newModelClient(ctx, cfg)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNewModelClientUnknownProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Provider = "mistral"
	_, err := newModelClient(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral")
}
