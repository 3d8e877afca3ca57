package config

import (
	"errors"
	"fmt"

	"github.com/entrhq/webrunner/pkg/llm/openai"
)

// ErrNoAPIKey is returned by BuildProvider when no API key was configured.
var ErrNoAPIKey = errors.New("API key is required. Set OPENAI_API_KEY, use --api-key, or set llm.api_key in ~/.webrunner/config.yaml")

// BuildProvider creates the extraction model provider from resolved settings.
// Precedence between flags, environment and file is settled before this is
// called, see ApplyEnv.
func BuildProvider(c LLMConfig) (*openai.Provider, error) {
	if c.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	model := c.Model
	if model == "" {
		model = DefaultModel
	}

	opts := []openai.ProviderOption{
		openai.WithModel(model),
		openai.WithTemperature(c.Temperature),
	}
	if c.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(c.BaseURL))
	}
	if c.MaxTokens > 0 {
		opts = append(opts, openai.WithMaxTokens(c.MaxTokens))
	}

	provider, err := openai.NewProvider(c.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	return provider, nil
}
