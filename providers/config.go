// Package providers holds per-vendor adapter configuration. Configs are
// validated eagerly, before any network activity, so a bad option fails the
// session constructor instead of the first completion.
package providers

import (
	"fmt"
	"time"

	"github.com/zoedsoupe/mentor/types"
)

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey      string        `json:"api_key" yaml:"api_key"`
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	Model       string        `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float32       `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Validate checks the configuration and names the offending option.
func (c OpenAIConfig) Validate() error {
	return validateCommon("openai", c.APIKey, float64(c.Temperature), 2, c.MaxTokens, c.Timeout)
}

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey      string        `json:"api_key" yaml:"api_key"`
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	Model       string        `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float32       `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Validate checks the configuration and names the offending option.
func (c AnthropicConfig) Validate() error {
	return validateCommon("anthropic", c.APIKey, float64(c.Temperature), 1, c.MaxTokens, c.Timeout)
}

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey      string        `json:"api_key" yaml:"api_key"`
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	Model       string        `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float32       `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Validate checks the configuration and names the offending option.
func (c GeminiConfig) Validate() error {
	return validateCommon("gemini", c.APIKey, float64(c.Temperature), 2, c.MaxTokens, c.Timeout)
}

func validateCommon(provider, apiKey string, temperature, maxTemp float64, maxTokens int, timeout time.Duration) error {
	if apiKey == "" {
		return types.NewError(types.ErrConfiguration, provider+": api_key is required").WithProvider(provider)
	}
	if temperature < 0 || temperature > maxTemp {
		return types.NewError(types.ErrConfiguration,
			fmt.Sprintf("%s: temperature %v is outside [0, %v]", provider, temperature, maxTemp)).WithProvider(provider)
	}
	if maxTokens < 0 {
		return types.NewError(types.ErrConfiguration,
			fmt.Sprintf("%s: max_tokens must not be negative, got %d", provider, maxTokens)).WithProvider(provider)
	}
	if timeout < 0 {
		return types.NewError(types.ErrConfiguration,
			fmt.Sprintf("%s: timeout must not be negative, got %s", provider, timeout)).WithProvider(provider)
	}
	return nil
}

// ChooseModel selects the model to use: the per-request model when set,
// otherwise the configured model, otherwise the adapter's default.
func ChooseModel(requestModel, configModel, defaultModel string) string {
	if requestModel != "" {
		return requestModel
	}
	if configModel != "" {
		return configModel
	}
	return defaultModel
}
