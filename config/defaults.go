package config

import (
	"time"

	"github.com/zoedsoupe/mentor/providers"
)

// DefaultConfig returns the configuration used before any file or
// environment override. API keys have no default and must be provided.
func DefaultConfig() *Config {
	return &Config{
		OpenAI: providers.OpenAIConfig{
			BaseURL:     "https://api.openai.com",
			Temperature: 0.7,
			MaxTokens:   4096,
			Timeout:     60 * time.Second,
		},
		Anthropic: providers.AnthropicConfig{
			BaseURL:     "https://api.anthropic.com",
			Temperature: 0.7,
			MaxTokens:   4096,
			Timeout:     60 * time.Second,
		},
		Gemini: providers.GeminiConfig{
			BaseURL:     "https://generativelanguage.googleapis.com",
			Temperature: 0.7,
			MaxTokens:   4096,
			Timeout:     60 * time.Second,
		},
		Session: SessionConfig{
			MaxRetries:  3,
			BackoffBase: time.Second,
			BackoffMax:  30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
