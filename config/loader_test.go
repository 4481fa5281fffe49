package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://api.openai.com", cfg.OpenAI.BaseURL)
	assert.Equal(t, "https://api.anthropic.com", cfg.Anthropic.BaseURL)
	assert.Equal(t, "https://generativelanguage.googleapis.com", cfg.Gemini.BaseURL)
	assert.Equal(t, 3, cfg.Session.MaxRetries)
	assert.Equal(t, time.Second, cfg.Session.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Session.BackoffMax)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.OpenAI.APIKey, "keys have no default")
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mentor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
openai:
  api_key: sk-file
  model: gpt-4o
  temperature: 0.3
session:
  max_retries: 5
  debug: true
log:
  level: debug
`), 0644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-file", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.InDelta(t, 0.3, float64(cfg.OpenAI.Temperature), 0.001)
	assert.Equal(t, 5, cfg.Session.MaxRetries)
	assert.True(t, cfg.Session.Debug)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Values the file does not mention keep their defaults.
	assert.Equal(t, "https://api.openai.com", cfg.OpenAI.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Session.BackoffMax)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mentor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
openai:
  api_key: sk-file
session:
  max_retries: 5
`), 0644))

	t.Setenv("MENTOR_OPENAI_API_KEY", "sk-env")
	t.Setenv("MENTOR_SESSION_MAX_RETRIES", "7")
	t.Setenv("MENTOR_SESSION_BACKOFF_BASE", "2s")
	t.Setenv("MENTOR_GEMINI_API_KEY", "g-env")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.OpenAI.APIKey)
	assert.Equal(t, 7, cfg.Session.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Session.BackoffBase)
	assert.Equal(t, "g-env", cfg.Gemini.APIKey)
}

func TestLoad_CustomEnvPrefix(t *testing.T) {
	t.Setenv("APP_ANTHROPIC_API_KEY", "a-env")

	cfg, err := NewLoader().WithEnvPrefix("APP").Load()
	require.NoError(t, err)
	assert.Equal(t, "a-env", cfg.Anthropic.APIKey)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/mentor.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Session.MaxRetries)
}

func TestLoad_MalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mentor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("openai: [not a mapping"), 0644))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestLoad_BadEnvValueFails(t *testing.T) {
	t.Setenv("MENTOR_SESSION_MAX_RETRIES", "lots")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MENTOR_SESSION_MAX_RETRIES")
}

func TestSessionConfig_Backoff(t *testing.T) {
	p := SessionConfig{BackoffBase: time.Second, BackoffMax: 10 * time.Second}.Backoff()
	assert.Equal(t, time.Second, p.Base)
	assert.Equal(t, 10*time.Second, p.Max)
}
