package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zoedsoupe/mentor/llm"
	"github.com/zoedsoupe/mentor/providers"
	"github.com/zoedsoupe/mentor/types"
)

func testConfig(baseURL string) providers.AnthropicConfig {
	return providers.AnthropicConfig{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		Temperature: 0.2,
		MaxTokens:   256,
		Timeout:     5 * time.Second,
	}
}

func objectSchema() *types.JSONSchema {
	s := types.NewObjectSchema()
	s.AddProperty("name", types.NewStringSchema())
	s.AddRequired("name")
	return s
}

func messagesBody(text string) string {
	body, _ := json.Marshal(map[string]any{
		"id":    "msg_1",
		"model": "claude-3-5-sonnet-20241022",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"stop_reason": "end_turn",
	})
	return string(body)
}

func TestNew_ValidatesConfig(t *testing.T) {
	_, err := New(providers.AnthropicConfig{}, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))

	p, err := New(testConfig(""), nil)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}

func TestComplete_EmbedsSchemaInSystemPrompt(t *testing.T) {
	var captured claudeRequest
	var gotKey, gotVersion, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(messagesBody(`{"name":"Ana"}`)))
	}))
	defer srv.Close()

	p, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	result, err := p.Complete(context.Background(), &llm.Request{
		Schema: objectSchema(),
		Messages: []types.Message{
			types.NewSystemMessage("be brief"),
			types.NewUserMessage("who is Ana?"),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, anthropicVersion, gotVersion)
	assert.Equal(t, "/v1/messages", gotPath)

	// System messages and the schema contract share the side channel; user
	// turns stay in the messages list.
	assert.Contains(t, captured.System, "be brief")
	assert.Contains(t, captured.System, "JSON Schema")
	assert.Contains(t, captured.System, `"name"`)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)

	obj, ok := result.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ana", obj["name"])
}

func TestComplete_TolerantOfFencedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(messagesBody("```json\n{\"name\":\"Ana\"}\n```")))
	}))
	defer srv.Close()

	p, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	result, err := p.Complete(context.Background(), &llm.Request{
		Schema:   objectSchema(),
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	obj, ok := result.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ana", obj["name"])
	assert.Contains(t, result.Raw, "```", "raw keeps the fenced payload for retry feedback")
}

func TestComplete_ImageParts(t *testing.T) {
	var captured claudeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(messagesBody(`{"name":"Ana"}`)))
	}))
	defer srv.Close()

	p, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	msg := types.NewUserMessage("").WithParts(
		types.TextPart("describe this"),
		types.ImageInlinePart("aGVsbG8=", "image/png"),
		types.ImageURLPart("https://example.com/pic.png"),
	)
	_, err = p.Complete(context.Background(), &llm.Request{
		Schema:   objectSchema(),
		Messages: []types.Message{msg},
	})
	require.NoError(t, err)

	require.Len(t, captured.Messages, 1)
	blocks := captured.Messages[0].Content
	require.Len(t, blocks, 3)
	assert.Equal(t, "text", blocks[0].Type)
	assert.Equal(t, "base64", blocks[1].Source.Type)
	assert.Equal(t, "image/png", blocks[1].Source.MediaType)
	assert.Equal(t, "url", blocks[2].Source.Type)
	assert.Equal(t, "https://example.com/pic.png", blocks[2].Source.URL)
}

func TestComplete_MapsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	p, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), &llm.Request{
		Schema:   objectSchema(),
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.Error(t, err)

	apiErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrAdapter, apiErr.Code)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatus)
	assert.False(t, apiErr.Retryable)
	assert.Contains(t, apiErr.Message, "slow down")
}

func TestComplete_MapsOverloadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"error":{"type":"overloaded_error","message":"try later"}}`))
	}))
	defer srv.Close()

	p, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), &llm.Request{
		Schema:   objectSchema(),
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.Error(t, err)

	apiErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, 529, apiErr.HTTPStatus)
	assert.Contains(t, apiErr.Message, "api overloaded")
}

func TestComplete_EmptyContentIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"msg_1","content":[]}`))
	}))
	defer srv.Close()

	p, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), &llm.Request{
		Schema:   objectSchema(),
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrResponseParse, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestComplete_DefaultMaxTokens(t *testing.T) {
	var captured claudeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(messagesBody(`{"name":"Ana"}`)))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxTokens = 0
	p, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), &llm.Request{
		Schema:   objectSchema(),
		Messages: []types.Message{types.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, defaultMaxTokens, captured.MaxTokens, "max_tokens is mandatory on this API")
}

func TestComplete_ZeroTemperatureOverride(t *testing.T) {
	var captured claudeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(messagesBody(`{"name":"Ana"}`)))
	}))
	defer srv.Close()

	p, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), &llm.Request{
		Temperature: llm.Float32Ptr(0),
		Schema:      objectSchema(),
		Messages:    []types.Message{types.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	require.NotNil(t, captured.Temperature, "zero is a real override, not the config fallback")
	assert.Zero(t, *captured.Temperature)
}
