// Package claude implements the mentor adapter for the Anthropic messages
// API. Anthropic has no native structured-output channel, so the compiled
// wire schema is embedded into the system prompt and the model is instructed
// to respond with JSON only; markdown fences around the payload are tolerated
// by the shared extraction path.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zoedsoupe/mentor/llm"
	"github.com/zoedsoupe/mentor/providers"
	"github.com/zoedsoupe/mentor/types"
)

const (
	defaultModel     = "claude-3-5-sonnet-20241022"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

// Provider is the Anthropic adapter.
type Provider struct {
	cfg    providers.AnthropicConfig
	client *http.Client
	logger *zap.Logger
}

// New creates the Anthropic adapter, validating the configuration eagerly.
func New(cfg providers.AnthropicConfig, logger *zap.Logger) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

func (p *Provider) Name() string { return "anthropic" }

type claudeMessage struct {
	Role    string          `json:"role"` // user, assistant
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type   string        `json:"type"` // text, image
	Text   string        `json:"text,omitempty"`
	Source *claudeSource `json:"source,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"` // base64, url
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature *float32        `json:"temperature,omitempty"`
}

type claudeResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason,omitempty"`
}

type claudeErrorResp struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// convertMessages splits the conversation into the Anthropic shape: system
// messages join the side-channel prompt, the rest become content blocks.
func convertMessages(msgs []types.Message) (string, []claudeMessage) {
	var system []string
	out := make([]claudeMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		out = append(out, claudeMessage{Role: string(m.Role), Content: convertParts(m)})
	}
	return strings.Join(system, "\n\n"), out
}

func convertParts(m types.Message) []claudeContent {
	if len(m.Parts) == 0 {
		return []claudeContent{{Type: "text", Text: m.Content}}
	}
	blocks := make([]claudeContent, 0, len(m.Parts))
	for _, part := range m.Parts {
		switch part.Kind {
		case types.ContentText:
			blocks = append(blocks, claudeContent{Type: "text", Text: part.Text})
		case types.ContentImageURL:
			blocks = append(blocks, claudeContent{Type: "image", Source: &claudeSource{Type: "url", URL: part.URL}})
		case types.ContentImageInline:
			blocks = append(blocks, claudeContent{Type: "image", Source: &claudeSource{
				Type:      "base64",
				MediaType: part.MIME,
				Data:      part.Data,
			}})
		default:
			blocks = append(blocks, claudeContent{Type: "text", Text: fmt.Sprintf("[unsupported content part: %s]", part.Kind)})
		}
	}
	return blocks
}

func schemaInstructions(schema *types.JSONSchema) string {
	encoded, err := schema.ToJSONIndent()
	if err != nil {
		encoded, _ = schema.ToJSON()
	}
	return "Respond only with a JSON value that conforms to the following JSON Schema. " +
		"Do not include any prose before or after the JSON.\n\n" + string(encoded)
}

// Complete issues exactly one messages call and parses the concatenated text
// blocks of the response as the target JSON value.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	system, messages := convertMessages(req.Messages)
	if req.Schema != nil {
		instr := schemaInstructions(req.Schema)
		if system == "" {
			system = instr
		} else {
			system = system + "\n\n" + instr
		}
	}

	temperature := req.Temperature
	if temperature == nil && p.cfg.Temperature != 0 {
		t := p.cfg.Temperature
		temperature = &t
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	body := claudeRequest{
		Model:       providers.ChooseModel(req.Model, p.cfg.Model, defaultModel),
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    messages,
		Temperature: temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrAdapter, "failed to encode request").
			WithProvider(p.Name()).WithCause(err)
	}

	endpoint := fmt.Sprintf("%s/v1/messages", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrAdapter, "failed to build request").
			WithProvider(p.Name()).WithCause(err)
	}
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	p.logger.Debug("anthropic request",
		zap.String("trace_id", req.TraceID),
		zap.String("model", body.Model),
		zap.Int("messages", len(body.Messages)))

	resp, err := transport(req, p.client).Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrAdapter, err.Error()).
			WithHTTPStatus(http.StatusBadGateway).
			WithProvider(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapError(resp.StatusCode, readErrMsg(resp.Body), p.Name())
	}

	var envelope claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, types.NewError(types.ErrResponseParse, "malformed response envelope").
			WithRetryable(true).
			WithProvider(p.Name()).
			WithCause(err)
	}

	var text strings.Builder
	for _, block := range envelope.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	raw := text.String()
	if raw == "" {
		return nil, types.NewError(types.ErrResponseParse, "response has no text content").
			WithRetryable(true).
			WithProvider(p.Name())
	}

	value, err := llm.ParsePayload(raw, p.Name())
	if err != nil {
		return nil, err
	}
	return &llm.Result{Value: value, Raw: raw}, nil
}

func transport(req *llm.Request, fallback *http.Client) llm.Doer {
	if req.Transport != nil {
		return req.Transport
	}
	return fallback
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp claudeErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
	}
	return string(data)
}

func mapError(status int, msg, provider string) *types.Error {
	// Anthropic signals overload with a vendor-specific 529.
	if status == 529 {
		msg = "api overloaded: " + msg
	}
	return types.NewError(types.ErrAdapter, msg).
		WithHTTPStatus(status).
		WithProvider(provider)
}
