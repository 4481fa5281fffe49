// Package openai implements the mentor adapter for the OpenAI
// chat-completions API. The compiled wire schema travels in the dedicated
// response_format field; since that channel requires an object root, bare
// array/enum roots are wrapped in a synthetic {"value": ...} object and
// unwrapped transparently from the response.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zoedsoupe/mentor/llm"
	"github.com/zoedsoupe/mentor/providers"
	"github.com/zoedsoupe/mentor/types"
)

const defaultModel = "gpt-4o-mini"

// Provider is the OpenAI adapter.
type Provider struct {
	cfg    providers.OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// New creates the OpenAI adapter, validating the configuration eagerly.
func New(cfg providers.OpenAIConfig, logger *zap.Logger) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
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

func (p *Provider) Name() string { return "openai" }

type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []oaiContentPart
}

type oaiContentPart struct {
	Type     string       `json:"type"` // text, image_url
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiJSONSchema struct {
	Name   string            `json:"name"`
	Strict bool              `json:"strict"`
	Schema *types.JSONSchema `json:"schema"`
}

type oaiResponseFormat struct {
	Type       string        `json:"type"` // json_schema
	JSONSchema oaiJSONSchema `json:"json_schema"`
}

type oaiRequest struct {
	Model          string             `json:"model"`
	Messages       []oaiMessage       `json:"messages"`
	Temperature    *float32           `json:"temperature,omitempty"`
	MaxTokens      int                `json:"max_tokens,omitempty"`
	ResponseFormat *oaiResponseFormat `json:"response_format,omitempty"`
}

type oaiChoice struct {
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason,omitempty"`
	Message      struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

type oaiResponse struct {
	ID      string      `json:"id"`
	Model   string      `json:"model"`
	Choices []oaiChoice `json:"choices"`
}

type oaiErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func convertMessages(msgs []types.Message) []oaiMessage {
	out := make([]oaiMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Parts) == 0 {
			out = append(out, oaiMessage{Role: string(m.Role), Content: m.Content})
			continue
		}
		parts := make([]oaiContentPart, 0, len(m.Parts))
		for _, part := range m.Parts {
			parts = append(parts, convertPart(part))
		}
		out = append(out, oaiMessage{Role: string(m.Role), Content: parts})
	}
	return out
}

func convertPart(part types.ContentPart) oaiContentPart {
	switch part.Kind {
	case types.ContentText:
		return oaiContentPart{Type: "text", Text: part.Text}
	case types.ContentImageURL:
		return oaiContentPart{Type: "image_url", ImageURL: &oaiImageURL{URL: part.URL}}
	case types.ContentImageInline:
		url := fmt.Sprintf("data:%s;base64,%s", part.MIME, part.Data)
		return oaiContentPart{Type: "image_url", ImageURL: &oaiImageURL{URL: url}}
	default:
		// Unknown parts degrade to a placeholder instead of failing the call.
		return oaiContentPart{Type: "text", Text: fmt.Sprintf("[unsupported content part: %s]", part.Kind)}
	}
}

// Complete issues exactly one chat-completions call and parses the first
// choice's content as the target JSON value.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	schema, wrapped := llm.WrapRoot(req.Schema)
	schema = strictRequired(schema)
	name := req.SchemaName
	if name == "" {
		name = "response"
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

	body := oaiRequest{
		Model:       providers.ChooseModel(req.Model, p.cfg.Model, defaultModel),
		Messages:    convertMessages(req.Messages),
		Temperature: temperature,
		MaxTokens:   maxTokens,
		ResponseFormat: &oaiResponseFormat{
			Type:       "json_schema",
			JSONSchema: oaiJSONSchema{Name: name, Strict: true, Schema: schema},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrAdapter, "failed to encode request").
			WithProvider(p.Name()).WithCause(err)
	}

	endpoint := fmt.Sprintf("%s/v1/chat/completions", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrAdapter, "failed to build request").
			WithProvider(p.Name()).WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	p.logger.Debug("openai request",
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

	var envelope oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, types.NewError(types.ErrResponseParse, "malformed response envelope").
			WithRetryable(true).
			WithProvider(p.Name()).
			WithCause(err)
	}
	if len(envelope.Choices) == 0 {
		return nil, types.NewError(types.ErrResponseParse, "response has no choices").
			WithRetryable(true).
			WithProvider(p.Name())
	}

	raw := envelope.Choices[0].Message.Content
	value, err := llm.ParsePayload(raw, p.Name())
	if err != nil {
		return nil, err
	}
	return &llm.Result{Value: llm.UnwrapValue(value, wrapped), Raw: raw}, nil
}

// strictRequired returns a copy of the schema where every object lists all of
// its property keys as required. Strict json_schema mode rejects optional
// keys; optionality is already expressed through the null type alternative on
// the property itself.
func strictRequired(s *types.JSONSchema) *types.JSONSchema {
	if s == nil {
		return nil
	}
	out := s.Clone()
	completeRequired(out)
	return out
}

func completeRequired(s *types.JSONSchema) {
	if s == nil {
		return
	}
	if len(s.Properties) > 0 {
		names := make([]string, 0, len(s.Properties))
		for name := range s.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		s.Required = names
		for _, prop := range s.Properties {
			completeRequired(prop)
		}
	}
	completeRequired(s.Items)
	if s.AdditionalProperties != nil {
		completeRequired(s.AdditionalProperties.Schema)
	}
	for _, def := range s.Defs {
		completeRequired(def)
	}
}

func transport(req *llm.Request, fallback *http.Client) llm.Doer {
	if req.Transport != nil {
		return req.Transport
	}
	return fallback
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp oaiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
	}
	return string(data)
}

func mapError(status int, msg, provider string) *types.Error {
	return types.NewError(types.ErrAdapter, msg).
		WithHTTPStatus(status).
		WithProvider(provider)
}
