// Package gemini implements the mentor adapter for the Google Gemini
// generateContent API. The compiled wire schema travels in
// generationConfig.responseSchema with responseMimeType set to
// application/json; $ref definitions are inlined because that field speaks an
// OpenAPI subset, and bare non-object roots are wrapped in a synthetic
// {"value": ...} object and unwrapped from the response.
package gemini

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

const defaultModel = "gemini-2.0-flash"

// Provider is the Gemini adapter.
type Provider struct {
	cfg    providers.GeminiConfig
	client *http.Client
	logger *zap.Logger
}

// New creates the Gemini adapter, validating the configuration eagerly.
func New(cfg providers.GeminiConfig, logger *zap.Logger) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
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

func (p *Provider) Name() string { return "gemini" }

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MIMEType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"` // user, model
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float32          `json:"temperature,omitempty"`
	MaxOutputTokens  int               `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string            `json:"responseMimeType,omitempty"`
	ResponseSchema   *types.JSONSchema `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// convertMessages splits the conversation into the Gemini shape: system
// messages join the systemInstruction side channel, assistant turns become
// role "model".
func convertMessages(msgs []types.Message) (*geminiContent, []geminiContent) {
	var system []string
	out := make([]geminiContent, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := "user"
		if m.Role == types.RoleAssistant {
			role = "model"
		}
		out = append(out, geminiContent{Role: role, Parts: convertParts(m)})
	}
	if len(system) == 0 {
		return nil, out
	}
	return &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}, out
}

func convertParts(m types.Message) []geminiPart {
	if len(m.Parts) == 0 {
		return []geminiPart{{Text: m.Content}}
	}
	parts := make([]geminiPart, 0, len(m.Parts))
	for _, part := range m.Parts {
		switch part.Kind {
		case types.ContentText:
			parts = append(parts, geminiPart{Text: part.Text})
		case types.ContentImageURL:
			parts = append(parts, geminiPart{FileData: &geminiFileData{MIMEType: part.MIME, FileURI: part.URL}})
		case types.ContentImageInline:
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{MIMEType: part.MIME, Data: part.Data}})
		default:
			parts = append(parts, geminiPart{Text: fmt.Sprintf("[unsupported content part: %s]", part.Kind)})
		}
	}
	return parts
}

// Complete issues exactly one generateContent call and parses the first
// candidate's text parts as the target JSON value.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	schema, wrapped := llm.WrapRoot(req.Schema)
	// responseSchema speaks an OpenAPI subset with no $ref support;
	// definitions are expanded in place.
	schema = llm.InlineRefs(schema)
	system, contents := convertMessages(req.Messages)

	temperature := req.Temperature
	if temperature == nil && p.cfg.Temperature != 0 {
		t := p.cfg.Temperature
		temperature = &t
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	body := geminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      temperature,
			MaxOutputTokens:  maxTokens,
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrAdapter, "failed to encode request").
			WithProvider(p.Name()).WithCause(err)
	}

	model := providers.ChooseModel(req.Model, p.cfg.Model, defaultModel)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(p.cfg.BaseURL, "/"), model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrAdapter, "failed to build request").
			WithProvider(p.Name()).WithCause(err)
	}
	httpReq.Header.Set("x-goog-api-key", p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	p.logger.Debug("gemini request",
		zap.String("trace_id", req.TraceID),
		zap.String("model", model),
		zap.Int("contents", len(contents)))

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

	var envelope geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, types.NewError(types.ErrResponseParse, "malformed response envelope").
			WithRetryable(true).
			WithProvider(p.Name()).
			WithCause(err)
	}
	if len(envelope.Candidates) == 0 {
		return nil, types.NewError(types.ErrResponseParse, "response has no candidates").
			WithRetryable(true).
			WithProvider(p.Name())
	}

	var text strings.Builder
	for _, part := range envelope.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	raw := text.String()
	if raw == "" {
		return nil, types.NewError(types.ErrResponseParse, "response has no text parts").
			WithRetryable(true).
			WithProvider(p.Name())
	}

	value, err := llm.ParsePayload(raw, p.Name())
	if err != nil {
		return nil, err
	}
	return &llm.Result{Value: llm.UnwrapValue(value, wrapped), Raw: raw}, nil
}

func transport(req *llm.Request, fallback *http.Client) llm.Doer {
	if req.Transport != nil {
		return req.Transport
	}
	return fallback
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp geminiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
	}
	return string(data)
}

func mapError(status int, msg, provider string) *types.Error {
	return types.NewError(types.ErrAdapter, msg).
		WithHTTPStatus(status).
		WithProvider(provider)
}
