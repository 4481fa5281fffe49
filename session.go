package mentor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zoedsoupe/mentor/llm"
	"github.com/zoedsoupe/mentor/retry"
	"github.com/zoedsoupe/mentor/schema"
	"github.com/zoedsoupe/mentor/types"
	"github.com/zoedsoupe/mentor/validate"
)

const defaultMaxRetries = 3

// Session drives the complete-validate-retry loop for a single target type.
// A session is owned by one goroutine; the builder methods mutate the
// receiver and return it for chaining.
type Session[T any] struct {
	adapter   llm.Adapter
	def       *schema.Definition
	compiled  *types.JSONSchema
	transport llm.Doer

	// messages is kept newest-first; conversation() presents it
	// chronologically behind the synthesized system preamble.
	messages []types.Message

	maxRetries  int
	backoff     retry.Policy
	model       string
	temperature *float32
	maxTokens   int
	timeout     time.Duration
	debug       bool
	logger      *zap.Logger
}

// WithAdapter swaps the provider adapter. The schema is provider-agnostic,
// so the compiled document carries over.
func (s *Session[T]) WithAdapter(a llm.Adapter) *Session[T] {
	s.adapter = a
	return s
}

// WithTransport overrides the adapter's HTTP client for this session.
func (s *Session[T]) WithTransport(t llm.Doer) *Session[T] {
	s.transport = t
	return s
}

// WithMaxRetries sets the total number of completion attempts. Values below
// one are clamped to one; one means a single attempt with no feedback loop.
func (s *Session[T]) WithMaxRetries(n int) *Session[T] {
	if n < 1 {
		n = 1
	}
	s.maxRetries = n
	return s
}

// WithBackoff sets the delay policy applied between retry attempts.
func (s *Session[T]) WithBackoff(p retry.Policy) *Session[T] {
	s.backoff = p
	return s
}

// WithModel overrides the adapter's configured model for this session.
func (s *Session[T]) WithModel(model string) *Session[T] {
	s.model = model
	return s
}

// WithTemperature overrides the adapter's configured sampling temperature.
// Zero is a valid override; an untouched session leaves the adapter's value
// in effect.
func (s *Session[T]) WithTemperature(t float32) *Session[T] {
	s.temperature = &t
	return s
}

// WithMaxTokens overrides the adapter's configured completion budget.
func (s *Session[T]) WithMaxTokens(n int) *Session[T] {
	s.maxTokens = n
	return s
}

// WithTimeout bounds each individual completion call. Zero leaves the
// adapter's configured timeout in effect.
func (s *Session[T]) WithTimeout(d time.Duration) *Session[T] {
	s.timeout = d
	return s
}

// WithLogger attaches a logger; attempts and validation outcomes are logged
// at debug level.
func (s *Session[T]) WithLogger(logger *zap.Logger) *Session[T] {
	s.logger = logger
	return s
}

// WithDebug enables logging of raw provider payloads.
func (s *Session[T]) WithDebug(debug bool) *Session[T] {
	s.debug = debug
	return s
}

// AppendMessage records a conversation turn.
func (s *Session[T]) AppendMessage(msg types.Message) *Session[T] {
	s.push(msg)
	return s
}

// UserMessage records a plain-text user turn.
func (s *Session[T]) UserMessage(text string) *Session[T] {
	return s.AppendMessage(types.NewUserMessage(text))
}

// Definition exposes the introspected schema definition.
func (s *Session[T]) Definition() *schema.Definition { return s.def }

// Schema returns the compiled wire schema, compiling it on first use.
func (s *Session[T]) Schema() (*types.JSONSchema, error) {
	if s.compiled != nil {
		return s.compiled, nil
	}
	compiled, err := schema.Compile(s.def)
	if err != nil {
		return nil, err
	}
	s.compiled = compiled
	return compiled, nil
}

func (s *Session[T]) push(msg types.Message) {
	s.messages = append(s.messages, types.Message{})
	copy(s.messages[1:], s.messages)
	s.messages[0] = msg
}

func (s *Session[T]) conversation() []types.Message {
	out := make([]types.Message, 0, len(s.messages)+1)
	out = append(out, types.NewSystemMessage(buildPreamble(s.def)))
	for i := len(s.messages) - 1; i >= 0; i-- {
		out = append(out, s.messages[i])
	}
	return out
}

func (s *Session[T]) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// Complete runs the conversation against the adapter until a response
// validates against the schema or the attempt budget is spent. Adapter
// errors abort immediately; parse and validation failures append corrective
// feedback to the conversation and retry after a backoff delay.
func (s *Session[T]) Complete(ctx context.Context) (*T, error) {
	compiled, err := s.Schema()
	if err != nil {
		return nil, err
	}

	traceID := uuid.NewString()
	logger := s.log()
	var lastErr error

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		req := &llm.Request{
			TraceID:     traceID,
			Model:       s.model,
			Temperature: s.temperature,
			MaxTokens:   s.maxTokens,
			Timeout:     s.timeout,
			Messages:    s.conversation(),
			Schema:      compiled,
			SchemaName:  s.def.Title(),
			Transport:   s.transport,
		}

		logger.Debug("completion attempt",
			zap.String("trace_id", traceID),
			zap.String("provider", s.adapter.Name()),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", s.maxRetries))

		result, err := s.adapter.Complete(ctx, req)
		if err != nil {
			if !types.IsRetryable(err) {
				return nil, err
			}
			lastErr = err
			if attempt == s.maxRetries {
				break
			}
			s.push(types.NewSystemMessage(
				"your previous response could not be parsed as JSON, respond again with only the requested JSON value: " + err.Error()))
			if err := s.backoff.Wait(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		if s.debug {
			logger.Debug("raw response",
				zap.String("trace_id", traceID),
				zap.String("raw", result.Raw))
		}

		errs := validate.Validate(s.def, result.Value)
		if len(errs) == 0 {
			return decode[T](result.Value)
		}

		logger.Debug("validation failed",
			zap.String("trace_id", traceID),
			zap.Int("attempt", attempt),
			zap.Int("errors", len(errs)))

		lastErr = types.NewError(types.ErrValidation, errs.Error()).
			WithRetryable(true).
			WithCause(errs)
		if attempt == s.maxRetries {
			break
		}

		s.push(types.NewAssistantMessage(result.Raw))
		s.push(types.NewSystemMessage(
			"the response did not conform to the expected structure, fix the following validation errors:\n\n" + validate.Format(errs)))
		if err := s.backoff.Wait(ctx, attempt); err != nil {
			return nil, err
		}
	}

	if s.maxRetries == 1 {
		return nil, lastErr
	}
	return nil, types.NewError(types.ErrRetriesExhausted,
		fmt.Sprintf("no valid response after %d attempts", s.maxRetries)).
		WithCause(lastErr)
}

// MustComplete is Complete, panicking on error.
func (s *Session[T]) MustComplete(ctx context.Context) *T {
	value, err := s.Complete(ctx)
	if err != nil {
		panic(err)
	}
	return value
}

func decode[T any](value any) (*T, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, types.NewError(types.ErrResponseParse, "failed to re-encode validated value").
			WithCause(err)
	}
	out := new(T)
	if err := json.Unmarshal(encoded, out); err != nil {
		return nil, types.NewError(types.ErrResponseParse, "validated value does not decode into target type").
			WithCause(err)
	}
	return out, nil
}

// buildPreamble synthesizes the leading system message: the output contract
// plus whatever documentation the definition carries.
func buildPreamble(def *schema.Definition) string {
	var b strings.Builder
	b.WriteString("You are a structured output assistant. ")
	b.WriteString("Respond with a single JSON value that conforms to the expected structure. ")
	b.WriteString("Do not include explanations, markdown fences, or any text outside the JSON value.")

	if def.Doc != "" {
		b.WriteString("\n\n")
		b.WriteString(def.Doc)
	}

	var docs []string
	for _, field := range def.Fields {
		if field.Description == "" {
			continue
		}
		docs = append(docs, fmt.Sprintf("- %s: %s", field.Name, field.Description))
	}
	if len(docs) > 0 {
		b.WriteString("\n\nField notes:\n")
		b.WriteString(strings.Join(docs, "\n"))
	}
	return b.String()
}
