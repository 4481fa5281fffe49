package mentor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zoedsoupe/mentor/llm"
	"github.com/zoedsoupe/mentor/retry"
	"github.com/zoedsoupe/mentor/schema"
	"github.com/zoedsoupe/mentor/types"
	"github.com/zoedsoupe/mentor/validate"
)

type politician struct {
	FirstName string `json:"first_name" jsonschema:"description=given name"`
	LastName  string `json:"last_name"`
	Age       int    `json:"age" jsonschema:"minimum=0"`
}

type attempt struct {
	result *llm.Result
	err    error
}

// fakeAdapter replays scripted attempts and records every request it sees.
type fakeAdapter struct {
	attempts []attempt
	requests []*llm.Request
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Complete(_ context.Context, req *llm.Request) (*llm.Result, error) {
	f.requests = append(f.requests, req)
	if len(f.attempts) == 0 {
		return nil, types.NewError(types.ErrAdapter, "script exhausted")
	}
	next := f.attempts[0]
	f.attempts = f.attempts[1:]
	return next.result, next.err
}

func valid(raw string, value any) attempt {
	return attempt{result: &llm.Result{Value: value, Raw: raw}}
}

func fastBackoff() retry.Policy {
	return retry.Policy{Base: time.Millisecond, Max: 2 * time.Millisecond}
}

func politicianValue() map[string]any {
	return map[string]any{
		"first_name": "Tancredo",
		"last_name":  "Neves",
		"age":        float64(75),
	}
}

// --- Construction ---

func TestNew_IntrospectsTarget(t *testing.T) {
	s, err := New[politician](&fakeAdapter{})
	require.NoError(t, err)
	require.NotNil(t, s)

	def := s.Definition()
	assert.Equal(t, "politician", def.Title())
	assert.NotNil(t, def.FieldByName("first_name"))

	compiled, err := s.Schema()
	require.NoError(t, err)
	assert.Contains(t, compiled.Properties, "age")
}

func TestNew_UnsupportedTargetFails(t *testing.T) {
	type bad struct {
		C chan int `json:"c"`
	}
	_, err := New[bad](&fakeAdapter{})
	require.Error(t, err)
	assert.Equal(t, types.ErrSchemaIntrospection, types.GetErrorCode(err))
}

func TestNew_NilAdapterFails(t *testing.T) {
	_, err := New[politician](nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))

	_, err = NewFromSource[politician](nil, schema.FieldMap{"name": schema.KindString})
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestNewFromSource_FieldMap(t *testing.T) {
	type pair struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	s, err := NewFromSource[pair](&fakeAdapter{}, schema.FieldMap{
		"name": schema.KindString,
		"age":  schema.KindInteger,
	})
	require.NoError(t, err)
	assert.Len(t, s.Definition().Fields, 2)
}

// --- First-attempt success ---

func TestComplete_FirstAttemptSuccess(t *testing.T) {
	adapter := &fakeAdapter{attempts: []attempt{
		valid(`{"first_name":"Tancredo","last_name":"Neves","age":75}`, politicianValue()),
	}}

	s, err := New[politician](adapter)
	require.NoError(t, err)
	s.UserMessage("Who was the first civilian president-elect after the military regime in Brazil?")

	got, err := s.Complete(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Tancredo", got.FirstName)
	assert.Equal(t, "Neves", got.LastName)
	assert.Equal(t, 75, got.Age)

	require.Len(t, adapter.requests, 1)
	req := adapter.requests[0]
	assert.NotEmpty(t, req.TraceID)
	assert.Equal(t, "politician", req.SchemaName)
	require.NotNil(t, req.Schema)

	// Conversation: synthesized system preamble first, then the user turn.
	require.Len(t, req.Messages, 2)
	assert.Equal(t, types.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "JSON")
	assert.Contains(t, req.Messages[0].Content, "first_name: given name")
	assert.Equal(t, types.RoleUser, req.Messages[1].Role)
}

// --- Correction loop ---

func TestComplete_RetriesWithCorrectiveFeedback(t *testing.T) {
	missing := politicianValue()
	delete(missing, "age")
	adapter := &fakeAdapter{attempts: []attempt{
		valid(`{"first_name":"Tancredo","last_name":"Neves"}`, missing),
		valid(`{"first_name":"Tancredo","last_name":"Neves","age":-1}`, map[string]any{
			"first_name": "Tancredo", "last_name": "Neves", "age": float64(-1),
		}),
		valid(`{"first_name":"Tancredo","last_name":"Neves","age":75}`, politicianValue()),
	}}

	s, err := New[politician](adapter)
	require.NoError(t, err)
	s.UserMessage("who?").
		WithMaxRetries(3).
		WithBackoff(fastBackoff()).
		WithLogger(zap.NewNop())

	got, err := s.Complete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 75, got.Age)
	require.Len(t, adapter.requests, 3)

	// Second attempt carries the invalid payload and the formatted errors.
	second := adapter.requests[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, types.RoleUser, second[1].Role)
	assert.Equal(t, types.RoleAssistant, second[2].Role)
	assert.Equal(t, `{"first_name":"Tancredo","last_name":"Neves"}`, second[2].Content)
	assert.Equal(t, types.RoleSystem, second[3].Role)
	assert.Contains(t, second[3].Content, "fix the following validation errors")
	assert.Contains(t, second[3].Content, "age - required field is missing")

	// Third attempt appends the next round of feedback after the second raw.
	third := adapter.requests[2].Messages
	require.Len(t, third, 6)
	assert.Contains(t, third[5].Content, "age - value -1 is less than minimum 0")

	// All attempts share one trace ID.
	assert.Equal(t, adapter.requests[0].TraceID, adapter.requests[1].TraceID)
	assert.Equal(t, adapter.requests[1].TraceID, adapter.requests[2].TraceID)
}

func TestComplete_ExhaustsRetries(t *testing.T) {
	bad := map[string]any{"first_name": "T"}
	adapter := &fakeAdapter{attempts: []attempt{
		valid(`{"first_name":"T"}`, bad),
		valid(`{"first_name":"T"}`, bad),
	}}

	s, err := New[politician](adapter)
	require.NoError(t, err)
	s.UserMessage("who?").WithMaxRetries(2).WithBackoff(fastBackoff())

	_, err = s.Complete(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrRetriesExhausted, types.GetErrorCode(err))
	assert.Len(t, adapter.requests, 2, "attempt budget is total attempts, not extra retries")

	var verrs validate.Errors
	inner := err.(*types.Error).Cause
	require.IsType(t, &types.Error{}, inner)
	require.ErrorAs(t, inner, &verrs)
	assert.NotEmpty(t, verrs)
}

func TestComplete_SingleAttemptReturnsValidationError(t *testing.T) {
	adapter := &fakeAdapter{attempts: []attempt{
		valid(`{"first_name":"T"}`, map[string]any{"first_name": "T"}),
	}}

	s, err := New[politician](adapter)
	require.NoError(t, err)
	s.UserMessage("who?").WithMaxRetries(1)

	start := time.Now()
	_, err = s.Complete(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	assert.Less(t, time.Since(start), time.Second, "a single attempt never backs off")
	assert.Len(t, adapter.requests, 1)
}

func TestComplete_MaxRetriesClampedToOne(t *testing.T) {
	adapter := &fakeAdapter{attempts: []attempt{
		valid(`{"first_name":"T"}`, map[string]any{"first_name": "T"}),
	}}

	s, err := New[politician](adapter)
	require.NoError(t, err)
	s.UserMessage("who?").WithMaxRetries(0)

	_, err = s.Complete(context.Background())
	require.Error(t, err)
	assert.Len(t, adapter.requests, 1)
}

// --- Error routing ---

func TestComplete_AdapterErrorIsFatal(t *testing.T) {
	adapter := &fakeAdapter{attempts: []attempt{
		{err: types.NewError(types.ErrAdapter, "invalid api key").WithHTTPStatus(401)},
	}}

	s, err := New[politician](adapter)
	require.NoError(t, err)
	s.UserMessage("who?").WithMaxRetries(3).WithBackoff(fastBackoff())

	_, err = s.Complete(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrAdapter, types.GetErrorCode(err))
	assert.Len(t, adapter.requests, 1, "vendor rejections do not burn retries")
}

func TestComplete_ParseErrorIsRetried(t *testing.T) {
	adapter := &fakeAdapter{attempts: []attempt{
		{err: types.NewError(types.ErrResponseParse, "response payload is not valid JSON").WithRetryable(true)},
		valid(`{"first_name":"Tancredo","last_name":"Neves","age":75}`, politicianValue()),
	}}

	s, err := New[politician](adapter)
	require.NoError(t, err)
	s.UserMessage("who?").WithMaxRetries(3).WithBackoff(fastBackoff())

	got, err := s.Complete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Tancredo", got.FirstName)
	require.Len(t, adapter.requests, 2)

	second := adapter.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, types.RoleSystem, last.Role)
	assert.Contains(t, last.Content, "could not be parsed")
}

func TestComplete_ContextCancellationStopsBackoff(t *testing.T) {
	bad := map[string]any{"first_name": "T"}
	adapter := &fakeAdapter{attempts: []attempt{
		valid(`{"first_name":"T"}`, bad),
		valid(`{"first_name":"T"}`, bad),
	}}

	s, err := New[politician](adapter)
	require.NoError(t, err)
	s.UserMessage("who?").
		WithMaxRetries(3).
		WithBackoff(retry.Policy{Base: 10 * time.Second, Max: 30 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Complete(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, adapter.requests, 1)
}

// --- Bare roots ---

func TestComplete_BareArrayRoot(t *testing.T) {
	min := 10
	def := &schema.Definition{
		Name: "tags",
		Root: &schema.Field{
			Kind:        schema.KindArray,
			Required:    true,
			Item:        &schema.Field{Kind: schema.KindString},
			Constraints: schema.Constraints{MinItems: &min},
		},
	}

	short := []any{"a", "b", "c", "d", "e"}
	adapter := &fakeAdapter{attempts: []attempt{
		valid(`["a","b","c","d","e"]`, short),
	}}

	s, err := NewFromSource[[]string](adapter, def)
	require.NoError(t, err)
	s.UserMessage("list ten tags").WithMaxRetries(1)

	_, err = s.Complete(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	var verrs validate.Errors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 1)
	assert.Contains(t, verrs[0].Message, "array has 5 items, minimum is 10")

	full := make([]any, 10)
	raws := make([]string, 10)
	for i := range full {
		full[i] = string(rune('a' + i))
		raws[i] = `"` + string(rune('a'+i)) + `"`
	}
	adapter.attempts = []attempt{valid("["+strings.Join(raws, ",")+"]", full)}

	got, err := s.Complete(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, *got, 10)
	assert.Equal(t, "a", (*got)[0])
}

// --- Transport injection ---

func TestComplete_PassesTransportThrough(t *testing.T) {
	adapter := &fakeAdapter{attempts: []attempt{
		valid(`{"first_name":"Tancredo","last_name":"Neves","age":75}`, politicianValue()),
	}}

	s, err := New[politician](adapter)
	require.NoError(t, err)
	s.UserMessage("who?").WithTransport(nopDoer{})

	_, err = s.Complete(context.Background())
	require.NoError(t, err)
	require.Len(t, adapter.requests, 1)
	assert.NotNil(t, adapter.requests[0].Transport)
}

type nopDoer struct{}

func (nopDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("transport must not be used by the fake adapter")
}

func TestSession_WithAdapterSwap(t *testing.T) {
	first := &fakeAdapter{attempts: []attempt{
		{err: types.NewError(types.ErrAdapter, "decommissioned")},
	}}
	second := &fakeAdapter{attempts: []attempt{
		valid(`{"first_name":"Tancredo","last_name":"Neves","age":75}`, politicianValue()),
	}}

	s, err := New[politician](first)
	require.NoError(t, err)
	s.UserMessage("who?").WithAdapter(second)

	got, err := s.Complete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Tancredo", got.FirstName)
	assert.Empty(t, first.requests)
	require.Len(t, second.requests, 1)
}

func TestMustComplete_PanicsOnError(t *testing.T) {
	adapter := &fakeAdapter{attempts: []attempt{
		{err: types.NewError(types.ErrAdapter, "boom")},
	}}

	s, err := New[politician](adapter)
	require.NoError(t, err)
	s.UserMessage("who?")

	assert.Panics(t, func() { s.MustComplete(context.Background()) })
}
