// Package mentor turns LLM chat completions into validated, typed Go values.
//
// A Session binds a target type to a provider adapter: the type is
// introspected into a schema definition, compiled to a JSON Schema wire
// document, sent alongside the conversation, and the response is validated
// locally before being decoded. Invalid responses are retried with
// corrective feedback appended to the conversation.
package mentor

import (
	"reflect"

	"github.com/zoedsoupe/mentor/llm"
	"github.com/zoedsoupe/mentor/retry"
	"github.com/zoedsoupe/mentor/schema"
	"github.com/zoedsoupe/mentor/types"
)

// New creates a session whose responses decode into T. The adapter and the
// type shape are checked eagerly so configuration errors surface at
// construction time.
func New[T any](adapter llm.Adapter, opts ...schema.Option) (*Session[T], error) {
	var zero T
	def, err := schema.Introspect(reflect.TypeOf(zero), opts...)
	if err != nil {
		return nil, err
	}
	return newSession[T](adapter, def)
}

// NewFromSource creates a session from an explicit schema source (a
// schema.FieldMap, a schema.Source implementation, or a *schema.Definition)
// instead of introspecting T. The source must describe a shape that decodes
// into T.
func NewFromSource[T any](adapter llm.Adapter, src any, opts ...schema.Option) (*Session[T], error) {
	def, err := schema.Introspect(src, opts...)
	if err != nil {
		return nil, err
	}
	return newSession[T](adapter, def)
}

func newSession[T any](adapter llm.Adapter, def *schema.Definition) (*Session[T], error) {
	if adapter == nil {
		return nil, types.NewError(types.ErrConfiguration, "adapter is required")
	}
	return &Session[T]{
		adapter:    adapter,
		def:        def,
		maxRetries: defaultMaxRetries,
		backoff:    retry.DefaultPolicy(),
	}, nil
}
