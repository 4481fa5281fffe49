// Package llm defines the provider-agnostic adapter contract and the
// transport boundary. Vendor-specific request shaping and response parsing
// live in the providers packages; the session retry loop lives in the root
// package.
package llm

import (
	"context"
	"net/http"
	"time"

	"github.com/zoedsoupe/mentor/types"
)

// Doer is the pluggable HTTP transport boundary. *http.Client satisfies it.
// Implementations must be safe for concurrent use by multiple sessions;
// connection pooling, TLS, and wire-level retries are the transport's
// business, not this core's.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request carries everything an adapter needs for one completion call:
// the conversation in chronological order (first message is the synthesized
// system preamble), the compiled wire schema, and per-call overrides.
// Temperature is a pointer so a zero override is distinguishable from no
// override.
type Request struct {
	TraceID     string
	Model       string
	Temperature *float32
	MaxTokens   int
	Timeout     time.Duration

	Messages   []types.Message
	Schema     *types.JSONSchema
	SchemaName string

	// Transport, when non-nil, overrides the adapter's own HTTP client.
	Transport Doer
}

// Float32Ptr returns a pointer to the given float32.
func Float32Ptr(f float32) *float32 { return &f }

// Result is an adapter's parsed response: the decoded JSON value plus the
// raw text payload it was recovered from (re-injected verbatim into the
// conversation when validation fails).
type Result struct {
	Value any
	Raw   string
}

// Adapter translates between the core model and one LLM vendor's HTTP API.
// Complete makes exactly one network call per invocation; adapters never
// retry on their own, since that would double-count against the session's
// retry budget. Transport-level failures surface as non-retryable adapter
// errors; unparseable payloads surface as retryable response-parse errors.
type Adapter interface {
	Complete(ctx context.Context, req *Request) (*Result, error)

	// Name returns the adapter's unique identifier.
	Name() string
}
