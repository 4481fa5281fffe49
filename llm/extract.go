package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/zoedsoupe/mentor/types"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ExtractJSON recovers a JSON document from a loosely structured model
// payload: the payload itself when already valid, otherwise the content of a
// markdown code fence, otherwise the widest brace- or bracket-delimited
// substring that parses.
func ExtractJSON(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if gjson.Valid(raw) {
		return raw, true
	}

	if matches := fenceRe.FindStringSubmatch(raw); len(matches) > 1 {
		if fenced := strings.TrimSpace(matches[1]); gjson.Valid(fenced) {
			return fenced, true
		}
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(raw, pair[0])
		end := strings.LastIndex(raw, pair[1])
		if start >= 0 && end > start {
			if candidate := raw[start : end+1]; gjson.Valid(candidate) {
				return candidate, true
			}
		}
	}

	return "", false
}

// ParsePayload extracts and decodes the model's raw text payload into a JSON
// value. Failures are retryable response-parse errors so the session loop
// can feed them back to the model.
func ParsePayload(raw, provider string) (any, error) {
	doc, ok := ExtractJSON(raw)
	if !ok {
		return nil, types.NewError(types.ErrResponseParse, "response payload is not valid JSON").
			WithRetryable(true).
			WithProvider(provider)
	}
	var value any
	if err := json.Unmarshal([]byte(doc), &value); err != nil {
		return nil, types.NewError(types.ErrResponseParse, "response payload is not valid JSON").
			WithRetryable(true).
			WithProvider(provider).
			WithCause(err)
	}
	return value, nil
}
