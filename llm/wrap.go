package llm

import "github.com/zoedsoupe/mentor/types"

// WrapperKey is the synthetic property name used when a vendor requires the
// top-level response to be an object but the caller's schema root is not.
const WrapperKey = "value"

// WrapRoot wraps a non-object root schema in a single-field synthetic object
// so it can be sent to vendors that only accept object roots. Object roots
// (including $ref roots, which always point at object definitions) pass
// through untouched. The returned bool reports whether wrapping happened and
// must be fed back to UnwrapValue.
func WrapRoot(s *types.JSONSchema) (*types.JSONSchema, bool) {
	if s == nil {
		return nil, false
	}
	if s.Ref != "" || s.Type.Contains(types.SchemaTypeObject) {
		return s, false
	}

	// $defs must stay at the top level; move them onto the wrapper.
	inner := *s
	inner.Defs = nil

	wrapper := types.NewObjectSchema()
	wrapper.AddProperty(WrapperKey, &inner)
	wrapper.AddRequired(WrapperKey)
	wrapper.AdditionalProperties = &types.AdditionalProperties{Allowed: false}
	wrapper.Defs = s.Defs
	return wrapper, true
}

// UnwrapValue reverses WrapRoot on the parsed response, transparently to the
// caller: wrapping then unwrapping yields the original value shape.
func UnwrapValue(value any, wrapped bool) any {
	if !wrapped {
		return value
	}
	if obj, ok := value.(map[string]any); ok {
		if inner, ok := obj[WrapperKey]; ok {
			return inner
		}
	}
	return value
}
