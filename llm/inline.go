package llm

import (
	"strings"

	"github.com/zoedsoupe/mentor/types"
)

// InlineRefs returns a copy of the schema with every local $ref expanded in
// place and the $defs section removed, for vendors whose schema dialect has
// no reference support (Gemini's responseSchema is an OpenAPI subset).
// Recursion cannot be expressed without references, so a cyclic or dangling
// $ref collapses to a permissive object schema.
func InlineRefs(s *types.JSONSchema) *types.JSONSchema {
	if s == nil {
		return nil
	}
	out := inlineRefs(s, s.Defs, map[string]bool{})
	out.Defs = nil
	return out
}

func inlineRefs(s *types.JSONSchema, defs map[string]*types.JSONSchema, active map[string]bool) *types.JSONSchema {
	if s == nil {
		return nil
	}
	if s.Ref != "" {
		name := strings.TrimPrefix(s.Ref, "#/$defs/")
		target, ok := defs[name]
		if !ok || active[name] {
			return types.NewObjectSchema()
		}
		active[name] = true
		out := inlineRefs(target, defs, active)
		delete(active, name)
		return out
	}

	out := s.Clone()
	out.Defs = nil
	for name, prop := range s.Properties {
		out.Properties[name] = inlineRefs(prop, defs, active)
	}
	out.Items = inlineRefs(s.Items, defs, active)
	if s.AdditionalProperties != nil && s.AdditionalProperties.Schema != nil {
		out.AdditionalProperties.Schema = inlineRefs(s.AdditionalProperties.Schema, defs, active)
	}
	return out
}
