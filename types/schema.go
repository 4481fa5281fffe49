package types

import (
	"encoding/json"
	"fmt"
)

// SchemaType represents JSON Schema types.
type SchemaType string

const (
	SchemaTypeString  SchemaType = "string"
	SchemaTypeNumber  SchemaType = "number"
	SchemaTypeInteger SchemaType = "integer"
	SchemaTypeBoolean SchemaType = "boolean"
	SchemaTypeNull    SchemaType = "null"
	SchemaTypeObject  SchemaType = "object"
	SchemaTypeArray   SchemaType = "array"
)

// StringFormat represents common string format constraints.
type StringFormat string

const (
	FormatDateTime StringFormat = "date-time"
	FormatDate     StringFormat = "date"
	FormatTime     StringFormat = "time"
)

// TypeSet represents the "type" keyword, which is a single type name or a
// list of alternatives (nullable fields compile to [kind, "null"]).
type TypeSet []SchemaType

// MarshalJSON implements json.Marshaler for TypeSet.
func (t TypeSet) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return json.Marshal(t[0])
	}
	return json.Marshal([]SchemaType(t))
}

// UnmarshalJSON implements json.Unmarshaler for TypeSet.
func (t *TypeSet) UnmarshalJSON(data []byte) error {
	var single SchemaType
	if err := json.Unmarshal(data, &single); err == nil {
		*t = TypeSet{single}
		return nil
	}
	var many []SchemaType
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("type must be a string or array of strings")
	}
	*t = many
	return nil
}

// Contains reports whether the set includes the given type.
func (t TypeSet) Contains(st SchemaType) bool {
	for _, v := range t {
		if v == st {
			return true
		}
	}
	return false
}

// AdditionalProperties represents the additionalProperties field which can be
// either a boolean or a schema.
type AdditionalProperties struct {
	Allowed bool
	Schema  *JSONSchema
}

// MarshalJSON implements json.Marshaler for AdditionalProperties.
func (ap *AdditionalProperties) MarshalJSON() ([]byte, error) {
	if ap == nil {
		return json.Marshal(nil)
	}
	if ap.Schema != nil {
		return json.Marshal(ap.Schema)
	}
	return json.Marshal(ap.Allowed)
}

// UnmarshalJSON implements json.Unmarshaler for AdditionalProperties.
func (ap *AdditionalProperties) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		ap.Allowed = b
		ap.Schema = nil
		return nil
	}
	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err == nil {
		ap.Allowed = true
		ap.Schema = &schema
		return nil
	}
	return fmt.Errorf("additionalProperties must be boolean or schema")
}

// JSONSchema is the provider-agnostic wire document sent to LLM vendors to
// describe the expected response shape. Marshaling is deterministic:
// encoding/json emits map keys in lexicographic order, so compiling the same
// schema twice produces byte-identical output.
type JSONSchema struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Type TypeSet `json:"type,omitempty"`

	// Object properties
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *AdditionalProperties  `json:"additionalProperties,omitempty"`

	// Array items
	Items    *JSONSchema `json:"items,omitempty"`
	MinItems *int        `json:"minItems,omitempty"`

	// Enum and const
	Enum  []any `json:"enum,omitempty"`
	Const any   `json:"const,omitempty"`

	// String constraints
	MinLength *int         `json:"minLength,omitempty"`
	MaxLength *int         `json:"maxLength,omitempty"`
	Pattern   string       `json:"pattern,omitempty"`
	Format    StringFormat `json:"format,omitempty"`

	// Numeric constraints
	Minimum          *float64 `json:"minimum,omitempty"`
	Maximum          *float64 `json:"maximum,omitempty"`
	ExclusiveMinimum *float64 `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum *float64 `json:"exclusiveMaximum,omitempty"`

	// Default value
	Default any `json:"default,omitempty"`

	// References
	Ref  string                 `json:"$ref,omitempty"`
	Defs map[string]*JSONSchema `json:"$defs,omitempty"`
}

// NewObjectSchema creates a new object schema.
func NewObjectSchema() *JSONSchema {
	return &JSONSchema{
		Type:       TypeSet{SchemaTypeObject},
		Properties: make(map[string]*JSONSchema),
	}
}

// NewArraySchema creates a new array schema.
func NewArraySchema(items *JSONSchema) *JSONSchema {
	return &JSONSchema{
		Type:  TypeSet{SchemaTypeArray},
		Items: items,
	}
}

// NewStringSchema creates a new string schema.
func NewStringSchema() *JSONSchema {
	return &JSONSchema{Type: TypeSet{SchemaTypeString}}
}

// NewNumberSchema creates a new number schema.
func NewNumberSchema() *JSONSchema {
	return &JSONSchema{Type: TypeSet{SchemaTypeNumber}}
}

// NewIntegerSchema creates a new integer schema.
func NewIntegerSchema() *JSONSchema {
	return &JSONSchema{Type: TypeSet{SchemaTypeInteger}}
}

// NewBooleanSchema creates a new boolean schema.
func NewBooleanSchema() *JSONSchema {
	return &JSONSchema{Type: TypeSet{SchemaTypeBoolean}}
}

// NewEnumSchema creates a new string enum schema.
func NewEnumSchema(values ...any) *JSONSchema {
	return &JSONSchema{Type: TypeSet{SchemaTypeString}, Enum: values}
}

// NewRefSchema creates a schema referencing a named definition.
func NewRefSchema(title string) *JSONSchema {
	return &JSONSchema{Ref: "#/$defs/" + title}
}

// Clone returns a deep copy of the schema. Adapters reshape the compiled
// document for vendor dialects; cloning keeps those edits off the shared
// memoized copy.
func (s *JSONSchema) Clone() *JSONSchema {
	if s == nil {
		return nil
	}
	out := *s
	out.Type = append(TypeSet(nil), s.Type...)
	if s.Properties != nil {
		out.Properties = make(map[string]*JSONSchema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = prop.Clone()
		}
	}
	out.Required = append([]string(nil), s.Required...)
	if s.AdditionalProperties != nil {
		ap := *s.AdditionalProperties
		ap.Schema = s.AdditionalProperties.Schema.Clone()
		out.AdditionalProperties = &ap
	}
	out.Items = s.Items.Clone()
	out.MinItems = clonePtr(s.MinItems)
	out.Enum = append([]any(nil), s.Enum...)
	out.MinLength = clonePtr(s.MinLength)
	out.MaxLength = clonePtr(s.MaxLength)
	out.Minimum = clonePtr(s.Minimum)
	out.Maximum = clonePtr(s.Maximum)
	out.ExclusiveMinimum = clonePtr(s.ExclusiveMinimum)
	out.ExclusiveMaximum = clonePtr(s.ExclusiveMaximum)
	if s.Defs != nil {
		out.Defs = make(map[string]*JSONSchema, len(s.Defs))
		for name, def := range s.Defs {
			out.Defs[name] = def.Clone()
		}
	}
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Nullable adds "null" as a type alternative and returns the schema.
func (s *JSONSchema) Nullable() *JSONSchema {
	if !s.Type.Contains(SchemaTypeNull) {
		s.Type = append(s.Type, SchemaTypeNull)
	}
	return s
}

// AddProperty adds a property to an object schema.
func (s *JSONSchema) AddProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = make(map[string]*JSONSchema)
	}
	s.Properties[name] = prop
	return s
}

// AddRequired adds required field names.
func (s *JSONSchema) AddRequired(names ...string) *JSONSchema {
	s.Required = append(s.Required, names...)
	return s
}

// WithDescription sets the description.
func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

// IsRequired checks if a property is required.
func (s *JSONSchema) IsRequired(name string) bool {
	for _, req := range s.Required {
		if req == name {
			return true
		}
	}
	return false
}

// ToJSON serializes the schema to JSON.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// ToJSONIndent serializes the schema to indented JSON.
func (s *JSONSchema) ToJSONIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// SchemaFromJSON deserializes a schema from JSON.
func SchemaFromJSON(data []byte) (*JSONSchema, error) {
	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON schema: %w", err)
	}
	return &schema, nil
}
