// Package schema turns caller-defined schema sources into a normalized field
// list and compiles that list into the JSON-Schema-like wire document sent to
// LLM providers.
package schema

import (
	"strings"

	"github.com/zoedsoupe/mentor/types"
)

// Kind is the primitive kind of a schema field.
type Kind string

const (
	KindString   Kind = "string"
	KindInteger  Kind = "integer"
	KindFloat    Kind = "float"
	KindBoolean  Kind = "boolean"
	KindDate     Kind = "date"
	KindTime     Kind = "time"
	KindDateTime Kind = "datetime"
	KindDecimal  Kind = "decimal"
	KindBinaryID Kind = "binary_id"
	KindID       Kind = "id"
	KindEnum     Kind = "enum"
	KindArray    Kind = "array"
	KindObject   Kind = "object"
	KindMap      Kind = "map"
	KindCustom   Kind = "custom"
)

// Constraints is the closed set of semantic rules a field may carry. Numeric
// rules apply to integer/float/decimal kinds, string rules to string-like
// kinds, MinItems to arrays. Check is a caller-supplied predicate evaluated
// after a successful cast.
type Constraints struct {
	Min          *float64
	Max          *float64
	ExclusiveMin *float64
	ExclusiveMax *float64
	Eq           *float64
	Neq          *float64

	MinLength *int
	MaxLength *int
	Pattern   string

	MinItems *int

	Check func(value any) error
}

// Field is one normalized schema field.
type Field struct {
	Name        string
	Kind        Kind
	Description string

	Required   bool
	HasDefault bool
	Default    any

	// Kind-specific payloads. Enum holds the allowed values for KindEnum,
	// Item the element field for KindArray, Value the uniform value field
	// for KindMap, Object the nested schema for KindObject, and Wire the
	// caller-provided wire schema for KindCustom.
	Enum   []any
	Item   *Field
	Value  *Field
	Object *Definition
	Wire   *types.JSONSchema

	Constraints Constraints
}

// Definition is a normalized schema: either an object with Fields, or a bare
// non-object root carried in Root (array, enum, or primitive). Identity is
// the pointer; self-referential schemas reuse the same *Definition.
type Definition struct {
	Name   string
	Doc    string
	Fields []Field
	Root   *Field
}

// Title returns the human-readable wire title: the last path segment of the
// qualified name, or "root" for anonymous schemas.
func (d *Definition) Title() string {
	if d == nil || d.Name == "" {
		return "root"
	}
	if idx := strings.LastIndexAny(d.Name, "./"); idx >= 0 {
		return d.Name[idx+1:]
	}
	return d.Name
}

// FieldByName returns the field with the given name, or nil.
func (d *Definition) FieldByName(name string) *Field {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

// Source is implemented by values that describe their own schema.
type Source interface {
	Schema() (*Definition, error)
}

// WireSchemer is the extension point for custom field types: a type that is
// not recognized by introspection must describe itself as a wire schema.
// Absence is an introspection-time error, never a silent default.
type WireSchemer interface {
	WireSchema() *types.JSONSchema
}

// Enumer is implemented by named types with an explicit allowed-value set.
type Enumer interface {
	EnumValues() []string
}

// AssertDocumented verifies that the schema carries documentation: a
// non-empty schema doc and a description on every field, recursively. It
// returns a structural error before any LLM call can happen.
func AssertDocumented(def *Definition) error {
	if def == nil {
		return types.NewError(types.ErrSchemaIntrospection, "schema is nil")
	}
	if strings.TrimSpace(def.Doc) == "" {
		return types.NewError(types.ErrSchemaIntrospection,
			"schema "+def.Title()+" has no documentation")
	}
	return assertFieldsDocumented(def, map[*Definition]bool{def: true})
}

func assertFieldsDocumented(def *Definition, seen map[*Definition]bool) error {
	check := func(f *Field) error {
		if strings.TrimSpace(f.Description) == "" {
			return types.NewError(types.ErrSchemaIntrospection,
				"field "+f.Name+" in schema "+def.Title()+" has no description")
		}
		nested := nestedDefinition(f)
		if nested != nil && !seen[nested] {
			seen[nested] = true
			if err := assertFieldsDocumented(nested, seen); err != nil {
				return err
			}
		}
		return nil
	}
	if def.Root != nil {
		return check(def.Root)
	}
	for i := range def.Fields {
		if err := check(&def.Fields[i]); err != nil {
			return err
		}
	}
	return nil
}

// nestedDefinition returns the object definition reachable through a field,
// looking through arrays and maps.
func nestedDefinition(f *Field) *Definition {
	for f != nil {
		switch f.Kind {
		case KindObject:
			return f.Object
		case KindArray:
			f = f.Item
		case KindMap:
			f = f.Value
		default:
			return nil
		}
	}
	return nil
}
