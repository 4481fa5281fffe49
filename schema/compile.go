package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zoedsoupe/mentor/types"
)

// compileCache memoizes compiled schemas per definition identity. Compiled
// schemas are immutable once built and safe to share across sessions.
var compileCache sync.Map // *Definition -> *types.JSONSchema

// Compile converts a normalized definition into the provider-agnostic wire
// document. Traversal is breadth-first with a seen-set keyed by definition
// identity, so self-referential schemas compile to a finite $defs map with a
// $ref cycle instead of expanding forever. Output is deterministic: compiling
// the same definition twice yields byte-identical JSON.
func Compile(def *Definition) (*types.JSONSchema, error) {
	if def == nil {
		return nil, types.NewError(types.ErrSchemaCompilation, "definition is nil")
	}
	if cached, ok := compileCache.Load(def); ok {
		return cached.(*types.JSONSchema), nil
	}

	c := &compiler{
		seen: make(map[*Definition]bool),
		defs: make(map[string]*types.JSONSchema),
	}

	var doc *types.JSONSchema
	var err error
	if def.Root != nil {
		doc, err = c.compileBareRoot(def)
	} else {
		doc, err = c.compileObjectRoot(def)
	}
	if err != nil {
		return nil, err
	}

	compileCache.Store(def, doc)
	return doc, nil
}

type compiler struct {
	seen  map[*Definition]bool
	defs  map[string]*types.JSONSchema
	queue []*Definition
}

// compileBareRoot handles non-object roots (bare arrays, enums, primitives).
// There is no root definition to elide; nested object fields still land in
// $defs.
func (c *compiler) compileBareRoot(def *Definition) (*types.JSONSchema, error) {
	doc, err := c.wireField(def.Root)
	if err != nil {
		return nil, err
	}
	if err := c.drain(); err != nil {
		return nil, err
	}
	if def.Doc != "" && doc.Description == "" {
		doc.Description = def.Doc
	}
	if len(c.defs) > 0 {
		doc.Defs = c.defs
	}
	return doc, nil
}

func (c *compiler) compileObjectRoot(def *Definition) (*types.JSONSchema, error) {
	rootTitle := def.Title()
	c.enqueue(def)
	if err := c.drain(); err != nil {
		return nil, err
	}

	rootRef := "#/$defs/" + rootTitle

	// Reference elision: the top-level document references the root once.
	// When nothing else does (no self-recursion, no nested use), inline the
	// root at the top level and drop its named definition to save tokens.
	uses := 1
	for _, d := range c.defs {
		uses += countRefs(d, rootRef)
	}
	var doc *types.JSONSchema
	if uses == 1 {
		doc = c.defs[rootTitle]
		delete(c.defs, rootTitle)
	} else {
		doc = &types.JSONSchema{Ref: rootRef}
	}
	if len(c.defs) > 0 {
		doc.Defs = c.defs
	}
	return doc, nil
}

func (c *compiler) enqueue(def *Definition) {
	if !c.seen[def] {
		c.seen[def] = true
		c.queue = append(c.queue, def)
	}
}

func (c *compiler) drain() error {
	for len(c.queue) > 0 {
		def := c.queue[0]
		c.queue = c.queue[1:]

		title := def.Title()
		if _, dup := c.defs[title]; dup {
			return types.NewError(types.ErrSchemaCompilation,
				fmt.Sprintf("duplicate definition title %q", title))
		}

		obj, err := c.objectSchema(def)
		if err != nil {
			return err
		}
		c.defs[title] = obj
	}
	return nil
}

func (c *compiler) objectSchema(def *Definition) (*types.JSONSchema, error) {
	obj := types.NewObjectSchema()
	obj.Title = def.Title()
	obj.Description = def.Doc
	obj.AdditionalProperties = &types.AdditionalProperties{Allowed: false}

	names := map[string]bool{}
	for i := range def.Fields {
		f := &def.Fields[i]
		if names[f.Name] {
			return nil, types.NewError(types.ErrSchemaCompilation,
				fmt.Sprintf("duplicate field %q in schema %s", f.Name, def.Title()))
		}
		names[f.Name] = true

		prop, err := c.wireField(f)
		if err != nil {
			return nil, err
		}
		obj.Properties[f.Name] = prop
		if f.Required {
			obj.Required = append(obj.Required, f.Name)
		}
	}
	sort.Strings(obj.Required)
	return obj, nil
}

// primitiveWire is the fixed kind-to-wire-type lookup table.
func primitiveWire(kind Kind) (*types.JSONSchema, bool) {
	switch kind {
	case KindString:
		return types.NewStringSchema(), true
	case KindInteger, KindID:
		return types.NewIntegerSchema(), true
	case KindFloat, KindDecimal:
		return types.NewNumberSchema(), true
	case KindBoolean:
		return types.NewBooleanSchema(), true
	case KindDate:
		s := types.NewStringSchema()
		s.Format = types.FormatDate
		return s, true
	case KindTime:
		s := types.NewStringSchema()
		s.Format = types.FormatTime
		return s, true
	case KindDateTime:
		s := types.NewStringSchema()
		s.Format = types.FormatDateTime
		return s, true
	case KindBinaryID:
		return types.NewStringSchema(), true
	default:
		return nil, false
	}
}

func (c *compiler) wireField(f *Field) (*types.JSONSchema, error) {
	var s *types.JSONSchema

	switch f.Kind {
	case KindEnum:
		s = types.NewEnumSchema(f.Enum...)
	case KindArray:
		if f.Item == nil {
			return nil, types.NewError(types.ErrSchemaCompilation,
				fmt.Sprintf("array field %q has no item kind", f.Name))
		}
		item, err := c.wireField(f.Item)
		if err != nil {
			return nil, err
		}
		s = types.NewArraySchema(item)
	case KindMap:
		if f.Value == nil {
			return nil, types.NewError(types.ErrSchemaCompilation,
				fmt.Sprintf("map field %q has no value kind", f.Name))
		}
		value, err := c.wireField(f.Value)
		if err != nil {
			return nil, err
		}
		s = &types.JSONSchema{
			Type:                 types.TypeSet{types.SchemaTypeObject},
			AdditionalProperties: &types.AdditionalProperties{Allowed: true, Schema: value},
		}
	case KindObject:
		if f.Object == nil {
			return nil, types.NewError(types.ErrSchemaCompilation,
				fmt.Sprintf("object field %q has no nested schema", f.Name))
		}
		c.enqueue(f.Object)
		s = types.NewRefSchema(f.Object.Title())
	case KindCustom:
		if f.Wire == nil {
			return nil, types.NewError(types.ErrSchemaCompilation,
				fmt.Sprintf("custom field %q returned no wire schema", f.Name))
		}
		// Decorations below must not leak into the caller's WireSchema result.
		s = f.Wire.Clone()
	default:
		var ok bool
		s, ok = primitiveWire(f.Kind)
		if !ok {
			return nil, types.NewError(types.ErrSchemaCompilation,
				fmt.Sprintf("field %q has unsupported kind %q", f.Name, f.Kind))
		}
	}

	applyWireConstraints(s, &f.Constraints)

	if f.Description != "" {
		s.Description = f.Description
	}
	if f.HasDefault {
		s.Default = f.Default
	}
	// Optional fields compile to a nullable wire type so the LLM may return
	// null instead of omitting the key on strict vendors.
	if !f.Required && f.Name != "" && len(s.Type) > 0 {
		s.Nullable()
	}
	return s, nil
}

// applyWireConstraints maps the constraint set onto JSON Schema keywords.
// Neq and custom predicates have no wire equivalent; the validator enforces
// them after parsing.
func applyWireConstraints(s *types.JSONSchema, c *Constraints) {
	s.Minimum = c.Min
	s.Maximum = c.Max
	s.ExclusiveMinimum = c.ExclusiveMin
	s.ExclusiveMaximum = c.ExclusiveMax
	if c.Eq != nil {
		s.Const = *c.Eq
	}
	s.MinLength = c.MinLength
	s.MaxLength = c.MaxLength
	if c.Pattern != "" {
		s.Pattern = c.Pattern
	}
	if c.MinItems != nil && s.Type.Contains(types.SchemaTypeArray) {
		s.MinItems = c.MinItems
	}
}

// countRefs counts structural uses of ref inside a schema subtree.
func countRefs(s *types.JSONSchema, ref string) int {
	if s == nil {
		return 0
	}
	n := 0
	if s.Ref == ref {
		n++
	}
	for _, p := range s.Properties {
		n += countRefs(p, ref)
	}
	n += countRefs(s.Items, ref)
	if s.AdditionalProperties != nil {
		n += countRefs(s.AdditionalProperties.Schema, ref)
	}
	for _, d := range s.Defs {
		n += countRefs(d, ref)
	}
	return n
}
