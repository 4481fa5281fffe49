package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/zoedsoupe/mentor/types"
)

// FieldMap is the flat schema source: field name to primitive kind.
// Every field of a FieldMap schema is required.
type FieldMap map[string]Kind

// Schema implements Source.
func (m FieldMap) Schema() (*Definition, error) {
	def := &Definition{}
	for name, kind := range m {
		switch kind {
		case KindArray, KindObject, KindMap, KindEnum, KindCustom:
			return nil, types.NewError(types.ErrSchemaIntrospection,
				fmt.Sprintf("field %s: kind %s needs a structured schema source", name, kind))
		}
		def.Fields = append(def.Fields, Field{Name: name, Kind: kind, Required: true})
	}
	sortFields(def.Fields)
	return def, nil
}

// Option adjusts introspection behaviour.
type Option func(*options)

type options struct {
	ignored         map[string]bool
	requiredOnly    map[string]bool
	hasRequiredSet  bool
	requireDefaults bool
	name            string
	doc             string
}

// WithIgnored excludes the named fields from the schema.
func WithIgnored(names ...string) Option {
	return func(o *options) {
		if o.ignored == nil {
			o.ignored = make(map[string]bool)
		}
		for _, n := range names {
			o.ignored[n] = true
		}
	}
}

// WithRequired overrides the required set: only the named fields are
// required. Without this override every field is required, except fields
// with a declared default.
func WithRequired(names ...string) Option {
	return func(o *options) {
		o.hasRequiredSet = true
		if o.requiredOnly == nil {
			o.requiredOnly = make(map[string]bool)
		}
		for _, n := range names {
			o.requiredOnly[n] = true
		}
	}
}

// RequireDefaults marks fields required even when they declare a default
// value, restoring the strict all-required policy.
func RequireDefaults() Option {
	return func(o *options) { o.requireDefaults = true }
}

// WithName sets the schema's qualified name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDoc sets the schema documentation injected into the system preamble.
func WithDoc(doc string) Option {
	return func(o *options) { o.doc = doc }
}

// Introspect produces a normalized Definition from a schema source: a
// Source implementation, an existing *Definition, a FieldMap, or any Go
// struct type (value, pointer, or reflect.Type). Pure, no I/O.
func Introspect(src any, opts ...Option) (*Definition, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var def *Definition
	var err error
	switch s := src.(type) {
	case nil:
		return nil, types.NewError(types.ErrSchemaIntrospection, "schema source is nil")
	case *Definition:
		def = s
	case Source:
		def, err = s.Schema()
	case reflect.Type:
		def, err = newIntrospector(&o).structDefinition(s)
	default:
		def, err = newIntrospector(&o).structDefinition(reflect.TypeOf(src))
	}
	if err != nil {
		return nil, err
	}

	applyOptions(def, &o)
	return def, nil
}

func applyOptions(def *Definition, o *options) {
	if o.name != "" {
		def.Name = o.name
	}
	if o.doc != "" {
		def.Doc = o.doc
	}

	if o.ignored != nil {
		kept := def.Fields[:0]
		for _, f := range def.Fields {
			if !o.ignored[f.Name] {
				kept = append(kept, f)
			}
		}
		def.Fields = kept
	}

	for i := range def.Fields {
		f := &def.Fields[i]
		if o.hasRequiredSet {
			f.Required = o.requiredOnly[f.Name]
			continue
		}
		if o.requireDefaults && f.HasDefault {
			f.Required = true
		}
	}
}

// introspector walks Go struct types. Definitions are cached per type so a
// self-referential struct maps to a single shared *Definition.
type introspector struct {
	opts *options
	defs map[reflect.Type]*Definition
}

func newIntrospector(o *options) *introspector {
	return &introspector{opts: o, defs: make(map[reflect.Type]*Definition)}
}

var (
	timeType        = reflect.TypeOf(time.Time{})
	wireSchemerType = reflect.TypeOf((*WireSchemer)(nil)).Elem()
	enumerType      = reflect.TypeOf((*Enumer)(nil)).Elem()
)

func (in *introspector) structDefinition(t reflect.Type) (*Definition, error) {
	if t == nil {
		return nil, types.NewError(types.ErrSchemaIntrospection, "schema source is nil")
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		// Non-struct roots (a bare slice, enum type, or primitive) become a
		// Root field so compilation can wrap them for object-only vendors.
		root, err := in.fieldFor("", t)
		if err != nil {
			return nil, err
		}
		root.Required = true
		return &Definition{Name: t.Name(), Root: root}, nil
	}

	if def, ok := in.defs[t]; ok {
		return def, nil
	}

	def := &Definition{Name: qualifiedName(t)}
	in.defs[t] = def

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := jsonFieldName(sf)
		if name == "-" {
			continue
		}

		field, err := in.fieldFor(name, sf.Type)
		if err != nil {
			return nil, types.NewError(types.ErrSchemaIntrospection,
				fmt.Sprintf("field %s.%s", t.Name(), sf.Name)).WithCause(err)
		}
		if err := applyTag(field, sf); err != nil {
			return nil, types.NewError(types.ErrSchemaIntrospection,
				fmt.Sprintf("field %s.%s: bad jsonschema tag", t.Name(), sf.Name)).WithCause(err)
		}
		// Default required policy: every field is required, except fields
		// that declare a default value, which the LLM may omit.
		if !field.Required {
			field.Required = !field.HasDefault || in.opts.requireDefaults
		}
		def.Fields = append(def.Fields, *field)
	}

	return def, nil
}

func (in *introspector) fieldFor(name string, t reflect.Type) (*Field, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	// Named types may declare an explicit allowed-value set or describe
	// themselves as a wire schema. Checked before the kind switch so a
	// custom type wins over its underlying representation.
	if values, ok := enumValues(t); ok {
		enum := make([]any, len(values))
		for i, v := range values {
			enum[i] = v
		}
		return &Field{Name: name, Kind: KindEnum, Enum: enum}, nil
	}
	if wire, ok := customWire(t); ok {
		return &Field{Name: name, Kind: KindCustom, Wire: wire}, nil
	}

	if t == timeType {
		return &Field{Name: name, Kind: KindDateTime}, nil
	}

	switch t.Kind() {
	case reflect.String:
		return &Field{Name: name, Kind: KindString}, nil
	case reflect.Bool:
		return &Field{Name: name, Kind: KindBoolean}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Field{Name: name, Kind: KindInteger}, nil
	case reflect.Float32, reflect.Float64:
		return &Field{Name: name, Kind: KindFloat}, nil
	case reflect.Slice, reflect.Array:
		item, err := in.fieldFor(name, t.Elem())
		if err != nil {
			return nil, err
		}
		return &Field{Name: name, Kind: KindArray, Item: item}, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map keys must be strings, got %s", t.Key())
		}
		value, err := in.fieldFor(name, t.Elem())
		if err != nil {
			return nil, err
		}
		return &Field{Name: name, Kind: KindMap, Value: value}, nil
	case reflect.Struct:
		nested, err := in.structDefinition(t)
		if err != nil {
			return nil, err
		}
		return &Field{Name: name, Kind: KindObject, Object: nested}, nil
	default:
		return nil, fmt.Errorf("unsupported type %s: implement schema.WireSchemer to describe it", t)
	}
}

func enumValues(t reflect.Type) ([]string, bool) {
	if t.Implements(enumerType) {
		return reflect.New(t).Elem().Interface().(Enumer).EnumValues(), true
	}
	if reflect.PointerTo(t).Implements(enumerType) {
		return reflect.New(t).Interface().(Enumer).EnumValues(), true
	}
	return nil, false
}

func customWire(t reflect.Type) (*types.JSONSchema, bool) {
	if t.Implements(wireSchemerType) {
		return reflect.New(t).Elem().Interface().(WireSchemer).WireSchema(), true
	}
	if reflect.PointerTo(t).Implements(wireSchemerType) {
		return reflect.New(t).Interface().(WireSchemer).WireSchema(), true
	}
	return nil, false
}

func qualifiedName(t reflect.Type) string {
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

func jsonFieldName(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	if tag == "" {
		return sf.Name
	}
	name := strings.Split(tag, ",")[0]
	if name == "" {
		return sf.Name
	}
	return name
}

// applyTag maps jsonschema struct-tag options onto the field. Supported:
// required, optional, description=, default=, enum=a|b|c, minimum=, maximum=,
// exclusiveMinimum=, exclusiveMaximum=, eq=, neq=, minLength=, maxLength=,
// pattern=, minItems=.
func applyTag(f *Field, sf reflect.StructField) error {
	tag := sf.Tag.Get("jsonschema")
	if tag == "" {
		return nil
	}

	for key, value := range parseTagOptions(tag) {
		switch key {
		case "required":
			f.Required = true
		case "description":
			f.Description = value
		case "default":
			f.HasDefault = true
			f.Default = parseDefaultValue(value, sf.Type)
		case "enum":
			if f.Kind != KindEnum {
				f.Kind = KindEnum
			}
			f.Enum = nil
			for _, v := range strings.Split(value, "|") {
				f.Enum = append(f.Enum, strings.TrimSpace(v))
			}
		case "pattern":
			f.Constraints.Pattern = value
		case "minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum", "eq", "neq":
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			switch key {
			case "minimum":
				f.Constraints.Min = &n
			case "maximum":
				f.Constraints.Max = &n
			case "exclusiveMinimum":
				f.Constraints.ExclusiveMin = &n
			case "exclusiveMaximum":
				f.Constraints.ExclusiveMax = &n
			case "eq":
				f.Constraints.Eq = &n
			case "neq":
				f.Constraints.Neq = &n
			}
		case "minLength", "maxLength", "minItems":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			switch key {
			case "minLength":
				f.Constraints.MinLength = &n
			case "maxLength":
				f.Constraints.MaxLength = &n
			case "minItems":
				f.Constraints.MinItems = &n
			}
		default:
			return fmt.Errorf("unknown option %q", key)
		}
	}
	return nil
}

// parseTagOptions parses "opt1,opt2=value2" into a map. Enum values use "|"
// as separator so commas stay unambiguous.
func parseTagOptions(tag string) map[string]string {
	options := make(map[string]string)
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, "="); idx > 0 {
			options[part[:idx]] = part[idx+1:]
		} else {
			options[part] = ""
		}
	}
	return options
}

func parseDefaultValue(value string, t reflect.Type) any {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return value == "true"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	case reflect.Float32, reflect.Float64:
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return value
}

func sortFields(fields []Field) {
	for i := 1; i < len(fields); i++ {
		for j := i; j > 0 && fields[j].Name < fields[j-1].Name; j-- {
			fields[j], fields[j-1] = fields[j-1], fields[j]
		}
	}
}
