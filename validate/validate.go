// Package validate applies schema-defined semantic rules to parsed LLM
// output: type casts from raw JSON values, required-field presence, and
// user-declared constraints. All applicable errors are collected before
// returning so one retry round carries the complete correction list.
package validate

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/zoedsoupe/mentor/schema"
)

// Error is a single field-level validation failure. Field is a dotted path,
// e.g. "offices_held.office" or "tags[2]"; it is empty for root-level
// failures.
type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errors is an ordered list of field-level validation failures.
type Errors []Error

// Error implements the error interface.
func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e), strings.Join(msgs, "; "))
}

// Validate checks a parsed JSON value against the schema definition and
// returns the ordered list of failures, or nil when the value conforms.
func Validate(def *schema.Definition, value any) Errors {
	if def == nil {
		return nil
	}
	var errs Errors
	if def.Root != nil {
		validateField(def.Root, value, "", &errs)
	} else {
		validateObject(def, value, "", &errs)
	}
	return errs
}

func validateObject(def *schema.Definition, value any, path string, errs *Errors) {
	obj, ok := value.(map[string]any)
	if !ok {
		*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("expected object, got %s", typeName(value))})
		return
	}

	for i := range def.Fields {
		f := &def.Fields[i]
		fieldPath := joinPath(path, f.Name)
		v, present := obj[f.Name]
		if !present {
			if f.Required {
				*errs = append(*errs, Error{Field: fieldPath, Message: "required field is missing"})
			}
			continue
		}
		validateField(f, v, fieldPath, errs)
	}

	// The compiled schema forbids additional properties; mirror that here so
	// hallucinated keys surface as corrective feedback.
	for _, name := range sortedKeys(obj) {
		if def.FieldByName(name) == nil {
			*errs = append(*errs, Error{Field: joinPath(path, name), Message: "unknown field"})
		}
	}
}

func validateField(f *schema.Field, value any, path string, errs *Errors) {
	if value == nil {
		if f.Required {
			*errs = append(*errs, Error{Field: path, Message: "required field must not be null"})
		}
		return
	}

	before := len(*errs)

	switch f.Kind {
	case schema.KindString, schema.KindBinaryID:
		validateString(f, value, path, errs)
	case schema.KindDate:
		validateTemporal(value, path, "date", []string{"2006-01-02"}, errs)
	case schema.KindTime:
		validateTemporal(value, path, "time", []string{"15:04:05", "15:04:05.999999999"}, errs)
	case schema.KindDateTime:
		validateTemporal(value, path, "datetime", []string{time.RFC3339, "2006-01-02T15:04:05"}, errs)
	case schema.KindInteger, schema.KindID:
		validateInteger(f, value, path, errs)
	case schema.KindFloat, schema.KindDecimal:
		validateNumber(f, value, path, errs)
	case schema.KindBoolean:
		if _, ok := value.(bool); !ok {
			*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("expected boolean, got %s", typeName(value))})
		}
	case schema.KindEnum:
		validateEnum(f, value, path, errs)
	case schema.KindArray:
		validateArray(f, value, path, errs)
	case schema.KindMap:
		validateMap(f, value, path, errs)
	case schema.KindObject:
		validateObject(f.Object, value, path, errs)
	case schema.KindCustom:
		// Structure is described by the caller's wire schema; only the
		// custom predicate applies here.
	}

	// User predicates run only after the cast succeeded.
	if f.Constraints.Check != nil && len(*errs) == before {
		if err := f.Constraints.Check(value); err != nil {
			*errs = append(*errs, Error{Field: path, Message: err.Error()})
		}
	}
}

func validateString(f *schema.Field, value any, path string, errs *Errors) {
	str, ok := value.(string)
	if !ok {
		*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("expected string, got %s", typeName(value))})
		return
	}

	c := &f.Constraints
	if c.MinLength != nil && len(str) < *c.MinLength {
		*errs = append(*errs, Error{Field: path,
			Message: fmt.Sprintf("string length %d is less than minimum %d", len(str), *c.MinLength)})
	}
	if c.MaxLength != nil && len(str) > *c.MaxLength {
		*errs = append(*errs, Error{Field: path,
			Message: fmt.Sprintf("string length %d exceeds maximum %d", len(str), *c.MaxLength)})
	}
	if c.Pattern != "" {
		matched, err := regexp.MatchString(c.Pattern, str)
		if err != nil {
			*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("invalid pattern %q: %v", c.Pattern, err)})
		} else if !matched {
			*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("string does not match pattern %q", c.Pattern)})
		}
	}
}

func validateTemporal(value any, path, kind string, layouts []string, errs *Errors) {
	str, ok := value.(string)
	if !ok {
		*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("expected %s string, got %s", kind, typeName(value))})
		return
	}
	for _, layout := range layouts {
		if _, err := time.Parse(layout, str); err == nil {
			return
		}
	}
	*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("%q is not a valid %s", str, kind)})
}

func validateInteger(f *schema.Field, value any, path string, errs *Errors) {
	num, ok := toFloat64(value)
	if !ok {
		*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("expected integer, got %s", typeName(value))})
		return
	}
	if num != math.Trunc(num) {
		*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("expected integer, got %v", num)})
		return
	}
	validateNumericConstraints(num, &f.Constraints, path, errs)
}

func validateNumber(f *schema.Field, value any, path string, errs *Errors) {
	num, ok := toFloat64(value)
	if !ok {
		*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("expected number, got %s", typeName(value))})
		return
	}
	validateNumericConstraints(num, &f.Constraints, path, errs)
}

func validateNumericConstraints(num float64, c *schema.Constraints, path string, errs *Errors) {
	if c.Min != nil && num < *c.Min {
		*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("value %v is less than minimum %v", num, *c.Min)})
	}
	if c.Max != nil && num > *c.Max {
		*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("value %v exceeds maximum %v", num, *c.Max)})
	}
	if c.ExclusiveMin != nil && num <= *c.ExclusiveMin {
		*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("value %v must be greater than %v", num, *c.ExclusiveMin)})
	}
	if c.ExclusiveMax != nil && num >= *c.ExclusiveMax {
		*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("value %v must be less than %v", num, *c.ExclusiveMax)})
	}
	if c.Eq != nil && num != *c.Eq {
		*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("value %v must be equal to %v", num, *c.Eq)})
	}
	if c.Neq != nil && num == *c.Neq {
		*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("value must not be equal to %v", *c.Neq)})
	}
}

func validateEnum(f *schema.Field, value any, path string, errs *Errors) {
	for _, allowed := range f.Enum {
		if equalValues(value, allowed) {
			return
		}
	}
	*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("value must be one of: %v", f.Enum)})
}

func validateArray(f *schema.Field, value any, path string, errs *Errors) {
	arr, ok := value.([]any)
	if !ok {
		*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("expected array, got %s", typeName(value))})
		return
	}
	if c := f.Constraints.MinItems; c != nil && len(arr) < *c {
		*errs = append(*errs, Error{Field: path,
			Message: fmt.Sprintf("array has %d items, minimum is %d", len(arr), *c)})
	}
	if f.Item != nil {
		for i, item := range arr {
			validateField(f.Item, item, fmt.Sprintf("%s[%d]", path, i), errs)
		}
	}
}

func validateMap(f *schema.Field, value any, path string, errs *Errors) {
	obj, ok := value.(map[string]any)
	if !ok {
		*errs = append(*errs, Error{Field: path, Message: fmt.Sprintf("expected object, got %s", typeName(value))})
		return
	}
	if f.Value == nil {
		return
	}
	for _, key := range sortedKeys(obj) {
		validateField(f.Value, obj[key], joinPath(path, key), errs)
	}
}

func toFloat64(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func equalValues(a, b any) bool {
	if aNum, ok := toFloat64(a); ok {
		if bNum, ok := toFloat64(b); ok {
			return aNum == bNum
		}
	}
	if aStr, ok := a.(string); ok {
		if bStr, ok := b.(string); ok {
			return aStr == bStr
		}
	}
	if aBool, ok := a.(bool); ok {
		if bBool, ok := b.(bool); ok {
			return aBool == bBool
		}
	}
	return false
}

func typeName(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}

// sortedKeys keeps error ordering deterministic across runs.
func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
