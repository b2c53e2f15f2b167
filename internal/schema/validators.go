package schema

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
)

// StringValidator accepts strings only.
func StringValidator() Validator { return stringValidator{} }

// IntValidator accepts integers, including JSON numbers with an integral
// value, normalised to int64.
func IntValidator() Validator { return intValidator{} }

// FloatValidator accepts any JSON number, normalised to float64.
func FloatValidator() Validator { return floatValidator{} }

// BoolValidator accepts booleans only.
func BoolValidator() Validator { return boolValidator{} }

// AnyValidator accepts every value unchanged.
func AnyValidator() Validator { return anyValidator{} }

type stringValidator struct{}

func (stringValidator) Validate(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, &ValidationError{Expected: "string", Got: typeName(value)}
	}
	return s, nil
}

type intValidator struct{}

func (intValidator) Validate(value any) (any, error) {
	switch n := value.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n == math.Trunc(n) {
			return int64(n), nil
		}
	case float32:
		if float64(n) == math.Trunc(float64(n)) {
			return int64(n), nil
		}
	}
	return nil, &ValidationError{Expected: "integer", Got: typeName(value)}
}

type floatValidator struct{}

func (floatValidator) Validate(value any) (any, error) {
	switch n := value.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return nil, &ValidationError{Expected: "number", Got: typeName(value)}
}

type boolValidator struct{}

func (boolValidator) Validate(value any) (any, error) {
	b, ok := value.(bool)
	if !ok {
		return nil, &ValidationError{Expected: "boolean", Got: typeName(value)}
	}
	return b, nil
}

type anyValidator struct{}

func (anyValidator) Validate(value any) (any, error) { return value, nil }

type enumValidator struct {
	literals []any
}

func (v *enumValidator) Validate(value any) (any, error) {
	for _, lit := range v.literals {
		if literalEqual(lit, value) {
			return value, nil
		}
	}
	return nil, &ValidationError{
		Expected: fmt.Sprintf("one of %v", v.literals),
		Got:      fmt.Sprintf("%v", value),
	}
}

func literalEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok || bok {
		return aok && bok && af == bf
	}
	switch a.(type) {
	case nil, bool, string:
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

type patternValidator struct {
	pattern string
	re      *regexp.Regexp
}

func (v *patternValidator) Validate(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, &ValidationError{Expected: "string", Got: typeName(value)}
	}
	if !v.re.MatchString(s) {
		return nil, &ValidationError{
			Expected: fmt.Sprintf("string matching %q", v.pattern),
			Got:      fmt.Sprintf("%q", s),
		}
	}
	return s, nil
}

type objectValidator struct {
	properties         map[string]Validator
	required           []string
	disallowAdditional bool
}

func (v *objectValidator) Validate(value any) (any, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, &ValidationError{Expected: "object", Got: typeName(value)}
	}
	for _, name := range v.required {
		if _, present := obj[name]; !present {
			return nil, &ValidationError{Path: name, Expected: "required property", Got: "missing"}
		}
	}
	out := make(map[string]any, len(obj))
	for name, raw := range obj {
		pv, declared := v.properties[name]
		if !declared {
			if v.disallowAdditional {
				return nil, &ValidationError{Path: name, Expected: "declared property", Got: "additional property"}
			}
			out[name] = raw
			continue
		}
		normalised, err := pv.Validate(raw)
		if err != nil {
			return nil, errAt(name, err)
		}
		out[name] = normalised
	}
	return out, nil
}

type arrayValidator struct {
	item   Validator
	unique bool
}

func (v *arrayValidator) Validate(value any) (any, error) {
	arr, ok := value.([]any)
	if !ok {
		return nil, &ValidationError{Expected: "array", Got: typeName(value)}
	}
	out := make([]any, 0, len(arr))
	for i, raw := range arr {
		normalised, err := v.item.Validate(raw)
		if err != nil {
			return nil, errAt(fmt.Sprintf("%d", i), err)
		}
		out = append(out, normalised)
	}
	if v.unique {
		out = dedupe(out)
	}
	return out, nil
}

// dedupe removes duplicate elements preserving first occurrence, giving
// uniqueItems arrays set semantics with a deterministic representation.
func dedupe(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		dup := false
		for _, seen := range out {
			if literalEqual(seen, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}
