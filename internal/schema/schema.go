// Package schema compiles JSON-Schema fragments into runtime validators for
// key values. A schema is compiled once at model-registration time into a
// tree of validator nodes; validating a value is a tree walk that returns a
// normalised copy of the value or a ValidationError.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError reports where and how a value failed validation.
type ValidationError struct {
	Path     string
	Expected string
	Got      string
}

func (e *ValidationError) Error() string {
	path := e.Path
	if path == "" {
		path = "$"
	}
	return fmt.Sprintf("validation failed at %s: expected %s, got %s", path, e.Expected, e.Got)
}

// Validator accepts a JSON-shaped value and returns the normalised value or
// a *ValidationError.
type Validator interface {
	Validate(value any) (any, error)
}

// Options adjusts schema compilation.
type Options struct {
	// DisallowAdditional rejects object properties not declared in the
	// schema. The default accepts and passes them through unvalidated.
	DisallowAdditional bool
}

// Compile builds a validator tree from a JSON-Schema fragment restricted to
// the subset {object, array, string, integer, number, boolean, enum,
// pattern, uniqueItems, required}. The schema document itself is checked
// against Draft-07 first so malformed schemas are rejected up front.
func Compile(schemaDoc map[string]any, opts ...Options) (Validator, error) {
	var opt Options
	if len(opts) > 0 {
		opt = opts[0]
	}
	if err := checkSchemaDocument(schemaDoc); err != nil {
		return nil, err
	}
	return compileNode(schemaDoc, opt)
}

// checkSchemaDocument compiles the raw schema with a Draft-07 compiler to
// reject documents that are not valid JSON Schema.
func checkSchemaDocument(schemaDoc map[string]any) error {
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	if _, err := compiler.Compile("schema.json"); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	return nil
}

func compileNode(node map[string]any, opt Options) (Validator, error) {
	if enum, ok := node["enum"].([]any); ok {
		return &enumValidator{literals: enum}, nil
	}

	typeName, _ := node["type"].(string)

	if pattern, ok := node["pattern"].(string); ok && typeName == "string" {
		// The whole value must match, not a substring.
		re, err := regexp.Compile(`\A(?:` + pattern + `)\z`)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		return &patternValidator{pattern: pattern, re: re}, nil
	}

	switch typeName {
	case "string":
		return StringValidator(), nil
	case "integer":
		return IntValidator(), nil
	case "number":
		return FloatValidator(), nil
	case "boolean":
		return BoolValidator(), nil
	case "object":
		return compileObject(node, opt)
	case "array":
		return compileArray(node, opt)
	default:
		// Unknown or missing type: treat as open.
		return anyValidator{}, nil
	}
}

func compileObject(node map[string]any, opt Options) (Validator, error) {
	v := &objectValidator{
		properties:         map[string]Validator{},
		disallowAdditional: opt.DisallowAdditional,
	}
	if props, ok := node["properties"].(map[string]any); ok {
		for name, sub := range props {
			subSchema, ok := sub.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("invalid schema for property %q", name)
			}
			pv, err := compileNode(subSchema, opt)
			if err != nil {
				return nil, err
			}
			v.properties[name] = pv
		}
	}
	if required, ok := node["required"].([]any); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("invalid required entry %v", r)
			}
			v.required = append(v.required, name)
		}
	}
	return v, nil
}

func compileArray(node map[string]any, opt Options) (Validator, error) {
	itemSchema := map[string]any{"type": "string"}
	if items, ok := node["items"].(map[string]any); ok {
		itemSchema = items
	}
	item, err := compileNode(itemSchema, opt)
	if err != nil {
		return nil, err
	}
	unique, _ := node["uniqueItems"].(bool)
	return &arrayValidator{item: item, unique: unique}, nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int32, int64, float32, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func errAt(path string, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) && path != "" {
		prefixed := *ve
		if prefixed.Path == "" {
			prefixed.Path = path
		} else {
			prefixed.Path = path + "." + prefixed.Path
		}
		return &prefixed
	}
	return err
}
