package synthesizer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ioc-platform/agentcore/runtime/registry"
)

// ValidationError reports why synthesized parameters were rejected.
type ValidationError struct {
	Function string
	Reason   string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %s", e.Function, e.Reason)
}

// Validate checks params against the function's declared parameters: required
// parameters present, types match, numeric bounds and string patterns hold
// and no unknown parameters are passed. The check is local; no endpoint is
// contacted.
func Validate(fn *registry.FunctionSpec, params map[string]any) error {
	schema, err := compileSchema(fn)
	if err != nil {
		return err
	}

	// Round-trip so typed Go values become plain JSON values the validator
	// understands.
	raw, err := json.Marshal(params)
	if err != nil {
		return &ValidationError{Function: fn.Name, Reason: err.Error()}
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ValidationError{Function: fn.Name, Reason: err.Error()}
	}

	if err := schema.Validate(value); err != nil {
		return &ValidationError{Function: fn.Name, Reason: err.Error()}
	}
	return nil
}

// compileSchema builds and compiles the JSON Schema equivalent of the
// function's parameter declarations.
func compileSchema(fn *registry.FunctionSpec) (*jsonschema.Schema, error) {
	properties := make(map[string]any, len(fn.Parameters))
	var required []any
	for _, p := range fn.Parameters {
		prop := map[string]any{}
		if knownType(p.Type) {
			prop["type"] = p.Type
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			prop["maximum"] = *p.Maximum
		}
		if p.Pattern != "" {
			prop["pattern"] = p.Pattern
		}
		if len(p.Enum) > 0 {
			enum := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("params.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("params.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// knownType reports whether the declared type is a JSON Schema type. Unknown
// types skip the type assertion but still get bounds and pattern checks.
func knownType(t string) bool {
	switch t {
	case "string", "number", "integer", "boolean", "array", "object":
		return true
	}
	return false
}
