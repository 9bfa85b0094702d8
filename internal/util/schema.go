package util

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError struct {
	Field   string `json:"field"`   // Field that failed validation
	Value   any    `json:"value"`   // Value that was provided
	Message string `json:"message"` // Human-readable error message
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// CreateSchema creates a JSON schema from a Go struct using reflection.
// Field docs come from `jsonschema:"description=..."` tags; fields without
// omitempty are required.
func CreateSchema(structType any) map[string]any {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true, Anonymous: true}

	raw, err := json.Marshal(r.Reflect(structType))
	if err != nil {
		return emptyObjectSchema()
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return emptyObjectSchema()
	}

	delete(schema, "$schema")

	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}

	return schema
}

func emptyObjectSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// ValidateParameters validates parameters against a JSON schema. A nil or
// empty schema accepts anything.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	if params == nil {
		params = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	first := errs[0]

	msgs := make([]string, 0, len(errs))
	for _, re := range errs {
		msgs = append(msgs, re.String())
	}

	field := first.Field()
	if prop, ok := first.Details()["property"].(string); ok && first.Type() == "required" {
		field = prop
	}

	return &ValidationError{
		Field:   field,
		Value:   first.Value(),
		Message: strings.Join(msgs, "; "),
	}
}

// ParseArguments decodes the raw JSON arguments of a tool call. Empty input
// is treated as an empty object.
func ParseArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}

	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}

	if args == nil {
		args = map[string]any{}
	}

	return args, nil
}
