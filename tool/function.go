package tool

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/iancoleman/strcase"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/internal/util"
)

// FunctionTool adapts a Go function to Tool. Arguments are checked against
// parameters before fn runs; a mismatch yields CodeValidation, any other
// failure CodeExecution unless fn already returned a *ToolError.
//
// FunctionTool is immutable after construction.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// NewFunctionTool wraps fn with a hand-written JSON schema. A nil schema
// accepts any arguments.
//
//	lookup := tool.NewFunctionTool("lookup_order", "Find an order by id",
//	  map[string]any{
//	    "type":       "object",
//	    "properties": map[string]any{"id": map[string]any{"type": "string"}},
//	    "required":   []string{"id"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return orders.Get(tc.Context(), args["id"].(string))
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct.
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// NewTypedTool builds a tool whose arguments decode into T. The schema is
// reflected from T; an empty name defaults to the snake_case type name.
//
//	type WeatherArgs struct {
//	  City string `json:"city" jsonschema:"description=City name"`
//	}
//
//	weather := NewTypedTool("", "Get the weather", func(tc *core.ToolContext, a WeatherArgs) (any, error) {
//	  return "sunny in " + a.City, nil
//	})
func NewTypedTool[T any](name, description string, fn func(toolCtx *core.ToolContext, args T) (any, error)) *FunctionTool {
	var zero T

	if name == "" {
		t := reflect.TypeOf(zero)
		for t != nil && t.Kind() == reflect.Ptr {
			t = t.Elem()
		}

		if t != nil {
			name = strcase.ToSnake(t.Name())
		}
	}

	return NewFunctionTool(name, description, util.CreateSchema(zero), func(tc *core.ToolContext, args map[string]any) (any, error) {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}

		var typed T
		if err := json.Unmarshal(raw, &typed); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}

		return fn(tc, typed)
	})
}

func (t *FunctionTool) Name() string { return t.name }

func (t *FunctionTool) Description() string { return t.description }

func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call checks args against the declared schema and runs the function.
// Every failure is returned as *ToolError.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	start := time.Now()

	if err := util.ValidateParameters(args, t.parameters); err != nil {
		toolCtx.LogWarn("tool.call.invalid_arguments", "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: "parameter validation failed: " + err.Error(),
			Code:    CodeValidation,
			Details: err,
		}
	}

	result, err := t.fn(toolCtx, args)
	if err != nil {
		te := asToolError(t.name, err)
		toolCtx.LogDebug("tool.call.failed", "code", te.Code, "error", te.Message)

		return nil, te
	}

	toolCtx.LogDebug("tool.call.done", "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
