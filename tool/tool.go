// Package tool implements the tool subsystem the decision loop dispatches
// to: schema validated functions, a concurrent-safe registry and the terminal
// respond tool.
package tool

import (
	"errors"
	"fmt"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/internal/util"
)

// Tool is a capability the decision stage may call. Calls of one assistant
// message run in parallel, so implementations must be safe for concurrent use.
type Tool interface {
	// Name is the identifier the model calls the tool by.
	Name() string
	// Description tells the model when the tool is useful.
	Description() string
	// Parameters is the JSON schema of the arguments object.
	Parameters() map[string]any
	// Call runs the tool. The returned value is rendered into the tool
	// message: strings verbatim, everything else as JSON.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError describes why arguments did not match a tool's schema.
type ValidationError = util.ValidationError

// Error codes attached to ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// ToolError is the normalized failure of a tool call. Its text becomes the
// body of the tool message the model sees, so Message should read well on
// its own.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	// Details holds the cause: a *ValidationError for CodeValidation, the
	// function's error for CodeExecution.
	Details any `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
	}

	return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
}

// Unwrap exposes Details when it is an error, so errors.Is sees through to
// context.DeadlineExceeded and the like.
func (e *ToolError) Unwrap() error {
	err, _ := e.Details.(error)
	return err
}

// NewToolError creates a ToolError without a cause.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// asToolError keeps an existing *ToolError and wraps anything else as an
// execution failure of tool.
func asToolError(tool string, err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}

	return &ToolError{Tool: tool, Message: err.Error(), Code: CodeExecution, Details: err}
}
