package model

import (
	"context"
	"time"

	"github.com/hupe1980/agentturn/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// NewToolDefinition builds a function tool definition.
func NewToolDefinition(name, description string, parameters map[string]any) ToolDefinition {
	return ToolDefinition{
		Type:     "function",
		Function: FunctionDefinition{Name: name, Description: description, Parameters: parameters},
	}
}

// ToolNames returns the function names of defs in order.
func ToolNames(defs []ToolDefinition) []string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Function.Name)
	}

	return names
}

// CallConfig tunes a single model call.
type CallConfig struct {
	Model       string        `json:"model,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// WithTimeout derives a context bounded by cfg.Timeout when set.
func (cfg CallConfig) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if cfg.Timeout > 0 {
		return context.WithTimeout(ctx, cfg.Timeout)
	}

	return context.WithCancel(ctx)
}

// Completion is the result of a non-streaming model call. Message is always an
// assistant message; tool calls are only present for tool-bound calls.
type Completion struct {
	Message      core.Message     `json:"message"`
	Usage        *core.TokenUsage `json:"usage,omitempty"`
	FinishReason string           `json:"finish_reason,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Caller is the contract the harnesses use to talk to a model provider.
type Caller interface {
	// Complete performs a tool-free completion.
	Complete(ctx context.Context, msgs []core.Message, cfg CallConfig) (*Completion, error)

	// StreamText streams response fragments. The fragment channel is closed
	// at the end of the stream; the error channel yields at most one error
	// and is closed afterwards.
	StreamText(ctx context.Context, msgs []core.Message, cfg CallConfig) (<-chan string, <-chan error)

	// CompleteWithTools performs a completion with tools bound. The returned
	// message may carry tool calls.
	CompleteWithTools(ctx context.Context, msgs []core.Message, cfg CallConfig, tools []ToolDefinition) (*Completion, error)

	// Info returns information about the model implementation.
	Info() Info
}
