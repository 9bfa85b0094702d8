// Package anthropic provides a model.Caller for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/model"
)

// Options configures the Anthropic caller (temperature, model id,
// max tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
}

// Caller wraps the Anthropic Messages API behind model.Caller.
type Caller struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewCaller creates a new Anthropic caller using the official client.
func NewCaller(optFns ...func(o *Options)) *Caller {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Caller{client: &client, opts: opts}
}

// NewCallerFromClient creates a new Anthropic caller from an existing client.
func NewCallerFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Caller {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Caller{client: client, opts: opts}
}

// Complete implements model.Caller.
func (c *Caller) Complete(ctx context.Context, msgs []core.Message, cfg model.CallConfig) (*model.Completion, error) {
	return c.complete(ctx, c.buildParams(msgs, cfg, nil), cfg)
}

// CompleteWithTools implements model.Caller.
func (c *Caller) CompleteWithTools(ctx context.Context, msgs []core.Message, cfg model.CallConfig, tools []model.ToolDefinition) (*model.Completion, error) {
	return c.complete(ctx, c.buildParams(msgs, cfg, tools), cfg)
}

func (c *Caller) complete(ctx context.Context, params anthropic.MessageNewParams, cfg model.CallConfig) (*model.Completion, error) {
	ctx, cancel := cfg.WithTimeout(ctx)
	defer cancel()

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}

	var (
		text  string
		calls []core.ToolCallRef
	)

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := "{}"

			if toolBlock.Input != nil {
				if argsBytes, err := json.Marshal(toolBlock.Input); err == nil && string(argsBytes) != "null" {
					args = string(argsBytes)
				}
			}

			calls = append(calls, core.ToolCallRef{ID: toolBlock.ID, Name: toolBlock.Name, Arguments: args})
		}
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)

	return &model.Completion{
		Message:      core.NewAssistantMessage(text, calls...),
		Usage:        &core.TokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
		FinishReason: finishReason,
	}, nil
}

// StreamText implements model.Caller using server-sent text deltas.
func (c *Caller) StreamText(ctx context.Context, msgs []core.Message, cfg model.CallConfig) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)

		ctx, cancel := cfg.WithTimeout(ctx)
		defer cancel()

		stream := c.client.Messages.NewStreaming(ctx, c.buildParams(msgs, cfg, nil))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()

			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}

			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}

			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- text.Text:
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic streaming error: %w", wrapError(err))
		}
	}()

	return out, errCh
}

func (c *Caller) buildParams(msgs []core.Message, cfg model.CallConfig, tools []model.ToolDefinition) anthropic.MessageNewParams {
	modelName := c.opts.Model
	if cfg.Model != "" {
		modelName = anthropic.Model(cfg.Model)
	}

	temperature := c.opts.Temperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}

	maxTokens := c.opts.MaxTokens
	if cfg.MaxTokens > 0 {
		maxTokens = int64(cfg.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:       modelName,
		Messages:    buildMessages(msgs),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}

	if system := systemBlocks(msgs); len(system) > 0 {
		params.System = system
	}

	if len(tools) > 0 {
		params.Tools = buildTools(tools)
	}

	return params
}

// buildMessages converts core messages to Anthropic message format. System
// messages travel separately; consecutive tool results are folded into one
// user message of tool_result blocks.
func buildMessages(msgs []core.Message) []anthropic.MessageParam {
	var (
		messages []anthropic.MessageParam
		results  []anthropic.ContentBlockParamUnion
	)

	flush := func() {
		if len(results) > 0 {
			messages = append(messages, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			continue
		case core.RoleTool:
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
			continue
		}

		flush()

		switch m.Role {
		case core.RoleUser:
			if m.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		case core.RoleAssistant:
			if content := assistantContent(m); len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		}
	}

	flush()

	return messages
}

func assistantContent(m core.Message) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion

	if m.Content != "" {
		content = append(content, anthropic.NewTextBlock(m.Content))
	}

	for _, tc := range m.ToolCalls {
		var input any = map[string]any{}
		if tc.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
				input = tc.Arguments
			}
		}

		content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
	}

	return content
}

func systemBlocks(msgs []core.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam

	for _, m := range msgs {
		if m.Role == core.RoleSystem && m.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: m.Content})
		}
	}

	return blocks
}

// buildTools converts tool definitions to Anthropic tool format.
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if params := tool.Function.Parameters; params != nil {
			if properties, exists := params["properties"]; exists {
				inputSchema.Properties = properties
			}

			inputSchema.Required = requiredFields(params["required"])
		}

		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Function.Name)
		if out[i].OfTool != nil && tool.Function.Description != "" {
			out[i].OfTool.Description = anthropic.String(tool.Function.Description)
		}
	}

	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

// Info returns metadata describing this Anthropic caller.
func (c *Caller) Info() model.Info {
	return model.Info{
		Name:          string(c.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}

// ListModels implements model.Lister.
func (c *Caller) ListModels(ctx context.Context) ([]model.Info, error) {
	var out []model.Info

	iter := c.client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})
	for iter.Next() {
		m := iter.Current()
		out = append(out, model.Info{Name: m.ID, Provider: "anthropic", SupportsTools: true})
	}

	if err := iter.Err(); err != nil {
		return nil, wrapError(err)
	}

	return out, nil
}

// wrapError converts SDK HTTP errors into model.APIError.
func wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &model.APIError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Err: err}
	}

	return fmt.Errorf("anthropic api error: %w", err)
}
