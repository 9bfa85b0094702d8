// Package openai provides an implementation of model.Caller using the OpenAI
// Chat Completions API (including streaming + function/tool calling). It
// adapts the normalized core.Message list into the SDK's message format and
// back.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/model"
)

// Options configure the OpenAI caller. Per-call model.CallConfig values take
// precedence over these defaults.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Caller wraps the OpenAI Chat Completions API behind model.Caller.
type Caller struct {
	client *openai.Client
	opts   Options
}

// NewCaller creates a new OpenAI caller using the official client. The
// client reads OPENAI_API_KEY and friends from the environment.
func NewCaller(optFns ...func(o *Options)) *Caller {
	client := openai.NewClient()
	return NewCallerFromClient(&client, optFns...)
}

// NewCallerFromClient creates a new OpenAI caller from an existing client.
func NewCallerFromClient(client *openai.Client, optFns ...func(o *Options)) *Caller {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}

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

func (c *Caller) complete(ctx context.Context, params openai.ChatCompletionNewParams, cfg model.CallConfig) (*model.Completion, error) {
	ctx, cancel := cfg.WithTimeout(ctx)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	ch0 := resp.Choices[0]

	calls := make([]core.ToolCallRef, 0, len(ch0.Message.ToolCalls))
	for _, tc := range ch0.Message.ToolCalls {
		calls = append(calls, core.ToolCallRef{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return &model.Completion{
		Message: core.NewAssistantMessage(ch0.Message.Content, calls...),
		Usage: &core.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		FinishReason: ch0.FinishReason,
	}, nil
}

// StreamText implements model.Caller.
func (c *Caller) StreamText(ctx context.Context, msgs []core.Message, cfg model.CallConfig) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)

		ctx, cancel := cfg.WithTimeout(ctx)
		defer cancel()

		stream := c.client.Chat.Completions.NewStreaming(ctx, c.buildParams(msgs, cfg, nil))
		defer stream.Close()

		for stream.Next() {
			ck := stream.Current()
			for _, ch := range ck.Choices {
				if ch.Delta.Content == "" {
					continue
				}

				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- ch.Delta.Content:
				}
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai streaming error: %w", wrapError(err))
		}
	}()

	return out, errCh
}

// Info returns metadata describing this OpenAI caller.
func (c *Caller) Info() model.Info {
	return model.Info{
		Name:          c.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}

// buildMessages converts normalized messages into OpenAI chat messages. Tool
// results already follow their assistant tool calls in core order.
func buildMessages(msgs []core.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case core.RoleTool:
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		case core.RoleAssistant:
			if !m.HasToolCalls() {
				messages = append(messages, openai.AssistantMessage(m.Content))
				continue
			}

			param := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: toolCallParams(m.ToolCalls),
			}

			if m.Content != "" {
				param.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(m.Content)}
			}

			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: param})
		}
	}

	return messages
}

func toolCallParams(calls []core.ToolCallRef) []openai.ChatCompletionMessageToolCallParam {
	out := make([]openai.ChatCompletionMessageToolCallParam, 0, len(calls))
	for _, tc := range calls {
		args := tc.Arguments
		if args == "" {
			args = "{}"
		}

		out = append(out, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}

	return out
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (c *Caller) buildParams(msgs []core.Message, cfg model.CallConfig, tools []model.ToolDefinition) openai.ChatCompletionNewParams {
	modelName := c.opts.Model
	if cfg.Model != "" {
		modelName = cfg.Model
	}

	temperature := c.opts.Temperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}

	maxTokens := c.opts.MaxCompletionTokens
	if cfg.MaxTokens > 0 {
		maxTokens = int64(cfg.MaxTokens)
	}

	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(msgs),
		Model:               modelName,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}

	if len(tools) == 0 {
		return params
	}

	defs := make([]openai.ChatCompletionToolParam, len(tools))
	for i, tdef := range tools {
		defs[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}

	params.Tools = defs

	return params
}

// ListModels implements model.Lister. Listed entries carry no capability
// data, so SupportsTools stays false.
func (c *Caller) ListModels(ctx context.Context) ([]model.Info, error) {
	var out []model.Info

	iter := c.client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		m := iter.Current()
		out = append(out, model.Info{Name: m.ID, Provider: "openai"})
	}

	if err := iter.Err(); err != nil {
		return nil, wrapError(err)
	}

	return out, nil
}

// wrapError converts SDK HTTP errors into model.APIError.
func wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &model.APIError{Provider: "openai", StatusCode: apiErr.StatusCode, Err: err}
	}

	return fmt.Errorf("openai api error: %w", err)
}
