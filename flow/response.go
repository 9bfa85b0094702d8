package flow

import (
	"context"
	"strings"
	"time"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/logging"
	"github.com/hupe1980/agentturn/model"
)

// DefaultResponseTimeout bounds one streamed response.
const DefaultResponseTimeout = 60 * time.Second

// ResponseOptions configures a ResponseHarness.
type ResponseOptions struct {
	// Instruction is the system instruction used for the response stage.
	Instruction string
	CallConfig  model.CallConfig
	Logger      logging.Logger
}

// ResponseInstruction is the default response stage instruction.
const ResponseInstruction = `You are a helpful assistant. Answer the latest user message using the conversation
and the tool results above. Do not mention tools or the internal decision process.`

// ResponseHarness streams the tool-free final answer of a turn.
type ResponseHarness struct {
	opts   ResponseOptions
	caller model.Caller
}

// NewResponseHarness creates a ResponseHarness with DefaultResponseTimeout.
func NewResponseHarness(caller model.Caller, optFns ...func(o *ResponseOptions)) *ResponseHarness {
	opts := ResponseOptions{
		Instruction: ResponseInstruction,
		CallConfig:  model.CallConfig{Timeout: DefaultResponseTimeout},
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	return &ResponseHarness{opts: opts, caller: caller}
}

// Instruction returns the response stage instruction.
func (h *ResponseHarness) Instruction() string { return h.opts.Instruction }

// ResponseResult is the outcome of one streamed response.
type ResponseResult struct {
	// Message is the assistant message built from every streamed fragment.
	Message core.Message
	Usage   core.TokenUsage
	// Cancelled is set when the caller context was cancelled mid-stream.
	Cancelled bool
	Err       error
}

// Run streams the answer for msgs. Every fragment becomes a delta event; the
// stream always ends with one terminal delta followed by llm_call_complete,
// also after a failure. Cancellation of ctx is a clean stop without error event.
func (h *ResponseHarness) Run(ctx context.Context, msgs []core.Message, obs Observer) ResponseResult {
	stage := core.StageResponse
	messageID := core.NewID()
	modelName := h.modelName()
	promptTokens := model.EstimateTokens(msgs)

	obs.emit(core.NewLLMCallEvent(stage, modelName, msgs, nil, promptTokens))

	start := time.Now()
	texts, errs := h.caller.StreamText(ctx, msgs, h.opts.CallConfig)

	var (
		sb        strings.Builder
		streamErr error
		fragments int
	)

loop:
	for {
		select {
		case <-ctx.Done():
			streamErr = ctx.Err()
			break loop
		case text, ok := <-texts:
			if !ok {
				select {
				case streamErr = <-errs:
				case <-ctx.Done():
					streamErr = ctx.Err()
				}

				break loop
			}

			if text == "" {
				continue
			}

			fragments++
			sb.WriteString(text)
			obs.emit(core.NewDeltaEvent(stage, messageID, text))
		}
	}

	res := ResponseResult{Cancelled: ctx.Err() != nil}

	if streamErr != nil && !res.Cancelled {
		res.Err = streamErr
		obs.emit(core.NewErrorEvent(stage, "response stream failed: "+streamErr.Error(), map[string]any{
			"class":     "stream_failure",
			"fragments": fragments,
		}))
	}

	obs.emit(core.NewFinalDeltaEvent(stage, messageID))

	content := sb.String()
	completion := model.EstimateTextTokens(content)
	res.Usage = core.TokenUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completion,
		TotalTokens:      promptTokens + completion,
	}
	res.Message = core.NewAssistantMessage(content).WithID(messageID)

	latency := time.Since(start)
	usage := res.Usage
	obs.emit(core.NewLLMCallCompleteEvent(stage, msgs, res.Message, &usage, latency))

	if cl, ok := h.opts.Logger.(logging.CallLogger); ok {
		cl.LogLLMCall(modelName, res.Usage.TotalTokens, latency, res.Err == nil, res.Err)
	}

	h.opts.Logger.Info("flow.response.complete",
		"fragments", fragments,
		"cancelled", res.Cancelled,
		"error", res.Err != nil,
		"duration_ms", latency.Milliseconds(),
	)

	return res
}

func (h *ResponseHarness) modelName() string {
	if h.opts.CallConfig.Model != "" {
		return h.opts.CallConfig.Model
	}

	return h.caller.Info().Name
}
