package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/logging"
	"github.com/hupe1980/agentturn/model"
	"github.com/hupe1980/agentturn/tool"
)

// Exit reports why a decision loop stopped.
type Exit string

const (
	// ExitNoTools means the model answered without calling tools.
	ExitNoTools Exit = "no_tools"
	// ExitTerminalTool means the model called the terminal tool.
	ExitTerminalTool Exit = "terminal_tool"
	// ExitMaxTurns means the turn limit was reached.
	ExitMaxTurns Exit = "max_turns"
	// ExitError means a model call failed for good.
	ExitError Exit = "error"
)

const (
	// RouterMaxTurns is the default turn limit of the Router variant.
	RouterMaxTurns = 5
	// IntentMaxTurns is the default turn limit of the Intent variant.
	IntentMaxTurns = 10
)

// DecisionOptions configures a DecisionHarness.
type DecisionOptions struct {
	// Name identifies the variant in logs ("router", "intent").
	Name string
	// MaxTurns bounds model calls per run. 0 means unlimited.
	MaxTurns int
	// TerminalTool ends the loop once called. Empty disables it.
	TerminalTool string
	// TerminalRequired marks a tool-free answer as an unsuccessful exit.
	TerminalRequired bool
	// AllowedTools are glob patterns selecting tools from the registry.
	AllowedTools []string
	// Instruction is the variant's system instruction.
	Instruction string
	CallConfig  model.CallConfig
	Retry       RetryConfig
	Executor    FunctionExecutorConfig
	Sleep       SleepFunc
	Logger      logging.Logger
}

// RouterInstruction is the default system instruction of the Router variant.
const RouterInstruction = `You are the decision stage of a conversational assistant.
Gather what is needed to answer the latest user message by calling the available tools.
When no further tool calls are needed, reply with a short note and no tool calls.`

// IntentInstruction is the default system instruction of the Intent variant.
const IntentInstruction = `You are the decision stage of a conversational assistant.
Work out the user's intent and call the available tools to satisfy it.
When you are done, call the "respond" tool with the reason why a response can now be written.`

// DecisionHarness runs a bounded, tool-enabled model loop.
type DecisionHarness struct {
	opts     DecisionOptions
	caller   model.Caller
	registry *tool.Registry
	retrier  *Retrier
	executor FunctionExecutor
}

// NewDecisionHarness creates a harness over the tools of registry matching
// AllowedTools. The terminal tool is added when configured and missing.
func NewDecisionHarness(caller model.Caller, registry *tool.Registry, optFns ...func(o *DecisionOptions)) (*DecisionHarness, error) {
	opts := DecisionOptions{
		Name:     "decision",
		MaxTurns: RouterMaxTurns,
		Retry:    DefaultRetryConfig(),
		Sleep:    Sleep,
		Logger:   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	if registry == nil {
		registry = tool.NewRegistry()
	}

	tools, err := registry.Filter(opts.AllowedTools...)
	if err != nil {
		return nil, fmt.Errorf("filter tools: %w", err)
	}

	if opts.TerminalTool != "" && !tools.Has(opts.TerminalTool) {
		if opts.TerminalTool != tool.RespondToolName {
			return nil, fmt.Errorf("terminal tool %q is not registered", opts.TerminalTool)
		}

		tools = tools.With(tool.NewRespondTool())
	}

	if opts.Executor.Logger == nil {
		opts.Executor.Logger = opts.Logger
	}

	return &DecisionHarness{
		opts:     opts,
		caller:   caller,
		registry: tools,
		retrier: NewRetrier(func(o *RetryOptions) {
			o.RetryConfig = opts.Retry
			o.Stage = core.StageDecision
			o.Sleep = opts.Sleep
			o.Logger = opts.Logger
		}),
		executor: NewParallelFunctionExecutor(opts.Executor),
	}, nil
}

// NewRouterHarness creates the Router variant: it stops on the first answer
// without tool calls and allows RouterMaxTurns model calls.
func NewRouterHarness(caller model.Caller, registry *tool.Registry, optFns ...func(o *DecisionOptions)) (*DecisionHarness, error) {
	return NewDecisionHarness(caller, registry, append([]func(o *DecisionOptions){func(o *DecisionOptions) {
		o.Name = "router"
		o.MaxTurns = RouterMaxTurns
		o.Instruction = RouterInstruction
	}}, optFns...)...)
}

// NewIntentHarness creates the Intent variant: it expects the model to call
// the respond tool and allows IntentMaxTurns model calls.
func NewIntentHarness(caller model.Caller, registry *tool.Registry, optFns ...func(o *DecisionOptions)) (*DecisionHarness, error) {
	return NewDecisionHarness(caller, registry, append([]func(o *DecisionOptions){func(o *DecisionOptions) {
		o.Name = "intent"
		o.MaxTurns = IntentMaxTurns
		o.TerminalTool = tool.RespondToolName
		o.TerminalRequired = true
		o.Instruction = IntentInstruction
	}}, optFns...)...)
}

// Name returns the variant name.
func (h *DecisionHarness) Name() string { return h.opts.Name }

// Instruction returns the variant system instruction.
func (h *DecisionHarness) Instruction() string { return h.opts.Instruction }

// Tools returns the tools bound on every model call.
func (h *DecisionHarness) Tools() *tool.Registry { return h.registry }

// MaxTurns returns the model call limit.
func (h *DecisionHarness) MaxTurns() int { return h.opts.MaxTurns }

// DecisionRequest is the input of one decision run.
type DecisionRequest struct {
	ConversationID string
	// Context is the assembled conversation, system message first.
	Context []core.Message
}

// DecisionResult is the outcome of one decision run.
type DecisionResult struct {
	// Context is the input context plus every appended assistant and tool
	// message. A final answer without tool calls is not part of it.
	Context []core.Message
	// Produced lists the messages appended to Context, in order.
	Produced []core.Message
	// Final is the last assistant message, if any.
	Final      *core.Message
	Exit       Exit
	Iterations int
	Usage      core.TokenUsage
	Err        error
}

// Succeeded reports whether the loop ended the way the variant expects.
func (r DecisionResult) Succeeded(terminalRequired bool) bool {
	switch r.Exit {
	case ExitTerminalTool:
		return true
	case ExitNoTools:
		return !terminalRequired
	default:
		return false
	}
}

// Run executes the loop. Events and committed messages are pushed to obs;
// failures are reported both as a terminal error event and in the result.
func (h *DecisionHarness) Run(ctx context.Context, req DecisionRequest, obs Observer) DecisionResult {
	start := time.Now()
	stage := core.StageDecision
	budget := core.NewTurnBudget(h.opts.MaxTurns)
	defs := h.registry.Definitions()
	names := h.registry.Names()
	modelName := h.modelName()

	res := DecisionResult{}
	msgs := core.CloneMessages(req.Context)
	callIDs := core.NewCallIDs(msgs...)

	h.opts.Logger.Debug("flow.decision.start", "harness", h.opts.Name, "conversation_id", req.ConversationID,
		"tools", len(names), "max_turns", h.opts.MaxTurns)

	for {
		if err := budget.Spend(); err != nil {
			obs.emit(core.NewErrorEvent(stage, core.ErrTurnLimitExceeded.Error(), map[string]any{
				"class":     "max_turns_exceeded",
				"max_turns": h.opts.MaxTurns,
			}))

			res.Exit, res.Err = ExitMaxTurns, err

			break
		}

		res.Iterations++

		estimate := model.EstimateTokens(msgs)
		h.opts.Logger.Debug("flow.decision.iteration", "harness", h.opts.Name, "iteration", res.Iterations, "estimated_tokens", estimate)

		obs.emit(core.NewLLMCallEvent(stage, modelName, msgs, names, estimate))

		callStart := time.Now()
		out, err := h.retrier.Call(ctx, h.caller, RetryRequest{Messages: msgs, Config: h.opts.CallConfig, Tools: defs, CallIDs: callIDs})
		latency := time.Since(callStart)

		for _, ev := range out.ErrorEvents {
			obs.emit(ev)
		}

		if cl, ok := h.opts.Logger.(logging.CallLogger); ok {
			cl.LogLLMCall(modelName, estimate, latency, err == nil, err)
		}

		if err != nil {
			class := Classify(ctx, err)
			obs.emit(core.NewErrorEvent(stage, err.Error(), map[string]any{
				"class":    string(class),
				"attempts": out.Attempts,
			}))

			res.Exit, res.Err = ExitError, err

			break
		}

		msg := out.Message
		if out.Usage != nil {
			res.Usage = res.Usage.Add(*out.Usage)
		}

		obs.emit(core.NewLLMCallCompleteEvent(stage, msgs, msg, out.Usage, latency))

		if !msg.HasToolCalls() {
			res.Final, res.Exit = &msg, ExitNoTools

			if h.opts.TerminalRequired {
				h.opts.Logger.Warn("flow.decision.no_terminal_tool", "harness", h.opts.Name, "terminal_tool", h.opts.TerminalTool)
			}

			break
		}

		msgs = append(msgs, msg)
		res.Produced = append(res.Produced, msg)
		obs.commit(msg)

		results := h.executor.Execute(ctx, ToolBatch{
			ConversationID: req.ConversationID,
			Calls:          msg.ToolCalls,
			Registry:       h.registry,
			Context:        msgs,
			Stage:          stage,
		}, obs.emit)

		msgs = append(msgs, results...)
		res.Produced = append(res.Produced, results...)

		for _, r := range results {
			obs.commit(r)
		}

		obs.emit(core.NewContextUpdateEvent(stage, msgs))

		if h.calledTerminal(msg) {
			res.Final, res.Exit = &msg, ExitTerminalTool
			break
		}
	}

	res.Context = msgs

	h.opts.Logger.Info("flow.decision.complete",
		"harness", h.opts.Name,
		"conversation_id", req.ConversationID,
		"exit", string(res.Exit),
		"iterations", res.Iterations,
		"success", res.Succeeded(h.opts.TerminalRequired),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return res
}

func (h *DecisionHarness) calledTerminal(msg core.Message) bool {
	if h.opts.TerminalTool == "" {
		return false
	}

	for _, tc := range msg.ToolCalls {
		if tc.Name == h.opts.TerminalTool {
			return true
		}
	}

	return false
}

func (h *DecisionHarness) modelName() string {
	if h.opts.CallConfig.Model != "" {
		return h.opts.CallConfig.Model
	}

	return h.caller.Info().Name
}
