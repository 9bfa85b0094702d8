// Package agentturn provides a high-level façade over the turn engine. Most
// applications interact with this package by:
//  1. Creating an AgentTurn via New() with a model.Caller and their tools
//  2. Running turns asynchronously (Run) or synchronously (RunSync)
//
// The façade builds the decision harness (Router or Intent variant), the
// response harness and the engine. All defaults are safe for local
// development and testing; production deployments typically supply a
// durable store (session/sqlite) and a structured logger.
package agentturn

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/engine"
	"github.com/hupe1980/agentturn/flow"
	"github.com/hupe1980/agentturn/logging"
	"github.com/hupe1980/agentturn/model"
	"github.com/hupe1980/agentturn/session"
	"github.com/hupe1980/agentturn/sink"
	"github.com/hupe1980/agentturn/tool"
)

// Variant selects the decision loop.
type Variant string

const (
	// Router stops once the model answers without tool calls.
	Router Variant = "router"
	// Intent stops once the model calls the respond tool.
	Intent Variant = "intent"
)

// ErrNoCaller is returned by New without a model caller.
var ErrNoCaller = errors.New("agentturn: model caller is required")

// Options configures the AgentTurn instance.
type Options struct {
	Variant Variant
	Tools   []tool.Tool

	// Decision and Response tweak the harness options after defaults were applied.
	Decision func(o *flow.DecisionOptions)
	Response func(o *flow.ResponseOptions)

	EngineConfig engine.Config
	// Store defaults to an in-memory store.
	Store        session.Store
	HistoryLimit int
	Sinks        []sink.Sink
	Hooks        *engine.Hooks

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// AgentTurn is the high-level façade aggregating harnesses and engine.
type AgentTurn struct {
	opts   Options
	engine *engine.Engine
}

// New creates a new AgentTurn. Unset services use in-memory implementations.
func New(caller model.Caller, optFns ...func(o *Options)) (*AgentTurn, error) {
	if caller == nil {
		return nil, ErrNoCaller
	}

	opts := Options{
		Variant:      Router,
		EngineConfig: engine.DefaultConfig,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}

	registry := tool.NewRegistry(opts.Tools...)

	decisionOpts := func(o *flow.DecisionOptions) {
		o.Logger = opts.Logger
		o.Executor.Logger = opts.Logger

		if opts.Decision != nil {
			opts.Decision(o)
		}
	}

	var (
		decision *flow.DecisionHarness
		err      error
	)

	switch opts.Variant {
	case Router:
		decision, err = flow.NewRouterHarness(caller, registry, decisionOpts)
	case Intent:
		decision, err = flow.NewIntentHarness(caller, registry, decisionOpts)
	default:
		return nil, fmt.Errorf("agentturn: unknown variant %q", opts.Variant)
	}

	if err != nil {
		return nil, fmt.Errorf("agentturn: %w", err)
	}

	response := flow.NewResponseHarness(caller, func(o *flow.ResponseOptions) {
		o.Logger = opts.Logger

		if opts.Response != nil {
			opts.Response(o)
		}
	})

	e := engine.New(decision, response, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Store = opts.Store
		o.HistoryLimit = opts.HistoryLimit
		o.Sinks = opts.Sinks
		o.Hooks = opts.Hooks
		o.Logger = opts.Logger
	})

	return &AgentTurn{opts: opts, engine: e}, nil
}

// Engine returns the underlying engine.
func (a *AgentTurn) Engine() *engine.Engine { return a.engine }

// Store returns the message store used for recording and history.
func (a *AgentTurn) Store() session.Store { return a.opts.Store }

// Run starts a turn.
func (a *AgentTurn) Run(ctx context.Context, in engine.TurnInput) (*engine.Turn, error) {
	return a.engine.Run(ctx, in)
}

// RunSync runs a turn to completion, returning its result and delivered events.
func (a *AgentTurn) RunSync(ctx context.Context, in engine.TurnInput) (engine.Result, []core.Event, error) {
	return a.engine.RunSync(ctx, in)
}

// Ask runs a one-message turn and returns the answer text.
func (a *AgentTurn) Ask(ctx context.Context, conversationID, text string) (string, error) {
	res, _, err := a.engine.RunSync(ctx, engine.TurnInput{
		ConversationID: conversationID,
		Messages:       []core.Message{core.NewUserMessage(text)},
	})
	if err != nil {
		return "", err
	}

	if len(res.FinalMessages) == 0 {
		if res.ResponseErr != nil {
			return "", res.ResponseErr
		}

		return "", nil
	}

	return res.FinalMessages[0].Content, nil
}

// Cancel stops a running turn.
func (a *AgentTurn) Cancel(turnID string) error { return a.engine.Cancel(turnID) }
