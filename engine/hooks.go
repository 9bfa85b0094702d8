package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/logging"
)

// HookType defines the lifecycle points where hooks run.
//
// Available hook types:
//   - BeforeTurn/AfterTurn: around a complete turn
//   - OnEvent: for every event a turn produces, trace events included
//   - OnError: for every error event
//   - OnMessage: for every message handed to the recorder
type HookType string

const (
	// HookBeforeTurn runs before a turn starts. An error rejects the turn.
	HookBeforeTurn HookType = "before_turn"

	// HookAfterTurn runs once the turn result is available.
	HookAfterTurn HookType = "after_turn"

	// HookOnEvent runs for every produced event.
	HookOnEvent HookType = "on_event"

	// HookOnError runs for every error event.
	HookOnError HookType = "on_error"

	// HookOnMessage runs for every recorded message.
	HookOnMessage HookType = "on_message"
)

// HookContext carries what a hook may inspect. Fields not relevant for the
// hook type are nil.
type HookContext struct {
	HookType       HookType
	TurnID         string
	ConversationID string
	Input          []core.Message
	Event          *core.Event
	Message        *core.Message
	Result         *Result
	Metadata       map[string]any
}

// Hook is a lifecycle extension point.
//
// Hooks run synchronously on the turn goroutine and should be fast. Only
// before_turn hooks influence execution; errors of all other hook types are
// logged.
type Hook interface {
	Type() HookType
	Execute(ctx context.Context, hc *HookContext) error
}

// FunctionHook wraps a function as a Hook.
//
// Example:
//
//	audit := NewFunctionHook(HookOnMessage, func(ctx context.Context, hc *HookContext) error {
//	    log.Printf("recorded %s in %s", hc.Message.Role, hc.ConversationID)
//	    return nil
//	})
type FunctionHook struct {
	hookType HookType
	fn       func(ctx context.Context, hc *HookContext) error
}

// NewFunctionHook creates a function-based hook.
func NewFunctionHook(hookType HookType, fn func(ctx context.Context, hc *HookContext) error) *FunctionHook {
	return &FunctionHook{hookType: hookType, fn: fn}
}

// Type returns the hook type this function handles.
func (h *FunctionHook) Type() HookType { return h.hookType }

// Execute calls the wrapped function.
func (h *FunctionHook) Execute(ctx context.Context, hc *HookContext) error { return h.fn(ctx, hc) }

// Hooks is the hook service of an engine. It is constructed explicitly and
// injected through Options; it holds no process-wide state. Registration
// and execution are safe for concurrent use.
type Hooks struct {
	mu     sync.RWMutex
	hooks  map[HookType][]Hook
	logger logging.Logger
}

// NewHooks creates an empty hook service.
func NewHooks(logger logging.Logger) *Hooks {
	return &Hooks{hooks: make(map[HookType][]Hook), logger: logging.OrNoOp(logger)}
}

// Register adds hooks. Hooks of one type run in registration order.
func (h *Hooks) Register(hooks ...Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, hook := range hooks {
		h.hooks[hook.Type()] = append(h.hooks[hook.Type()], hook)
	}
}

// Len returns the number of hooks registered for t.
func (h *Hooks) Len(t HookType) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.hooks[t])
}

// Fire runs all hooks of type t. Execution stops at the first error, which
// is returned. Panics are recovered and reported as errors.
func (h *Hooks) Fire(ctx context.Context, t HookType, hc *HookContext) error {
	if h == nil {
		return nil
	}

	h.mu.RLock()
	hooks := append([]Hook(nil), h.hooks[t]...)
	h.mu.RUnlock()

	if len(hooks) == 0 {
		return nil
	}

	hc.HookType = t

	for _, hook := range hooks {
		if err := h.execute(ctx, hook, hc); err != nil {
			return err
		}
	}

	return nil
}

// Notify runs all hooks of type t and logs failures instead of returning them.
func (h *Hooks) Notify(ctx context.Context, t HookType, hc *HookContext) {
	if err := h.Fire(ctx, t, hc); err != nil {
		h.logger.Warn("engine.hook.failed", "hook", string(t), "turn_id", hc.TurnID, "error", err.Error())
	}
}

func (h *Hooks) execute(ctx context.Context, hook Hook, hc *HookContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("engine.hook.panic", "hook", string(hook.Type()), "recover", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("hook %s panicked: %v", hook.Type(), r)
		}
	}()

	return hook.Execute(ctx, hc)
}

// LoggingHook logs lifecycle points through a logging.Logger.
type LoggingHook struct {
	hookType HookType
	logger   logging.Logger
}

// NewLoggingHook creates a logging hook for hookType.
func NewLoggingHook(hookType HookType, logger logging.Logger) *LoggingHook {
	return &LoggingHook{hookType: hookType, logger: logging.OrNoOp(logger)}
}

// Type returns the hook type this logger handles.
func (h *LoggingHook) Type() HookType { return h.hookType }

// Execute logs the lifecycle point with its identifiers.
func (h *LoggingHook) Execute(_ context.Context, hc *HookContext) error {
	args := []any{"hook", string(hc.HookType), "turn_id", hc.TurnID, "conversation_id", hc.ConversationID}

	if hc.Event != nil {
		args = append(args, "event_type", string(hc.Event.Type), "stage", string(hc.Event.Stage))
	}

	if hc.Message != nil {
		args = append(args, "role", string(hc.Message.Role), "message_id", hc.Message.ID)
	}

	if hc.Result != nil {
		args = append(args, "decision_exit", string(hc.Result.DecisionExit), "final_messages", len(hc.Result.FinalMessages))
	}

	h.logger.Info("engine.hook", args...)

	return nil
}
