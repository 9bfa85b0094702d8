package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/internal/util"
	"github.com/hupe1980/agentturn/logging"
	"github.com/hupe1980/agentturn/tool"
)

// FunctionExecutor executes one batch of tool calls from a single assistant
// message. Implementations must:
//   - Respect ctx cancellation
//   - Never panic (recover internally and report the failure as a result)
//   - Emit exactly one tool_call and one tool_call_complete per call
//   - Return one tool message per call, in call order
type FunctionExecutor interface {
	Execute(ctx context.Context, batch ToolBatch, emit func(core.Event)) []core.Message
}

// ToolBatch is the input of FunctionExecutor.Execute.
type ToolBatch struct {
	ConversationID string
	Calls          []core.ToolCallRef
	Registry       *tool.Registry
	// Context is the conversation visible to the tools.
	Context []core.Message
	Stage   core.Stage
}

// FunctionExecutorConfig configures the default parallel executor.
type FunctionExecutorConfig struct {
	MaxParallel    int           // 0 or <1 => no explicit limit (len(calls))
	ToolTimeout    time.Duration // 0 => no per-tool deadline
	LogStartEvents bool          // log a start line per tool
	Logger         logging.Logger
}

// parallelFunctionExecutor is the default implementation.
type parallelFunctionExecutor struct {
	cfg FunctionExecutorConfig
}

// NewParallelFunctionExecutor constructs a new executor with the given config.
func NewParallelFunctionExecutor(cfg FunctionExecutorConfig) FunctionExecutor {
	cfg.Logger = logging.OrNoOp(cfg.Logger)
	return &parallelFunctionExecutor{cfg: cfg}
}

func (e *parallelFunctionExecutor) Execute(ctx context.Context, batch ToolBatch, emit func(core.Event)) []core.Message {
	n := len(batch.Calls)
	if n == 0 {
		return nil
	}

	var mu sync.Mutex

	safeEmit := func(ev core.Event) {
		mu.Lock()
		defer mu.Unlock()

		if emit != nil {
			emit(ev)
		}
	}

	// All invocations are announced before any of them starts.
	for _, fc := range batch.Calls {
		safeEmit(core.NewToolCallEvent(batch.Stage, fc))
	}

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	results := make([]string, n)
	batchStart := time.Now()

	var g errgroup.Group
	g.SetLimit(maxPar)

	for i, fc := range batch.Calls {
		g.Go(func() error {
			if e.cfg.LogStartEvents {
				e.cfg.Logger.Info("flow.tool.start", "tool", fc.Name, "call_id", fc.ID)
			}

			start := time.Now()
			result, err := e.executeTool(ctx, batch, fc)
			dur := time.Since(start)

			if err != nil {
				result = "Error: " + err.Error()
			}

			results[i] = result

			e.cfg.Logger.Info(
				"flow.tool.executed",
				"tool", fc.Name,
				"call_id", fc.ID,
				"duration_ms", dur.Milliseconds(),
				"error", err != nil,
			)

			if cl, ok := e.cfg.Logger.(logging.CallLogger); ok {
				cl.LogToolCall(fc.Name, dur, err == nil, err)
			}

			safeEmit(core.NewToolCallCompleteEvent(batch.Stage, fc, result, dur))

			return nil
		})
	}

	_ = g.Wait()

	e.cfg.Logger.Debug(
		"flow.tools.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	msgs := make([]core.Message, n)
	for i, fc := range batch.Calls {
		msgs[i] = core.NewToolMessage(fc.ID, fc.Name, results[i]).WithID(core.NewID())
	}

	return msgs
}

// executeTool centralizes tool lookup, argument decoding and invocation.
func (e *parallelFunctionExecutor) executeTool(ctx context.Context, batch ToolBatch, fc core.ToolCallRef) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("tool %s not run: %w", fc.Name, err)
	}

	var (
		impl tool.Tool
		ok   bool
	)

	if batch.Registry != nil {
		impl, ok = batch.Registry.Get(fc.Name)
	}

	if !ok {
		return "", fmt.Errorf("tool %s not found", fc.Name)
	}

	args, err := util.ParseArguments(fc.Arguments)
	if err != nil {
		return "", fmt.Errorf("failed to unmarshal args: %w", err)
	}

	if e.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, e.cfg.ToolTimeout)
		defer cancel()
	}

	toolCtx := core.NewToolContext(ctx, batch.ConversationID, fc, batch.Context, e.cfg.Logger)

	type outcome struct {
		result any
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		var o outcome

		defer func() {
			if r := recover(); r != nil {
				o.err = panicError(r)
				e.cfg.Logger.Error("flow.tool.panic", "tool", fc.Name, "recover", r)
			}

			done <- o
		}()

		o.result, o.err = impl.Call(toolCtx, args)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("tool %s: %w", fc.Name, ctx.Err())
	case o := <-done:
		if o.err != nil {
			return "", o.err
		}

		return formatResult(o.result), nil
	}
}

// formatResult renders a tool result as message content.
func formatResult(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case []byte:
		return string(r)
	case fmt.Stringer:
		return r.String()
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}

	return string(b)
}

// panicError converts a recovered panic value to an error.
func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
