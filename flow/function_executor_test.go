package flow

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/internal/testutil"
	"github.com/hupe1980/agentturn/tool"
)

type teMockTool struct {
	name     string
	delay    time.Duration
	result   any
	err      error
	panicMsg any
	running  *int32
	peak     *int32
}

func (mt *teMockTool) Name() string               { return mt.name }
func (mt *teMockTool) Description() string        { return "mock tool" }
func (mt *teMockTool) Parameters() map[string]any { return map[string]any{} }
func (mt *teMockTool) Call(tc *core.ToolContext, _ map[string]any) (any, error) {
	if mt.running != nil {
		n := atomic.AddInt32(mt.running, 1)
		defer atomic.AddInt32(mt.running, -1)

		for {
			p := atomic.LoadInt32(mt.peak)
			if n <= p || atomic.CompareAndSwapInt32(mt.peak, p, n) {
				break
			}
		}
	}

	if mt.delay > 0 {
		select {
		case <-time.After(mt.delay):
		case <-tc.Context().Done():
			return nil, tc.Context().Err()
		}
	}

	if mt.panicMsg != nil {
		panic(mt.panicMsg)
	}

	return mt.result, mt.err
}

func newTEBatch(reg *tool.Registry, calls ...core.ToolCallRef) ToolBatch {
	return ToolBatch{ConversationID: "conv", Calls: calls, Registry: reg, Stage: core.StageDecision}
}

func TestFunctionExecutor_Single(t *testing.T) {
	reg := tool.NewRegistry(&teMockTool{name: "one", result: 42})
	te := NewParallelFunctionExecutor(FunctionExecutorConfig{MaxParallel: 4})
	rec := testutil.NewEventRecorder()

	msgs := te.Execute(context.Background(), newTEBatch(reg, core.ToolCallRef{ID: "1", Name: "one", Arguments: "{}"}), rec.Event)

	if len(msgs) != 1 {
		t.Fatalf("expected 1 message got %d", len(msgs))
	}

	if msgs[0].Role != core.RoleTool || msgs[0].ToolCallID != "1" || msgs[0].Content != "42" {
		t.Fatalf("unexpected tool message %+v", msgs[0])
	}

	types := rec.Types()
	if len(types) != 2 || types[0] != core.EventToolCall || types[1] != core.EventToolCallComplete {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestFunctionExecutor_ParallelCompletionOrder(t *testing.T) {
	reg := tool.NewRegistry(
		&teMockTool{name: "slow", delay: 60 * time.Millisecond, result: "s"},
		&teMockTool{name: "fast", delay: 5 * time.Millisecond, result: "f"},
	)
	te := NewParallelFunctionExecutor(FunctionExecutorConfig{MaxParallel: 2})
	rec := testutil.NewEventRecorder()

	start := time.Now()
	msgs := te.Execute(context.Background(), newTEBatch(reg,
		core.ToolCallRef{ID: "1", Name: "slow", Arguments: "{}"},
		core.ToolCallRef{ID: "2", Name: "fast", Arguments: "{}"},
	), rec.Event)
	elapsed := time.Since(start)

	evs := rec.Events()
	if len(evs) != 4 {
		t.Fatalf("want 4 events got %d", len(evs))
	}

	// Both invocations are announced before any completion.
	if evs[0].Type != core.EventToolCall || evs[1].Type != core.EventToolCall {
		t.Fatalf("expected tool_call events first, got %v", rec.Types())
	}

	if evs[2].ToolCallComplete.Name != "fast" {
		t.Fatalf("expected fast to complete first got %s", evs[2].ToolCallComplete.Name)
	}

	// Results stay in call order.
	if msgs[0].Content != "s" || msgs[1].Content != "f" {
		t.Fatalf("results out of call order: %q %q", msgs[0].Content, msgs[1].Content)
	}

	if elapsed > 110*time.Millisecond {
		t.Fatalf("expected parallel speedup, elapsed=%v", elapsed)
	}
}

func TestFunctionExecutor_MaxParallel(t *testing.T) {
	var running, peak int32

	mk := func(name string) tool.Tool {
		return &teMockTool{name: name, delay: 10 * time.Millisecond, running: &running, peak: &peak}
	}

	reg := tool.NewRegistry(mk("a"), mk("b"), mk("c"), mk("d"))
	te := NewParallelFunctionExecutor(FunctionExecutorConfig{MaxParallel: 2})

	te.Execute(context.Background(), newTEBatch(reg,
		core.ToolCallRef{ID: "1", Name: "a"},
		core.ToolCallRef{ID: "2", Name: "b"},
		core.ToolCallRef{ID: "3", Name: "c"},
		core.ToolCallRef{ID: "4", Name: "d"},
	), nil)

	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Fatalf("expected at most 2 concurrent tools, saw %d", p)
	}
}

func TestFunctionExecutor_ErrorIsolation(t *testing.T) {
	reg := tool.NewRegistry(
		&teMockTool{name: "ok", result: map[string]any{"v": "fine"}},
		&teMockTool{name: "bad", err: errors.New("boom")},
	)
	te := NewParallelFunctionExecutor(FunctionExecutorConfig{MaxParallel: 2})

	msgs := te.Execute(context.Background(), newTEBatch(reg,
		core.ToolCallRef{ID: "1", Name: "ok", Arguments: "{}"},
		core.ToolCallRef{ID: "2", Name: "bad", Arguments: "{}"},
		core.ToolCallRef{ID: "3", Name: "missing", Arguments: "{}"},
		core.ToolCallRef{ID: "4", Name: "ok", Arguments: "{broken"},
	), nil)

	if len(msgs) != 4 {
		t.Fatalf("expected 4 results got %d", len(msgs))
	}

	if msgs[0].Content != `{"v":"fine"}` {
		t.Fatalf("unexpected ok result %q", msgs[0].Content)
	}

	for i, want := range []string{"boom", "not found", "unmarshal"} {
		got := msgs[i+1].Content
		if !strings.HasPrefix(got, "Error: ") || !strings.Contains(got, want) {
			t.Fatalf("result %d: expected error containing %q, got %q", i+1, want, got)
		}
	}
}

func TestFunctionExecutor_PanicRecovery(t *testing.T) {
	reg := tool.NewRegistry(&teMockTool{name: "panic", panicMsg: "kaboom"})
	te := NewParallelFunctionExecutor(FunctionExecutorConfig{})
	rec := testutil.NewEventRecorder()

	msgs := te.Execute(context.Background(), newTEBatch(reg, core.ToolCallRef{ID: "1", Name: "panic"}), rec.Event)

	if !strings.Contains(msgs[0].Content, "kaboom") {
		t.Fatalf("expected panic converted to error, got %q", msgs[0].Content)
	}

	if rec.Count(core.EventToolCallComplete) != 1 {
		t.Fatalf("expected completion event after panic")
	}
}

func TestFunctionExecutor_ToolTimeout(t *testing.T) {
	reg := tool.NewRegistry(&teMockTool{name: "slow", delay: time.Second, result: "late"})
	te := NewParallelFunctionExecutor(FunctionExecutorConfig{ToolTimeout: 20 * time.Millisecond})

	msgs := te.Execute(context.Background(), newTEBatch(reg, core.ToolCallRef{ID: "1", Name: "slow"}), nil)

	if !strings.Contains(msgs[0].Content, "deadline exceeded") {
		t.Fatalf("expected timeout error got %q", msgs[0].Content)
	}
}

func TestFunctionExecutor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg := tool.NewRegistry(&teMockTool{name: "one", result: "x"})
	te := NewParallelFunctionExecutor(FunctionExecutorConfig{})
	rec := testutil.NewEventRecorder()

	msgs := te.Execute(ctx, newTEBatch(reg, core.ToolCallRef{ID: "1", Name: "one"}), rec.Event)

	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].Content, "Error: ") {
		t.Fatalf("expected cancelled error result, got %+v", msgs)
	}

	if rec.Count(core.EventToolCallComplete) != 1 {
		t.Fatalf("expected one completion event")
	}
}
