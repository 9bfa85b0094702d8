package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/logging"
	"github.com/hupe1980/agentturn/model"
)

func TestHooks_RunInRegistrationOrder(t *testing.T) {
	hooks := NewHooks(nil)

	var order []string

	for _, name := range []string{"a", "b", "c"} {
		hooks.Register(NewFunctionHook(HookOnEvent, func(context.Context, *HookContext) error {
			order = append(order, name)
			return nil
		}))
	}

	require.NoError(t, hooks.Fire(context.Background(), HookOnEvent, &HookContext{}))
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 3, hooks.Len(HookOnEvent))
	assert.Equal(t, 0, hooks.Len(HookOnError))
}

func TestHooks_StopAtFirstError(t *testing.T) {
	hooks := NewHooks(nil)
	boom := errors.New("boom")

	called := false

	hooks.Register(
		NewFunctionHook(HookBeforeTurn, func(context.Context, *HookContext) error { return boom }),
		NewFunctionHook(HookBeforeTurn, func(context.Context, *HookContext) error { called = true; return nil }),
	)

	err := hooks.Fire(context.Background(), HookBeforeTurn, &HookContext{})
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestHooks_RecoverPanics(t *testing.T) {
	hooks := NewHooks(nil)
	hooks.Register(NewFunctionHook(HookOnMessage, func(context.Context, *HookContext) error { panic("kaboom") }))

	err := hooks.Fire(context.Background(), HookOnMessage, &HookContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	assert.NotPanics(t, func() {
		hooks.Notify(context.Background(), HookOnMessage, &HookContext{})
	})
}

func TestHooks_NilServiceIsNoOp(t *testing.T) {
	var hooks *Hooks
	assert.NoError(t, hooks.Fire(context.Background(), HookOnEvent, &HookContext{}))
}

func TestEngine_BeforeTurnHookRejectsTurn(t *testing.T) {
	caller := hiThere()
	hooks := NewHooks(nil)
	hooks.Register(NewFunctionHook(HookBeforeTurn, func(_ context.Context, hc *HookContext) error {
		if hc.Input[0].Content == "Hello" {
			return errors.New("blocked")
		}

		return nil
	}))

	e := newTestEngine(t, caller, func(o *Options) { o.Hooks = hooks })

	_, err := e.Run(context.Background(), hello())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
	assert.Equal(t, 0, caller.Calls(model.CallTools))
}

type hookCounter struct {
	mu     sync.Mutex
	counts map[HookType]int
	result *Result
	errors []core.Event
}

func (c *hookCounter) register(hooks *Hooks) {
	c.counts = map[HookType]int{}

	for _, ht := range []HookType{HookBeforeTurn, HookAfterTurn, HookOnEvent, HookOnError, HookOnMessage} {
		hooks.Register(NewFunctionHook(ht, func(_ context.Context, hc *HookContext) error {
			c.mu.Lock()
			defer c.mu.Unlock()

			c.counts[hc.HookType]++

			if hc.Result != nil {
				c.result = hc.Result
			}

			if hc.HookType == HookOnError {
				c.errors = append(c.errors, *hc.Event)
			}

			return nil
		}))
	}
}

func TestEngine_HooksSeeTheWholeTurn(t *testing.T) {
	counter := &hookCounter{}
	hooks := NewHooks(logging.NoOpLogger{})
	counter.register(hooks)
	hooks.Register(NewLoggingHook(HookAfterTurn, nil))

	e := newTestEngine(t, hiThere(), func(o *Options) { o.Hooks = hooks })
	assert.Same(t, hooks, e.Hooks())

	res, _, err := e.RunSync(context.Background(), hello())
	require.NoError(t, err)

	counter.mu.Lock()
	defer counter.mu.Unlock()

	assert.Equal(t, 1, counter.counts[HookBeforeTurn])
	assert.Equal(t, 1, counter.counts[HookAfterTurn])
	assert.Equal(t, 7, counter.counts[HookOnEvent])
	assert.Equal(t, 2, counter.counts[HookOnMessage])
	assert.Equal(t, 0, counter.counts[HookOnError])
	require.NotNil(t, counter.result)
	assert.Equal(t, res.TurnID, counter.result.TurnID)
}

func TestEngine_OnErrorHook(t *testing.T) {
	caller := model.NewMockCaller("mock").
		Queue(model.CallTools, model.MockResponse{Err: &model.APIError{Provider: "mock", StatusCode: 403}})

	counter := &hookCounter{}
	hooks := NewHooks(nil)
	counter.register(hooks)

	e := newTestEngine(t, caller, func(o *Options) { o.Hooks = hooks })

	_, _, err := e.RunSync(context.Background(), hello())
	require.NoError(t, err)

	counter.mu.Lock()
	defer counter.mu.Unlock()

	require.Len(t, counter.errors, 1)
	assert.Equal(t, core.StageDecision, counter.errors[0].Stage)
	assert.Equal(t, "fatal_auth", counter.errors[0].Error.Data["class"])
}
