package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/internal/testutil"
	"github.com/hupe1980/agentturn/model"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func newTestAssembler(p Provider, optFns ...func(o *Options)) *Assembler {
	return NewAssembler(p, append([]func(o *Options){func(o *Options) {
		o.Instruction = NewInstructionFromText("You are helpful.")
		o.Location = time.UTC
		o.Now = func() time.Time { return fixedNow }
	}}, optFns...)...)
}

func staticProvider(msgs []core.Message) Provider {
	return ProviderFunc(func(_ context.Context, _ string, limit int) ([]core.Message, error) {
		if len(msgs) > limit {
			return msgs[len(msgs)-limit:], nil
		}

		return msgs, nil
	})
}

func TestAssemble_SystemMessageFirst(t *testing.T) {
	tools := []model.ToolDefinition{model.NewToolDefinition("weather", "Get the weather", map[string]any{"type": "object"})}

	ctxMsgs, err := newTestAssembler(nil).Assemble(context.Background(), Request{
		ConversationID: "c1",
		Input:          []core.Message{core.NewUserMessage("Hello")},
		Tools:          tools,
	})
	require.NoError(t, err)

	require.Len(t, ctxMsgs, 2)
	sys := ctxMsgs[0]
	assert.Equal(t, core.RoleSystem, sys.Role)
	assert.Contains(t, sys.Content, "You are helpful.")
	assert.Contains(t, sys.Content, "2024-03-01 12:30:00 UTC")
	assert.Contains(t, sys.Content, "- weather: Get the weather")
	assert.Contains(t, sys.Content, `{"type":"object"}`)
	assert.Equal(t, "Hello", ctxMsgs[1].Content)
}

func TestAssemble_HistoryAndInputSystemMessages(t *testing.T) {
	past := testutil.NewConversationBuilder().System("old system").User("hi").Assistant("hello").Build()

	ctxMsgs, err := newTestAssembler(staticProvider(past)).Assemble(context.Background(), Request{
		ConversationID: "c1",
		Input:          []core.Message{core.NewSystemMessage("Answer in French."), core.NewUserMessage("again")},
	})
	require.NoError(t, err)

	require.Len(t, ctxMsgs, 4)

	systems := 0
	for _, m := range ctxMsgs {
		if m.Role == core.RoleSystem {
			systems++
		}
	}

	assert.Equal(t, 1, systems)
	assert.Contains(t, ctxMsgs[0].Content, "Answer in French.")
	assert.NotContains(t, ctxMsgs[0].Content, "old system")
	assert.Equal(t, []string{"hi", "hello", "again"}, []string{ctxMsgs[1].Content, ctxMsgs[2].Content, ctxMsgs[3].Content})
}

func TestAssemble_ProviderFailureMeansEmptyHistory(t *testing.T) {
	failing := ProviderFunc(func(context.Context, string, int) ([]core.Message, error) {
		return nil, errors.New("store down")
	})

	ctxMsgs, err := newTestAssembler(failing).Assemble(context.Background(), Request{
		ConversationID: "c1",
		Input:          []core.Message{core.NewUserMessage("Hello")},
	})
	require.NoError(t, err)
	assert.Len(t, ctxMsgs, 2)
}

func TestAssemble_LimitAndTraceStripping(t *testing.T) {
	b := testutil.NewConversationBuilder()
	for i := 0; i < 30; i++ {
		b.User("u")
	}

	trace := core.NewAssistantMessage("llm_call")
	trace.Kind = core.KindTrace
	past := b.Message(trace).Build()

	var gotLimit int

	p := ProviderFunc(func(_ context.Context, _ string, limit int) ([]core.Message, error) {
		gotLimit = limit
		return past, nil
	})

	ctxMsgs, err := newTestAssembler(p, func(o *Options) { o.Limit = 5 }).Assemble(context.Background(), Request{ConversationID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, 5, gotLimit)
	// Five most recent, of which one is trace.
	assert.Len(t, ctxMsgs, 1+4)

	for _, m := range ctxMsgs {
		assert.False(t, m.IsTrace())
	}
}

func TestAssemble_DeduplicatesResentInput(t *testing.T) {
	hello := core.NewUserMessage("Hello").WithID("m-hello")
	past := []core.Message{hello, core.NewAssistantMessage("Hi").WithID("m-hi")}

	ctxMsgs, err := newTestAssembler(staticProvider(past)).Assemble(context.Background(), Request{
		ConversationID: "c1",
		Input:          []core.Message{hello, core.NewUserMessage("How are you?")},
	})
	require.NoError(t, err)

	require.Len(t, ctxMsgs, 4)
	assert.Equal(t, "m-hello", ctxMsgs[1].ID)
	assert.Equal(t, "m-hi", ctxMsgs[2].ID)
	assert.Equal(t, "How are you?", ctxMsgs[3].Content)
}

func TestAssemble_WindowCutBetweenCallAndResult(t *testing.T) {
	call := core.NewAssistantMessage("", core.ToolCallRef{ID: "c1", Name: "echo"}).WithID("m1")
	past := []core.Message{
		core.NewUserMessage("q").WithID("m0"),
		call,
		core.NewToolMessage("c1", "echo", "r").WithID("m2"),
		core.NewAssistantMessage("answer").WithID("m3"),
	}

	ctxMsgs, err := newTestAssembler(staticProvider(past), func(o *Options) { o.Limit = 2 }).Assemble(context.Background(), Request{
		ConversationID: "c1",
		Input:          []core.Message{core.NewUserMessage("more")},
	})
	require.NoError(t, err)

	require.Len(t, ctxMsgs, 3)
	assert.Equal(t, core.RoleAssistant, ctxMsgs[1].Role)
	assert.Equal(t, "answer", ctxMsgs[1].Content)
	assert.Equal(t, "more", ctxMsgs[2].Content)
}

func TestPrepare_SplitsNewInput(t *testing.T) {
	past := []core.Message{core.NewUserMessage("Hello").WithID("1"), core.NewAssistantMessage("Hi there").WithID("2")}

	w := newTestAssembler(staticProvider(past)).Prepare(context.Background(), "c1", []core.Message{
		core.NewSystemMessage("Be brief."),
		core.NewUserMessage("Hello"),
		core.NewAssistantMessage("Hi there"),
		core.NewUserMessage("And now?"),
	})

	assert.Len(t, w.History, 2)
	require.Len(t, w.Input, 1)
	assert.Equal(t, "And now?", w.Input[0].Content)
	assert.Empty(t, w.Input[0].ID)
	assert.Equal(t, []string{"Be brief."}, w.Extra)
}

func TestSystemMessage_LocalZoneIsNamed(t *testing.T) {
	a := newTestAssembler(nil, func(o *Options) { o.Location = time.Local })

	sys, err := a.SystemMessage(context.Background(), Prompt{})
	require.NoError(t, err)

	assert.NotContains(t, sys.Content, "(Local)")
	assert.Contains(t, sys.Content, fixedNow.In(time.Local).Format("-07:00"))

	named := newTestAssembler(nil, func(o *Options) { o.Location = time.FixedZone("CEST", 2*3600) })
	sys, err = named.SystemMessage(context.Background(), Prompt{})
	require.NoError(t, err)
	assert.Contains(t, sys.Content, "(CEST)")
}

func TestAssemble_IsDeterministic(t *testing.T) {
	past := testutil.NewConversationBuilder().IDs(false).User("a").Assistant("b").Build()
	a := newTestAssembler(staticProvider(past))
	req := Request{ConversationID: "c1", Input: []core.Message{core.NewUserMessage("c")}}

	first, err := a.Assemble(context.Background(), req)
	require.NoError(t, err)

	second, err := a.Assemble(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first[0].Content, second[0].Content)
	assert.Equal(t, first[1:], second[1:])
	assert.Equal(t, first[1:], Dedupe(first[1:]))
}

func TestInstruction_Provider(t *testing.T) {
	instr := NewInstructionFromFunc(func(_ context.Context, conv string) (string, error) {
		return "instruction for " + conv, nil
	})
	assert.False(t, instr.IsStatic())

	sys, err := newTestAssembler(nil, func(o *Options) { o.Instruction = instr }).SystemMessage(context.Background(), Prompt{ConversationID: "c9"})
	require.NoError(t, err)
	assert.Contains(t, sys.Content, "instruction for c9")

	failing := NewInstructionFromFunc(func(context.Context, string) (string, error) { return "", errors.New("nope") })
	_, err = newTestAssembler(nil, func(o *Options) { o.Instruction = failing }).SystemMessage(context.Background(), Prompt{})
	require.Error(t, err)
}
