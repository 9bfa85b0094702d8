package agentturn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/engine"
	"github.com/hupe1980/agentturn/flow"
	"github.com/hupe1980/agentturn/model"
	"github.com/hupe1980/agentturn/tool"
)

func TestNew_RequiresCaller(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoCaller)
}

func TestNew_UnknownVariant(t *testing.T) {
	_, err := New(model.NewMockCaller("mock"), func(o *Options) { o.Variant = "planner" })
	assert.Error(t, err)
}

func TestAsk_Router(t *testing.T) {
	caller := model.NewMockCaller("mock").
		Queue(model.CallTools, model.MockResponse{Message: core.NewAssistantMessage("")}).
		Queue(model.CallStream, model.MockResponse{Fragments: []string{"Hi", " there"}})

	at, err := New(caller)
	require.NoError(t, err)

	answer, err := at.Ask(context.Background(), "", "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", answer)
}

func TestRunSync_IntentWithTools(t *testing.T) {
	lookup := tool.NewFunctionTool("lookup", "Look up a fact", nil, func(*core.ToolContext, map[string]any) (any, error) {
		return "42", nil
	})

	caller := model.NewMockCaller("mock").
		Queue(model.CallTools,
			model.MockResponse{Message: core.NewAssistantMessage("", core.ToolCallRef{Name: "lookup", Arguments: `{}`})},
			model.MockResponse{Message: core.NewAssistantMessage("", core.ToolCallRef{Name: tool.RespondToolName, Arguments: `{"reason":"have the fact"}`})},
		).
		Queue(model.CallStream, model.MockResponse{Fragments: []string{"It is 42."}})

	at, err := New(caller, func(o *Options) {
		o.Variant = Intent
		o.Tools = []tool.Tool{lookup}
	})
	require.NoError(t, err)

	res, _, err := at.RunSync(context.Background(), engineInput("What is the answer?"))
	require.NoError(t, err)

	assert.Equal(t, flow.ExitTerminalTool, res.DecisionExit)
	assert.Equal(t, "It is 42.", res.FinalMessages[0].Content)

	stored, err := at.Store().GetMessages(context.Background(), res.ConversationID, 0)
	require.NoError(t, err)
	// user, lookup call, lookup result, respond call, respond result, answer
	assert.Len(t, stored, 6)
}

func engineInput(text string) engine.TurnInput {
	return engine.TurnInput{Messages: []core.Message{core.NewUserMessage(text)}}
}
