package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentturn/core"
)

func drain(texts <-chan string, errs <-chan error) ([]string, error) {
	var out []string
	for t := range texts {
		out = append(out, t)
	}

	return out, <-errs
}

func TestMockCaller_ScriptedQueues(t *testing.T) {
	m := NewMockCaller("mock").
		Queue(CallTools, MockResponse{Message: core.NewAssistantMessage("", core.ToolCallRef{Name: "search"})}).
		Queue(CallStream, MockResponse{Fragments: []string{"Hi", " there"}})

	msgs := []core.Message{core.NewUserMessage("Hello")}

	comp, err := m.CompleteWithTools(context.Background(), msgs, CallConfig{}, []ToolDefinition{NewToolDefinition("search", "", nil)})
	require.NoError(t, err)
	require.Len(t, comp.Message.ToolCalls, 1)
	assert.Equal(t, core.RoleAssistant, comp.Message.Role)

	frags, err := drain(m.StreamText(context.Background(), msgs, CallConfig{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", " there"}, frags)

	assert.Equal(t, 1, m.Calls(CallTools))
	assert.Equal(t, 1, m.Calls(CallStream))
	assert.Equal(t, 0, m.Calls(CallComplete))
	assert.Equal(t, []string{"search"}, ToolNames(m.ToolSets()[0]))
}

func TestMockCaller_EchoFallback(t *testing.T) {
	m := NewMockCaller("mock")
	m.AddResponse("ping", "pong")

	comp, err := m.Complete(context.Background(), []core.Message{core.NewUserMessage("ping")}, CallConfig{})
	require.NoError(t, err)
	assert.Equal(t, "pong", comp.Message.Content)

	frags, err := drain(m.StreamText(context.Background(), []core.Message{core.NewUserMessage("x")}, CallConfig{}))
	require.NoError(t, err)
	assert.Len(t, frags, len("Mock response to: x"))
}

func TestMockCaller_StreamErrorAfterFragments(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockCaller("mock").Queue(CallStream, MockResponse{Fragments: []string{"a"}, Err: boom})

	frags, err := drain(m.StreamText(context.Background(), nil, CallConfig{}))
	assert.Equal(t, []string{"a"}, frags)
	assert.ErrorIs(t, err, boom)
}

func TestMockCaller_HangUntilTimeout(t *testing.T) {
	m := NewMockCaller("mock").Queue(CallStream, MockResponse{Fragments: []string{"a"}, Hang: true})

	_, err := drain(m.StreamText(context.Background(), nil, CallConfig{Timeout: 20 * time.Millisecond}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(nil))

	n := EstimateTokens([]core.Message{core.NewUserMessage("hello world")})
	assert.Greater(t, n, perMessageOverhead)

	assert.Equal(t, 0, EstimateTextTokens(""))
	assert.Equal(t, 1, EstimateTextTokens("abc"))
	assert.Equal(t, 2, EstimateTextTokens("abcdefgh"[:5]))
	assert.Equal(t, 2, EstimateTextTokens("Hi there"))
}

func TestAPIError(t *testing.T) {
	base := errors.New("slow down")
	err := fmt.Errorf("call: %w", &APIError{Provider: "openai", StatusCode: 429, Err: base})

	code, ok := StatusCode(err)
	require.True(t, ok)
	assert.Equal(t, 429, code)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "429 Too Many Requests")

	_, ok = StatusCode(base)
	assert.False(t, ok)
}
