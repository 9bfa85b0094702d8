package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentturn/core"
	"github.com/hupe1980/agentturn/model"
)

func TestBuildMessages_FoldsToolResults(t *testing.T) {
	msgs := buildMessages([]core.Message{
		core.NewSystemMessage("sys"),
		core.NewUserMessage("weather in Paris and Rome?"),
		core.NewAssistantMessage("", core.ToolCallRef{ID: "a", Name: "weather", Arguments: `{"city":"Paris"}`}, core.ToolCallRef{ID: "b", Name: "weather", Arguments: `{"city":"Rome"}`}),
		core.NewToolMessage("a", "weather", "sunny"),
		core.NewToolMessage("b", "weather", "rainy"),
	})

	// system is extracted; two tool results share one user message
	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	assert.Len(t, msgs[1].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	assert.Len(t, msgs[2].Content, 2)
}

func TestSystemBlocks(t *testing.T) {
	blocks := systemBlocks([]core.Message{core.NewSystemMessage("a"), core.NewUserMessage("b")})
	require.Len(t, blocks, 1)
	assert.Equal(t, "a", blocks[0].Text)
}

func TestBuildTools(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{model.NewToolDefinition("search", "web search", map[string]any{
		"type":       "object",
		"properties": map[string]any{"q": map[string]any{"type": "string"}},
		"required":   []any{"q"},
	})})

	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "search", tools[0].OfTool.Name)
	assert.Equal(t, []string{"q"}, tools[0].OfTool.InputSchema.Required)
}

func TestCaller_CompleteWithTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude",
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "weather", "input": {"city": "Paris"}}
			],
			"usage": {"input_tokens": 10, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	client := anthropic.NewClient(option.WithAPIKey("test"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	c := NewCallerFromClient(&client)

	comp, err := c.CompleteWithTools(context.Background(), []core.Message{core.NewUserMessage("weather?")}, model.CallConfig{},
		[]model.ToolDefinition{model.NewToolDefinition("weather", "", map[string]any{"type": "object"})})
	require.NoError(t, err)

	assert.Equal(t, "Let me check.", comp.Message.Content)
	require.Len(t, comp.Message.ToolCalls, 1)
	assert.Equal(t, "toolu_1", comp.Message.ToolCalls[0].ID)
	assert.JSONEq(t, `{"city":"Paris"}`, comp.Message.ToolCalls[0].Arguments)
	assert.Equal(t, 14, comp.Usage.TotalTokens)
	assert.Equal(t, "tool_use", comp.FinishReason)
}

func TestCaller_AuthErrorIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	client := anthropic.NewClient(option.WithAPIKey("bad"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	c := NewCallerFromClient(&client)

	_, err := c.Complete(context.Background(), []core.Message{core.NewUserMessage("hi")}, model.CallConfig{})
	code, ok := model.StatusCode(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCaller_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [{"id": "claude-3-5-sonnet-20241022", "type": "model", "display_name": "Claude 3.5 Sonnet", "created_at": "2024-10-22T00:00:00Z"}],
			"has_more": false,
			"first_id": "claude-3-5-sonnet-20241022",
			"last_id": "claude-3-5-sonnet-20241022"
		}`))
	}))
	defer srv.Close()

	client := anthropic.NewClient(option.WithAPIKey("test"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	c := NewCallerFromClient(&client)

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []model.Info{{Name: "claude-3-5-sonnet-20241022", Provider: "anthropic", SupportsTools: true}}, models)
}
