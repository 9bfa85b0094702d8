package tool

import (
	"github.com/hupe1980/agentturn/core"
)

// RespondToolName is the terminal tool the decision loops stop on.
const RespondToolName = "respond"

// respondTool signals that enough information was gathered to answer.
type respondTool struct{}

// NewRespondTool constructs the terminal respond tool.
func NewRespondTool() Tool { return &respondTool{} }

func (t *respondTool) Name() string { return RespondToolName }

func (t *respondTool) Description() string {
	return "Call when enough information was gathered and the user should now receive the final answer."
}

func (t *respondTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{"type": "string", "description": "Short note on what the answer should cover"},
		},
	}
}

func (t *respondTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	reason, _ := args["reason"].(string)
	tc.LogDebug("tool.respond.requested", "reason", reason)

	return "ok", nil
}
