package core

import (
	"context"

	"github.com/hupe1980/agentturn/logging"
)

// ToolContext is the read-only auxiliary input handed to a tool invocation:
// the call identity, the conversation it belongs to and a snapshot of the
// context accumulated by the decision loop so far.
type ToolContext struct {
	ctx            context.Context
	conversationID string
	callID         string
	toolName       string
	messages       []Message
	logger         logging.Logger
}

// NewToolContext constructs a tool context for one tool call. messages is
// copied so tools cannot alter the caller's context.
func NewToolContext(ctx context.Context, conversationID string, call ToolCallRef, messages []Message, logger logging.Logger) *ToolContext {
	if ctx == nil {
		ctx = context.Background()
	}

	return &ToolContext{
		ctx:            ctx,
		conversationID: conversationID,
		callID:         call.ID,
		toolName:       call.Name,
		messages:       CloneMessages(messages),
		logger:         logging.OrNoOp(logger),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// ConversationID returns the conversation the call belongs to.
func (tc *ToolContext) ConversationID() string { return tc.conversationID }

// CallID returns the tool call id assigned by the model (or synthesized).
func (tc *ToolContext) CallID() string { return tc.callID }

// ToolName returns the name the tool was invoked under.
func (tc *ToolContext) ToolName() string { return tc.toolName }

// Logger returns the plain logger, without call attributes.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// Messages returns a copy of the accumulated context.
func (tc *ToolContext) Messages() []Message { return CloneMessages(tc.messages) }

// LastUserMessage returns the most recent user message of the context.
func (tc *ToolContext) LastUserMessage() (Message, bool) {
	return LastUserMessage(tc.messages)
}

// The Log* helpers prefix every entry with tool, call_id and conversation_id.

func (tc *ToolContext) LogDebug(msg string, args ...any) { tc.logger.Debug(msg, tc.callArgs(args)...) }

func (tc *ToolContext) LogInfo(msg string, args ...any) { tc.logger.Info(msg, tc.callArgs(args)...) }

func (tc *ToolContext) LogWarn(msg string, args ...any) { tc.logger.Warn(msg, tc.callArgs(args)...) }

func (tc *ToolContext) LogError(msg string, args ...any) { tc.logger.Error(msg, tc.callArgs(args)...) }

func (tc *ToolContext) callArgs(args []any) []any {
	out := make([]any, 0, len(args)+6)
	out = append(out, "tool", tc.toolName, "call_id", tc.callID)

	if tc.conversationID != "" {
		out = append(out, "conversation_id", tc.conversationID)
	}

	return append(out, args...)
}
