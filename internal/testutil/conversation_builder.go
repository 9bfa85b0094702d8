package testutil

import (
	"fmt"

	"github.com/hupe1980/agentturn/core"
)

// ConversationBuilder helps construct message histories with fluent chaining.
// Example:
//
//	msgs := NewConversationBuilder().System("be nice").User("hi").Assistant("hello").Build()
//
// Every message gets a deterministic id (m1, m2, ...) unless IDs(false) is set.
type ConversationBuilder struct {
	msgs  []core.Message
	ids   bool
	calls int
}

// NewConversationBuilder creates an empty builder assigning ids.
func NewConversationBuilder() *ConversationBuilder { return &ConversationBuilder{ids: true} }

// IDs toggles deterministic id assignment (chainable).
func (b *ConversationBuilder) IDs(on bool) *ConversationBuilder { b.ids = on; return b }

// System appends a system message (chainable).
func (b *ConversationBuilder) System(content string) *ConversationBuilder {
	return b.add(core.NewSystemMessage(content))
}

// User appends a user message (chainable).
func (b *ConversationBuilder) User(content string) *ConversationBuilder {
	return b.add(core.NewUserMessage(content))
}

// Assistant appends an assistant message without tool calls (chainable).
func (b *ConversationBuilder) Assistant(content string) *ConversationBuilder {
	return b.add(core.NewAssistantMessage(content))
}

// ToolRound appends an assistant message calling name with args followed by
// the matching tool result (chainable).
func (b *ConversationBuilder) ToolRound(name, args, result string) *ConversationBuilder {
	b.calls++
	id := fmt.Sprintf("call_%d", b.calls)

	b.add(core.NewAssistantMessage("", core.ToolCallRef{ID: id, Name: name, Arguments: args}))

	return b.add(core.NewToolMessage(id, name, result))
}

// Message appends m unchanged (chainable).
func (b *ConversationBuilder) Message(m core.Message) *ConversationBuilder {
	b.msgs = append(b.msgs, m)
	return b
}

func (b *ConversationBuilder) add(m core.Message) *ConversationBuilder {
	if b.ids {
		m.ID = fmt.Sprintf("m%d", len(b.msgs)+1)
	}

	b.msgs = append(b.msgs, m)

	return b
}

// Build returns a copy of the built messages.
func (b *ConversationBuilder) Build() []core.Message {
	return core.CloneMessages(b.msgs)
}
