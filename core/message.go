package core

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	// RoleUser marks messages authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by the model.
	RoleAssistant Role = "assistant"
	// RoleSystem marks the system prompt.
	RoleSystem Role = "system"
	// RoleTool marks the result of a tool invocation.
	RoleTool Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	default:
		return false
	}
}

// MessageKind separates conversational messages from internal bookkeeping.
type MessageKind string

const (
	// KindConversation is the zero value used by every regular message.
	KindConversation MessageKind = ""
	// KindTrace marks trace/log artifacts that must never reach a model.
	KindTrace MessageKind = "trace"
)

// FeedbackName is the Name attached to corrective messages sent back to the
// model after a rejected response.
const FeedbackName = "error"

// ToolCallRef is a tool invocation requested by the model.
type ToolCallRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one immutable entry of a conversation. Content holds the text
// form; Data optionally carries structured content.
type Message struct {
	ID         string         `json:"id,omitempty"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Data       map[string]any `json:"data,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCallRef  `json:"tool_calls,omitempty"`
	Kind       MessageKind    `json:"kind,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: time.Now()}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, CreatedAt: time.Now()}
}

// NewAssistantMessage creates an assistant message, optionally carrying tool calls.
func NewAssistantMessage(content string, calls ...ToolCallRef) Message {
	m := Message{Role: RoleAssistant, Content: content, CreatedAt: time.Now()}
	if len(calls) > 0 {
		m.ToolCalls = append([]ToolCallRef(nil), calls...)
	}

	return m
}

// NewToolMessage creates the result message for the tool call callID.
func NewToolMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, Name: name, ToolCallID: callID, CreatedAt: time.Now()}
}

// NewFeedbackMessage creates a user-role correction addressed to the model.
func NewFeedbackMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Name: FeedbackName, CreatedAt: time.Now()}
}

// HasToolCalls reports whether the message requests at least one tool.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// IsTrace reports whether the message is an internal trace artifact.
func (m Message) IsTrace() bool { return m.Kind == KindTrace }

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	c := m
	if m.ToolCalls != nil {
		c.ToolCalls = append([]ToolCallRef(nil), m.ToolCalls...)
	}

	if m.Data != nil {
		c.Data = cloneData(m.Data)
	}

	return c
}

// WithID returns a copy of the message carrying id.
func (m Message) WithID(id string) Message {
	c := m.Clone()
	c.ID = id

	return c
}

// WithToolCalls returns a copy of the message with calls replacing its tool calls.
func (m Message) WithToolCalls(calls []ToolCallRef) Message {
	c := m.Clone()
	c.ToolCalls = append([]ToolCallRef(nil), calls...)

	return c
}

// Validate checks structural constraints of the message.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid message role %q", m.Role)
	}

	if m.Role == RoleTool && m.ToolCallID == "" {
		return fmt.Errorf("tool message requires tool_call_id")
	}

	if m.Role != RoleAssistant && len(m.ToolCalls) > 0 {
		return fmt.Errorf("%s message cannot carry tool calls", m.Role)
	}

	for i, tc := range m.ToolCalls {
		if strings.TrimSpace(tc.Name) == "" {
			return fmt.Errorf("tool call %d has empty name", i)
		}
	}

	return nil
}

// CloneMessages deep copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}

	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}

	return out
}

// LastUserMessage returns the most recent user message in msgs.
func LastUserMessage(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser && msgs[i].Name != FeedbackName {
			return msgs[i], true
		}
	}

	return Message{}, false
}

// CallIDs hands out tool call ids that stay unique across one turn. Ids the
// model supplies are kept unless already taken; missing and repeated ids are
// replaced by call_<n>_<name>, n counting over the whole turn.
type CallIDs struct {
	seen map[string]struct{}
	next int
}

// NewCallIDs returns an allocator that already knows every tool call id
// found in msgs.
func NewCallIDs(msgs ...Message) *CallIDs {
	c := &CallIDs{seen: map[string]struct{}{}}
	c.Reserve(msgs...)

	return c
}

// Reserve marks the tool call ids of msgs as taken.
func (c *CallIDs) Reserve(msgs ...Message) {
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			if tc.ID != "" {
				c.seen[tc.ID] = struct{}{}
			}
		}
	}
}

// Assign returns a copy of calls where every id is set and unused. The
// returned ids are reserved.
func (c *CallIDs) Assign(calls []ToolCallRef) []ToolCallRef {
	if len(calls) == 0 {
		return calls
	}

	out := append([]ToolCallRef(nil), calls...)
	fresh := make([]bool, len(out))

	// Supplied ids are claimed first so synthesized ones cannot steal them.
	for i, tc := range out {
		if _, taken := c.seen[tc.ID]; tc.ID == "" || taken {
			fresh[i] = true
			continue
		}

		c.seen[tc.ID] = struct{}{}
	}

	for i := range out {
		if !fresh[i] {
			continue
		}

		id := SynthesizeToolCallID(c.next, out[i].Name)
		for {
			c.next++

			if _, taken := c.seen[id]; !taken {
				break
			}

			id = SynthesizeToolCallID(c.next, out[i].Name)
		}

		c.seen[id] = struct{}{}
		out[i].ID = id
	}

	return out
}

// EnsureToolCallIDs makes the ids of one message unique. Use CallIDs to keep
// them unique across several messages.
func EnsureToolCallIDs(calls []ToolCallRef) []ToolCallRef {
	return NewCallIDs().Assign(calls)
}

// SynthesizeToolCallID formats the fallback id for the n-th call of a turn.
func SynthesizeToolCallID(n int, name string) string {
	return fmt.Sprintf("call_%d_%s", n, name)
}
