package core

import (
	"time"

	"github.com/google/uuid"
	clone "github.com/huandu/go-clone"
)

// EventType discriminates the payload carried by an Event.
type EventType string

const (
	// EventLLMCall is emitted right before a model call.
	EventLLMCall EventType = "llm_call"
	// EventLLMCallComplete is emitted once a model call produced its result.
	EventLLMCallComplete EventType = "llm_call_complete"
	// EventToolCall is emitted before a tool starts executing.
	EventToolCall EventType = "tool_call"
	// EventToolCallComplete is emitted when a tool finished, successfully or not.
	EventToolCallComplete EventType = "tool_call_complete"
	// EventDelta carries a streamed text fragment of the response.
	EventDelta EventType = "delta"
	// EventContextUpdate carries the decision context after tool results were appended.
	EventContextUpdate EventType = "context_update"
	// EventError reports a failure.
	EventError EventType = "error"
)

// Stage names the harness that produced an event.
type Stage string

const (
	// StageAssembly marks events raised while assembling context.
	StageAssembly Stage = "assembly"
	// StageDecision marks events of the decision loop.
	StageDecision Stage = "decision"
	// StageResponse marks events of the streamed response.
	StageResponse Stage = "response"
)

// FinishReasonStop terminates every response stream.
const FinishReasonStop = "stop"

// TokenUsage reports token accounting of a model call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add sums two usages.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// LLMCallData is the payload of EventLLMCall.
type LLMCallData struct {
	Model         string    `json:"model"`
	Context       []Message `json:"context"`
	Tools         []string  `json:"tools,omitempty"`
	TokenEstimate int       `json:"token_estimate"`
}

// LLMCallCompleteData is the payload of EventLLMCallComplete.
type LLMCallCompleteData struct {
	Context []Message     `json:"context"`
	Result  Message       `json:"result"`
	Usage   *TokenUsage   `json:"usage,omitempty"`
	Latency time.Duration `json:"latency"`
}

// ToolCallData is the payload of EventToolCall.
type ToolCallData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallCompleteData is the payload of EventToolCallComplete.
type ToolCallCompleteData struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Arguments string        `json:"arguments"`
	Result    string        `json:"result"`
	Latency   time.Duration `json:"latency"`
}

// DeltaData is the payload of EventDelta. An empty Text with FinishReason
// "stop" terminates the stream.
type DeltaData struct {
	MessageID    string `json:"message_id"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ContextUpdateData is the payload of EventContextUpdate.
type ContextUpdateData struct {
	Context []Message `json:"context"`
}

// ErrorData is the payload of EventError.
type ErrorData struct {
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Event is a tagged union describing progress of a turn. Exactly one payload
// pointer matching Type is set. Events are immutable once emitted; every
// constructor deep copies the snapshots it receives.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Stage     Stage     `json:"stage,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	LLMCall          *LLMCallData          `json:"llm_call,omitempty"`
	LLMCallComplete  *LLMCallCompleteData  `json:"llm_call_complete,omitempty"`
	ToolCall         *ToolCallData         `json:"tool_call,omitempty"`
	ToolCallComplete *ToolCallCompleteData `json:"tool_call_complete,omitempty"`
	Delta            *DeltaData            `json:"delta,omitempty"`
	ContextUpdate    *ContextUpdateData    `json:"context_update,omitempty"`
	Error            *ErrorData            `json:"error,omitempty"`
}

func newEvent(t EventType, stage Stage) Event {
	return Event{ID: NewID(), Type: t, Stage: stage, Timestamp: time.Now().UTC()}
}

// NewLLMCallEvent snapshots the context about to be sent to a model.
func NewLLMCallEvent(stage Stage, model string, ctx []Message, tools []string, estimate int) Event {
	e := newEvent(EventLLMCall, stage)
	e.LLMCall = &LLMCallData{
		Model:         model,
		Context:       CloneMessages(ctx),
		Tools:         append([]string(nil), tools...),
		TokenEstimate: estimate,
	}

	return e
}

// NewLLMCallCompleteEvent records the result of a model call.
func NewLLMCallCompleteEvent(stage Stage, ctx []Message, result Message, usage *TokenUsage, latency time.Duration) Event {
	e := newEvent(EventLLMCallComplete, stage)
	data := &LLMCallCompleteData{Context: CloneMessages(ctx), Result: result.Clone(), Latency: latency}

	if usage != nil {
		u := *usage
		data.Usage = &u
	}

	e.LLMCallComplete = data

	return e
}

// NewToolCallEvent announces a tool invocation.
func NewToolCallEvent(stage Stage, call ToolCallRef) Event {
	e := newEvent(EventToolCall, stage)
	e.ToolCall = &ToolCallData{ID: call.ID, Name: call.Name, Arguments: call.Arguments}

	return e
}

// NewToolCallCompleteEvent reports a finished tool invocation.
func NewToolCallCompleteEvent(stage Stage, call ToolCallRef, result string, latency time.Duration) Event {
	e := newEvent(EventToolCallComplete, stage)
	e.ToolCallComplete = &ToolCallCompleteData{
		ID:        call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
		Result:    result,
		Latency:   latency,
	}

	return e
}

// NewDeltaEvent carries one streamed fragment.
func NewDeltaEvent(stage Stage, messageID, text string) Event {
	e := newEvent(EventDelta, stage)
	e.Delta = &DeltaData{MessageID: messageID, Text: text}

	return e
}

// NewFinalDeltaEvent terminates a response stream.
func NewFinalDeltaEvent(stage Stage, messageID string) Event {
	e := newEvent(EventDelta, stage)
	e.Delta = &DeltaData{MessageID: messageID, FinishReason: FinishReasonStop}

	return e
}

// NewContextUpdateEvent snapshots the accumulated decision context.
func NewContextUpdateEvent(stage Stage, ctx []Message) Event {
	e := newEvent(EventContextUpdate, stage)
	e.ContextUpdate = &ContextUpdateData{Context: CloneMessages(ctx)}

	return e
}

// NewErrorEvent reports a failure with optional structured data.
func NewErrorEvent(stage Stage, msg string, data map[string]any) Event {
	e := newEvent(EventError, stage)
	e.Error = &ErrorData{Message: msg, Data: cloneData(data)}

	return e
}

// IsTrace reports whether the event is trace-only diagnostics that clients
// receive only when they asked for it.
func (e Event) IsTrace() bool {
	switch e.Type {
	case EventLLMCall, EventLLMCallComplete, EventToolCall, EventToolCallComplete, EventContextUpdate:
		return true
	default:
		return false
	}
}

// IsFinalDelta reports whether the event terminates a response stream.
func (e Event) IsFinalDelta() bool {
	return e.Type == EventDelta && e.Delta != nil && e.Delta.FinishReason == FinishReasonStop
}

// NewID generates a new unique identifier.
func NewID() string { return uuid.NewString() }

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}

	return clone.Clone(data).(map[string]any)
}
