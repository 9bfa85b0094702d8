package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentturn/core"
)

// CallKind identifies one of the three Caller operations.
type CallKind string

const (
	// CallComplete is Caller.Complete.
	CallComplete CallKind = "complete"
	// CallStream is Caller.StreamText.
	CallStream CallKind = "stream"
	// CallTools is Caller.CompleteWithTools.
	CallTools CallKind = "tools"
)

// MockResponse scripts one answer of a MockCaller.
type MockResponse struct {
	// Message answers Complete / CompleteWithTools.
	Message core.Message
	Usage   *core.TokenUsage
	// Fragments are streamed by StreamText, in order.
	Fragments []string
	// Err fails the call. For streams it is raised after Fragments.
	Err error
	// Hang blocks a stream after its fragments until ctx is cancelled.
	Hang bool
	// Delay postpones the answer; cancellation during the delay fails the call.
	Delay time.Duration
}

// MockCaller is a lightweight, goroutine-safe scripted Caller for tests &
// examples. Each call kind consumes its own queue; an exhausted queue falls
// back to an echo answer of the last user message.
type MockCaller struct {
	mu        sync.Mutex
	info      Info
	queues    map[CallKind][]MockResponse
	calls     map[CallKind]int
	contexts  map[CallKind][][]core.Message
	tools     [][]ToolDefinition
	responses map[string]string
	listErr   error
}

// NewMockCaller constructs a MockCaller with tool support enabled.
func NewMockCaller(name string) *MockCaller {
	return &MockCaller{
		info:      Info{Name: name, Provider: "mock", SupportsTools: true},
		queues:    map[CallKind][]MockResponse{},
		calls:     map[CallKind]int{},
		contexts:  map[CallKind][][]core.Message{},
		responses: map[string]string{},
	}
}

// Queue appends scripted responses for kind.
func (m *MockCaller) Queue(kind CallKind, rs ...MockResponse) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queues[kind] = append(m.queues[kind], rs...)

	return m
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockCaller) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[prompt] = response
}

// Calls returns how often kind was invoked.
func (m *MockCaller) Calls(kind CallKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls[kind]
}

// Contexts returns the message lists received by kind, in call order.
func (m *MockCaller) Contexts(kind CallKind) [][]core.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]core.Message, len(m.contexts[kind]))
	for i, c := range m.contexts[kind] {
		out[i] = core.CloneMessages(c)
	}

	return out
}

// ToolSets returns the tool definitions bound on each CompleteWithTools call.
func (m *MockCaller) ToolSets() [][]ToolDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([][]ToolDefinition(nil), m.tools...)
}

// Info implements Caller.
func (m *MockCaller) Info() Info { return m.info }

// FailListing makes ListModels return err.
func (m *MockCaller) FailListing(err error) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listErr = err

	return m
}

// ListModels implements Lister with the caller's own Info.
func (m *MockCaller) ListModels(ctx context.Context) ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.listErr != nil {
		return nil, m.listErr
	}

	return []Info{m.info}, nil
}

func (m *MockCaller) next(kind CallKind, msgs []core.Message) (MockResponse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[kind]++
	m.contexts[kind] = append(m.contexts[kind], core.CloneMessages(msgs))

	q := m.queues[kind]
	if len(q) == 0 {
		return MockResponse{Fragments: nil, Message: core.NewAssistantMessage(m.echo(msgs))}, false
	}

	r := q[0]
	m.queues[kind] = q[1:]

	return r, true
}

func (m *MockCaller) echo(msgs []core.Message) string {
	last, _ := core.LastUserMessage(msgs)
	if r := m.responses[last.Content]; r != "" {
		return r
	}

	return fmt.Sprintf("Mock response to: %s", last.Content)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *MockCaller) complete(ctx context.Context, kind CallKind, msgs []core.Message) (*Completion, error) {
	r, _ := m.next(kind, msgs)

	if err := wait(ctx, r.Delay); err != nil {
		return nil, err
	}

	if r.Err != nil {
		return nil, r.Err
	}

	msg := r.Message
	if msg.Role == "" {
		msg.Role = core.RoleAssistant
	}

	if kind == CallComplete {
		msg.ToolCalls = nil
	}

	return &Completion{Message: msg.Clone(), Usage: r.Usage, FinishReason: "stop"}, nil
}

// Complete implements Caller.
func (m *MockCaller) Complete(ctx context.Context, msgs []core.Message, cfg CallConfig) (*Completion, error) {
	ctx, cancel := cfg.WithTimeout(ctx)
	defer cancel()

	return m.complete(ctx, CallComplete, msgs)
}

// CompleteWithTools implements Caller.
func (m *MockCaller) CompleteWithTools(ctx context.Context, msgs []core.Message, cfg CallConfig, tools []ToolDefinition) (*Completion, error) {
	m.mu.Lock()
	m.tools = append(m.tools, append([]ToolDefinition(nil), tools...))
	m.mu.Unlock()

	ctx, cancel := cfg.WithTimeout(ctx)
	defer cancel()

	return m.complete(ctx, CallTools, msgs)
}

// StreamText implements Caller; unscripted calls stream the echo answer rune by rune.
func (m *MockCaller) StreamText(ctx context.Context, msgs []core.Message, cfg CallConfig) (<-chan string, <-chan error) {
	r, scripted := m.next(CallStream, msgs)

	if !scripted {
		for _, ch := range r.Message.Content {
			r.Fragments = append(r.Fragments, string(ch))
		}
	}

	textCh := make(chan string, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(textCh)

		ctx, cancel := cfg.WithTimeout(ctx)
		defer cancel()

		if err := wait(ctx, r.Delay); err != nil {
			errCh <- err
			return
		}

		for _, f := range r.Fragments {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case textCh <- f:
			}
		}

		if r.Hang {
			<-ctx.Done()
			errCh <- ctx.Err()

			return
		}

		if r.Err != nil {
			errCh <- r.Err
		}
	}()

	return textCh, errCh
}
