package testutil

import (
	"sync"

	"github.com/hupe1980/agentturn/core"
)

// EventRecorder collects events and messages pushed by harnesses. It is safe
// for concurrent use.
//
//	rec := NewEventRecorder()
//	harness.Run(ctx, req, flow.Observer{OnEvent: rec.Event, OnMessage: rec.Message})
type EventRecorder struct {
	mu       sync.Mutex
	events   []core.Event
	messages []core.Message
}

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder { return &EventRecorder{} }

// Event records ev.
func (r *EventRecorder) Event(ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

// Message records m.
func (r *EventRecorder) Message(m core.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, m)
}

// Events returns a copy of all recorded events.
func (r *EventRecorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]core.Event(nil), r.events...)
}

// Messages returns a copy of all recorded messages.
func (r *EventRecorder) Messages() []core.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]core.Message(nil), r.messages...)
}

// Types returns the recorded event types in order.
func (r *EventRecorder) Types() []core.EventType {
	return Types(r.Events())
}

// OfType returns the recorded events of type t.
func (r *EventRecorder) OfType(t core.EventType) []core.Event {
	return OfType(r.Events(), t)
}

// Count returns how many recorded events have type t.
func (r *EventRecorder) Count(t core.EventType) int {
	return len(r.OfType(t))
}

// Types returns the types of evs in order.
func Types(evs []core.Event) []core.EventType {
	out := make([]core.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}

	return out
}

// OfType filters evs by type.
func OfType(evs []core.Event, t core.EventType) []core.Event {
	var out []core.Event

	for _, ev := range evs {
		if ev.Type == t {
			out = append(out, ev)
		}
	}

	return out
}

// DeltaText concatenates the text of all delta events.
func DeltaText(evs []core.Event) string {
	var s string

	for _, ev := range OfType(evs, core.EventDelta) {
		s += ev.Delta.Text
	}

	return s
}

// Drain reads events until ch is closed.
func Drain(ch <-chan core.Event) []core.Event {
	var out []core.Event
	for ev := range ch {
		out = append(out, ev)
	}

	return out
}
