// Package core provides the foundational domain types shared by every stage
// of a turn:
//
//   - Message and ToolCallRef (immutable conversation entries)
//   - Event (the tagged union streamed to clients and sinks)
//   - Envelope (the versioned wire shape validated on ingress)
//   - ToolContext (read-only auxiliary input for tools)
//   - TurnBudget (round accounting for decision loops)
//
// The package keeps orchestration and persistence out of scope; those live in
// flow, history, engine and session.
package core
