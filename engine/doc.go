// Package engine implements the turn orchestrator of agentturn.
//
// An Engine composes three stages into one turn:
//
//	input ──► history.Assembler ──► flow.DecisionHarness ──► flow.ResponseHarness ──► final message
//	              │                        │                          │
//	              └──────── recorder queue (input, tool rounds, final answer) ◄───┘
//
// The decision stage runs a bounded, tool-enabled model loop (Router or
// Intent variant). The response stage always runs afterwards, also when the
// decision stage failed, and streams the answer as delta events.
//
// # Events
//
// Events are forwarded in natural order: every decision event precedes every
// response event. Unless TurnInput.Trace is set, trace events (llm_call,
// llm_call_complete, tool_call, tool_call_complete, context_update) are
// dropped from the client stream; delta and error events always pass. Sinks
// and hooks receive every event regardless of the trace setting.
//
// Turn.Events is backed by an unbounded queue, so a slow or absent reader
// never stalls the turn. Turn.Wait resolves once both stages finished and
// every produced message was handed to the Recorder.
//
// # Usage
//
//	decision, _ := flow.NewRouterHarness(caller, registry)
//	eng := engine.New(decision, flow.NewResponseHarness(caller),
//	    func(o *engine.Options) { o.Store = store })
//
//	turn, err := eng.Run(ctx, engine.TurnInput{Messages: []core.Message{core.NewUserMessage("Hello")}})
//	if err != nil {
//	    return err
//	}
//
//	for ev := range turn.Events() {
//	    if ev.Type == core.EventDelta && ev.Delta != nil {
//	        fmt.Print(ev.Delta.Text)
//	    }
//	}
//
//	res, err := turn.Wait(ctx)
//
// # Hooks
//
// Hooks is an explicitly constructed service passed through Options. Hook
// types are before_turn, after_turn, on_event, on_error and on_message. A
// failing before_turn hook rejects the turn; failures and panics of all
// other hooks are logged.
package engine
