// Package flow implements the model-facing stages of a turn: the retrying
// call policy, the concurrent tool executor, the decision loop (Router and
// Intent variants) and the streamed response.
//
// Harnesses never return events; they push them to an Observer as they
// happen so the orchestrator can forward them in natural order.
package flow

import (
	"context"
	"time"

	"github.com/hupe1980/agentturn/core"
)

// Observer receives what a harness produces while it runs. Callbacks may be
// invoked from multiple goroutines and must be safe for concurrent use.
type Observer struct {
	// OnEvent receives every event in emission order per goroutine.
	OnEvent func(core.Event)
	// OnMessage receives every message the harness appended to its context,
	// once the message is final.
	OnMessage func(core.Message)
}

func (o Observer) emit(ev core.Event) {
	if o.OnEvent != nil {
		o.OnEvent(ev)
	}
}

func (o Observer) commit(m core.Message) {
	if o.OnMessage != nil {
		o.OnMessage(m)
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
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
