// Package sink forwards turn events to observers outside the client stream,
// such as a watermill message bus.
package sink

import (
	"errors"

	"github.com/hupe1980/agentturn/core"
)

// Sink receives every event of a turn, trace events included.
type Sink interface {
	PublishEvent(ev core.Event) error
}

// Func adapts a function to Sink.
type Func func(ev core.Event) error

// PublishEvent implements Sink.
func (f Func) PublishEvent(ev core.Event) error { return f(ev) }

// Multi fans out to several sinks. All sinks are tried; failures are joined.
type Multi []Sink

// PublishEvent implements Sink.
func (m Multi) PublishEvent(ev core.Event) error {
	var errs []error

	for _, s := range m {
		if s == nil {
			continue
		}

		if err := s.PublishEvent(ev); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Filter returns a Sink forwarding only events of the given types.
func Filter(next Sink, types ...core.EventType) Sink {
	allowed := make(map[core.EventType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}

	return Func(func(ev core.Event) error {
		if _, ok := allowed[ev.Type]; !ok {
			return nil
		}

		return next.PublishEvent(ev)
	})
}
