package engine

import "sync"

// fifo is an unbounded queue drained into a channel by one forwarder
// goroutine. Producers never block; the channel closes once the queue was
// closed and drained, or immediately after release.
type fifo[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	notify   chan struct{}
	out      chan T
	stop     chan struct{}
	stopOnce sync.Once
}

func newFIFO[T any]() *fifo[T] {
	q := &fifo[T]{
		notify: make(chan struct{}, 1),
		out:    make(chan T),
		stop:   make(chan struct{}),
	}

	go q.forward()

	return q
}

// Out returns the receiving end of the queue.
func (q *fifo[T]) Out() <-chan T { return q.out }

// push enqueues v. It is a no-op after close or release.
func (q *fifo[T]) push(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}

	q.items = append(q.items, v)
	q.mu.Unlock()

	q.signal()
}

// close lets the forwarder drain what is queued and then close Out.
func (q *fifo[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

// release discards queued items and closes Out without draining.
func (q *fifo[T]) release() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	q.stopOnce.Do(func() { close(q.stop) })
}

func (q *fifo[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *fifo[T]) forward() {
	defer close(q.out)

	for {
		q.mu.Lock()

		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()

			if closed {
				return
			}

			select {
			case <-q.notify:
				continue
			case <-q.stop:
				return
			}
		}

		var zero T

		v := q.items[0]
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- v:
		case <-q.stop:
			return
		}
	}
}
