package chat

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of events consumed by a single dispatcher.
// Publish never blocks, so adapters may publish from inside a send call that
// is itself running on the dispatcher goroutine.
type Queue struct {
	mu      sync.Mutex
	pending []Event
	notify  chan struct{}
	closed  bool
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Publish appends ev. Events published after Close are dropped.
func (q *Queue) Publish(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len reports the number of events waiting to be dispatched.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting events. Run returns once the backlog is drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Run dispatches events one at a time, in publish order, until ctx is done or
// the queue is closed and empty. handle runs to completion before the next
// event is taken.
func (q *Queue) Run(ctx context.Context, handle func(context.Context, Event)) error {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			ev := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()

			handle(ctx, ev)
			continue
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.notify:
		}
	}
}
