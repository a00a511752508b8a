// Package bus carries encoded ledger events between producers and the
// feed dispatcher over a bounded in-memory queue.
package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"main/internal/schema"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Event pairs an event header with its encoded payload.
type Event struct {
	Header  schema.EventHeader
	Payload []byte
}

// Queue is bounded and never blocks the publisher; when full, the publish
// fails and the caller decides whether the loss is acceptable.
type Queue struct {
	events chan Event
	closed atomic.Bool
}

// NewQueue allocates a queue holding up to capacity events.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{events: make(chan Event, capacity)}
}

// TryPublish enqueues an event or fails immediately.
func (q *Queue) TryPublish(e Event) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.events <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting events. Consumers still receive
// whatever was queued before the close.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.events)
	}
}

// Run feeds queued events to the handler until the queue closes and
// drains, or the context ends.
func (q *Queue) Run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.events:
			if !ok {
				return
			}
			handler(e)
		}
	}
}
