// Package queue implements the bounded publish queue that sits between the
// many local producers and the single uplink.
//
// Enqueue never blocks. When the queue is full the message is dropped and the
// caller receives ErrFull; producers are periodic samplers for which losing a
// sample is acceptable, so no backpressure reaches them.
package queue

import (
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/meshlink/internal/message"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 10

// ErrFull is returned by Enqueue when the queue has no room.
var ErrFull = fmt.Errorf("queue: full, message dropped: %w", message.ErrCapacity)

// Queue is a bounded multi-producer, single-consumer FIFO of messages.
// Safe for concurrent use.
type Queue struct {
	ch       chan message.Message
	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a queue holding at most capacity messages.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan message.Message, capacity)}
}

// Enqueue appends msg, or drops it and returns ErrFull.
func (q *Queue) Enqueue(msg message.Message) error {
	select {
	case q.ch <- msg:
		q.enqueued.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		return ErrFull
	}
}

// TryDequeue pops the oldest message without waiting.
func (q *Queue) TryDequeue() (message.Message, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	default:
		return message.Message{}, false
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Enqueued returns the number of messages accepted since creation.
func (q *Queue) Enqueued() uint64 { return q.enqueued.Load() }

// Dropped returns the number of messages rejected since creation.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
