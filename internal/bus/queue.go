package bus

import (
	"context"

	"github.com/nextlevelbuilder/tgrelay/internal/stats"
)

// DefaultQueueSize is the ingestion buffer used when none is configured.
const DefaultQueueSize = 1000

// Queue is the bounded ingestion buffer between the source transport and the
// worker pool. Offer never blocks: when the buffer is full the message is
// dropped and counted as skipped.
type Queue struct {
	items    chan *Message
	counters *stats.Counters
}

// NewQueue creates a queue holding at most size messages.
func NewQueue(size int, counters *stats.Counters) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if counters == nil {
		counters = &stats.Counters{}
	}
	return &Queue{
		items:    make(chan *Message, size),
		counters: counters,
	}
}

// Offer enqueues msg without blocking. It reports false when msg was dropped.
// A nil message is rejected and not counted.
func (q *Queue) Offer(msg *Message) bool {
	if msg == nil {
		return false
	}
	q.counters.IncReceived()
	select {
	case q.items <- msg:
		return true
	default:
		q.counters.IncSkipped()
		return false
	}
}

// Next blocks until a message is available or ctx is done.
func (q *Queue) Next(ctx context.Context) (*Message, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case msg := <-q.items:
		return msg, true
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int { return len(q.items) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.items) }
