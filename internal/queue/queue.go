// Package queue turns a streamed page dump into discrete jobs and holds
// them in a bounded queue shared by every dispatch session.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Push once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// DefaultCapacity is the number of undispatched jobs held before the
// builder blocks.
const DefaultCapacity = 64

// Job is one page of the source corpus.
type Job struct {
	RawMarkup string // Page markup from the opening through the closing line
	ID        uint32 // Unique, strictly increasing within the process
}

// Stats tracks queue throughput
type Stats struct {
	Pushed   uint64 // Jobs published by the builder
	Popped   uint64 // Jobs handed to sessions
	Bytes    uint64 // Markup bytes published
	Depth    int    // Jobs currently waiting
	Capacity int    // Maximum jobs waiting
	Closed   bool   // No further jobs will be published
}

// Queue is a bounded multi-consumer job queue. Push blocks while the queue
// is full and Pop blocks while it is empty and still open. The buffered
// channel underneath is safe for concurrent receivers, so no lock is held
// across either wait.
type Queue struct {
	items     chan Job
	closeOnce sync.Once
	closed    atomic.Bool
	pushed    atomic.Uint64
	popped    atomic.Uint64
	bytes     atomic.Uint64
}

// New creates a queue holding at most capacity jobs. Non-positive
// capacities fall back to DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{items: make(chan Job, capacity)}
}

// Push publishes a job, blocking until there is room or ctx is done.
// Only the single producer may call Push, and never after Close.
func (q *Queue) Push(ctx context.Context, job Job) error {
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case q.items <- job:
		q.pushed.Add(1)
		q.bytes.Add(uint64(len(job.RawMarkup)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes the next job, blocking until one is available. ok is false
// once the queue is closed and drained; that state is permanent.
func (q *Queue) Pop(ctx context.Context) (job Job, ok bool, err error) {
	select {
	case job, ok = <-q.items:
		if ok {
			q.popped.Add(1)
		}
		return job, ok, nil
	case <-ctx.Done():
		return Job{}, false, ctx.Err()
	}
}

// Close marks the end of input. Jobs already queued remain available.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.items)
	})
}

// Exhausted reports whether the queue is closed and empty.
func (q *Queue) Exhausted() bool {
	return q.closed.Load() && len(q.items) == 0
}

// Len returns the number of jobs waiting.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Pushed:   q.pushed.Load(),
		Popped:   q.popped.Load(),
		Bytes:    q.bytes.Load(),
		Depth:    len(q.items),
		Capacity: cap(q.items),
		Closed:   q.closed.Load(),
	}
}
