package engine

import (
	"context"
	"sync"
)

// DirtyQueue is the deduplicating work queue that keys matching passes by
// instrument id. An id is "wanted" from a successful Enqueue until
// MarkProcessed: further Enqueues are refused in between, so an instrument
// can have at most one queued-or-running pass at any time while still
// allowing a fresh enqueue once the prior pass finishes.
type DirtyQueue struct {
	mu    sync.Mutex
	fifo  []int64
	wants map[int64]struct{}

	signal chan struct{}
}

func NewDirtyQueue() *DirtyQueue {
	return &DirtyQueue{
		wants:  make(map[int64]struct{}),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue marks the instrument dirty. It reports false if the id is already
// queued or being processed.
func (q *DirtyQueue) Enqueue(id int64) bool {
	q.mu.Lock()
	if _, ok := q.wants[id]; ok {
		q.mu.Unlock()
		return false
	}
	q.wants[id] = struct{}{}
	q.fifo = append(q.fifo, id)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the oldest dirty instrument and hands it to the caller.
// The id stays marked until MarkProcessed releases it.
func (q *DirtyQueue) TryDequeue() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.fifo) == 0 {
		return 0, false
	}
	id := q.fifo[0]
	q.fifo = q.fifo[1:]
	return id, true
}

// MarkProcessed releases the id so a fresh Enqueue can succeed. It must be
// called exactly when the worker that dequeued the id finishes its pass.
func (q *DirtyQueue) MarkProcessed(id int64) {
	q.mu.Lock()
	delete(q.wants, id)
	q.mu.Unlock()
}

// Len reports how many instruments are queued, not counting ones currently
// being processed.
func (q *DirtyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo)
}

// Wait blocks until the queue is signalled or the context ends, reporting
// false for the latter. A wakeup does not guarantee an item: workers drain
// with TryDequeue until empty and wait again.
func (q *DirtyQueue) Wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-q.signal:
		return true
	}
}
