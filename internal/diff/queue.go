// ///////////////////////////////////////////////////////////////////////////
//
// # data-diff - cross-database table diff
//
// Copyright (C) 2024 - 2026, Henri Blancke
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package diff

import (
	"sync"

	"github.com/henriblancke/data-diff/pkg/types"
)

// workItem is a pending key range to compare across both sides, annotated
// with its recursion depth. A non-empty side marks a one-sided tail outside
// the overlap of the two tables' bounds.
type workItem struct {
	r     types.KeyRange
	depth int
	side  string
}

// workQueue is the engine's explicit work set: a LIFO of open work items plus
// a pending count covering both queued and in-flight items. The queue closes
// itself when the last item resolves, or on demand when the run is cancelled.
// LIFO order keeps the open set near one bisection path instead of fanning
// out a whole level at a time, which bounds memory at roughly depth*branching
// items per worker.
type workQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []workItem
	pending int
	pushed  int64
	closed  bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *workQueue) push(items ...workItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, items...)
	q.pending += len(items)
	q.pushed += int64(len(items))
	q.cond.Broadcast()
}

// pop blocks until an item is available or the queue is closed.
func (q *workQueue) pop() (workItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return workItem{}, false
	}
	it := q.items[len(q.items)-1]
	q.items = q.items[:len(q.items)-1]
	return it, true
}

// done marks one popped item as resolved. The final resolution closes the
// queue and releases all waiting workers.
func (q *workQueue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	if q.pending <= 0 {
		q.closed = true
		q.cond.Broadcast()
	}
}

func (q *workQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// stats returns (resolved, total) item counts for progress reporting.
func (q *workQueue) stats() (int64, int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed - int64(q.pending), q.pushed
}
