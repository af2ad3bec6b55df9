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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henriblancke/data-diff/pkg/types"
)

func item(start, end int64) workItem {
	return workItem{r: types.KeyRange{Start: start, End: end}}
}

func TestWorkQueueLIFO(t *testing.T) {
	q := newWorkQueue()
	q.push(item(0, 10), item(10, 20), item(20, 30))

	it, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, int64(20), it.r.Start)

	it, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, int64(10), it.r.Start)
}

func TestWorkQueueClosesWhenDrained(t *testing.T) {
	q := newWorkQueue()
	q.push(item(0, 10))

	_, ok := q.pop()
	require.True(t, ok)
	q.done()

	_, ok = q.pop()
	assert.False(t, ok, "queue must close once the last pending item resolves")
}

func TestWorkQueuePendingCoversInFlight(t *testing.T) {
	q := newWorkQueue()
	q.push(item(0, 100))

	it, ok := q.pop()
	require.True(t, ok)

	// The popped item is still pending, so a second pop must block rather
	// than observe an empty-and-closed queue.
	popped := make(chan bool, 1)
	go func() {
		_, ok := q.pop()
		popped <- ok
	}()

	select {
	case <-popped:
		t.Fatal("pop returned while an item was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	// Resolving the in-flight item into two children hands one to the
	// blocked worker.
	q.push(workItem{r: types.KeyRange{Start: it.r.Start, End: int64(50)}, depth: 1},
		workItem{r: types.KeyRange{Start: int64(50), End: it.r.End}, depth: 1})
	q.done()

	assert.True(t, <-popped)
}

func TestWorkQueueCloseUnblocksWaiters(t *testing.T) {
	q := newWorkQueue()

	popped := make(chan bool, 1)
	go func() {
		_, ok := q.pop()
		popped <- ok
	}()

	q.close()
	assert.False(t, <-popped)
}

func TestWorkQueueStats(t *testing.T) {
	q := newWorkQueue()
	q.push(item(0, 10), item(10, 20))

	resolved, total := q.stats()
	assert.Equal(t, int64(0), resolved)
	assert.Equal(t, int64(2), total)

	_, _ = q.pop()
	q.done()

	resolved, total = q.stats()
	assert.Equal(t, int64(1), resolved)
	assert.Equal(t, int64(2), total)
}
