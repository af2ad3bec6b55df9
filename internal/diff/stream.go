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
	"context"
	"sync"

	"github.com/henriblancke/data-diff/pkg/types"
)

// Stream is the lazily-produced sequence of diff records for one run. It is
// finite and not restartable. No ordering is guaranteed across segments;
// records within one segment arrive in key order.
type Stream struct {
	recs   chan types.DiffRecord
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	err       error
	cancelled bool
	summary   types.Summary
}

func newStream(cancel context.CancelFunc, buffer int) *Stream {
	return &Stream{
		recs:   make(chan types.DiffRecord, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Records returns the record channel. It is closed when the run finishes,
// fails or is cancelled; check Err afterwards.
func (s *Stream) Records() <-chan types.DiffRecord { return s.recs }

// Cancel stops scheduling new work items and interrupts in-flight queries
// best-effort. Records already emitted remain valid; cancellation is not
// reported as an error.
func (s *Stream) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
}

// Err reports the fatal error that terminated the run, if any. Valid once
// Records has been drained.
func (s *Stream) Err() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Summary returns run statistics. Valid once Records has been drained.
func (s *Stream) Summary() types.Summary {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

func (s *Stream) finish(err error, summary types.Summary) {
	s.mu.Lock()
	if err != nil && !s.cancelled {
		s.err = err
	}
	s.summary = summary
	s.mu.Unlock()
	close(s.recs)
	close(s.done)
}
