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

// Package diff implements the checksum-driven range-bisection algorithm that
// localizes differences between two large tables without transferring either
// table in full.
package diff

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/henriblancke/data-diff/pkg/types"
)

// RowIter is an ordered stream of rows, strictly increasing by key. The merge
// in the exact row differ depends on that ordering; an accessor that cannot
// guarantee it for a key type must not claim support for that key type.
type RowIter interface {
	Next() bool
	Row() types.Row
	Err() error
	Close()
}

// Source is the per-database capability the core requires from an accessor.
// Every operation is scoped to a key range and must reflect a
// consistent snapshot per call. Implementations are shared read-only across
// concurrent work items and must be safe for concurrent use.
type Source interface {
	// Dialect names the backend, for logs and reports only. Core logic
	// never branches on it.
	Dialect() string

	// Schema returns the table's column names mapped to their native type
	// names, used for the compatibility check before any bisection work.
	Schema(ctx context.Context, table types.TableSpec) (map[string]string, error)

	// Bounds returns the minimum and maximum key. ok is false when the
	// table has no rows.
	Bounds(ctx context.Context, table types.TableSpec) (min, max any, ok bool, err error)

	// Count returns the number of rows with keys in r.
	Count(ctx context.Context, table types.TableSpec, r types.KeyRange) (int64, error)

	// Checksum aggregates a per-row hash over the compared columns for all
	// rows in r into one opaque comparable value. Two sides configured
	// with the same column normalization produce equal checksums iff the
	// range content matches (modulo hash collisions).
	Checksum(ctx context.Context, table types.TableSpec, r types.KeyRange) (string, error)

	// Rows fetches the compared columns for all rows in r, ordered by key.
	Rows(ctx context.Context, table types.TableSpec, r types.KeyRange) (RowIter, error)

	Close()
}

// Side binds a Source to the table being compared on it, plus the per-side
// cap on outstanding queries. The cap is the primary backpressure mechanism
// protecting each database, independent of the engine's worker count.
type Side struct {
	Name   string
	Table  types.TableSpec
	Source Source

	queries *semaphore.Weighted
}

func NewSide(name string, table types.TableSpec, src Source, maxQueries int64) *Side {
	if maxQueries < 1 {
		maxQueries = 1
	}
	return &Side{
		Name:    name,
		Table:   table,
		Source:  src,
		queries: semaphore.NewWeighted(maxQueries),
	}
}

// withQuerySlot runs fn while holding one of the side's query slots.
func (s *Side) withQuerySlot(ctx context.Context, fn func(context.Context) error) error {
	if err := s.queries.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.queries.Release(1)
	return fn(ctx)
}

// RangeError is a fatal work-item failure: it names the failing range, side
// and operation so the run can surface exactly what broke.
type RangeError struct {
	Side  string
	Op    string
	Range types.KeyRange
	Err   error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s query on %s failed for range %s: %v", e.Op, e.Side, e.Range, e.Err)
}

func (e *RangeError) Unwrap() error { return e.Err }
