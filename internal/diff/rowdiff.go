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
	"reflect"

	"github.com/henriblancke/data-diff/pkg/keyspace"
	"github.com/henriblancke/data-diff/pkg/types"
)

// exactDiff resolves a small mismatching range by fetching ordered rows from
// both sides and merge-comparing them. Returns how many rows were examined.
func (e *Engine) exactDiff(ctx context.Context, r types.KeyRange, emit func(types.DiffRecord) error) (int64, error) {
	// An open cursor is an outstanding query, so hold one slot per side for
	// the duration of the merge.
	if err := e.left.queries.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer e.left.queries.Release(1)
	if err := e.right.queries.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer e.right.queries.Release(1)

	openSide := func(side *Side) (RowIter, error) {
		var it RowIter
		err := e.retryOp(ctx, side, "rows", r, func() error {
			var err error
			it, err = side.Source.Rows(ctx, side.Table, r)
			return err
		})
		return it, err
	}

	// Open sequentially: the streams are consumed interleaved by the merge,
	// so there is nothing to gain from racing the opens.
	leftIt, err := openSide(e.left)
	if err != nil {
		return 0, err
	}
	defer leftIt.Close()
	rightIt, err := openSide(e.right)
	if err != nil {
		return 0, err
	}
	defer rightIt.Close()

	rows, err := mergeRows(e.kind, leftIt, rightIt, emit)
	if err != nil {
		if _, ok := err.(*RangeError); !ok && ctx.Err() == nil {
			err = &RangeError{Side: "merge", Op: "rows", Range: r, Err: err}
		}
	}
	return rows, err
}

type rowCursor struct {
	it  RowIter
	cur types.Row
	ok  bool
}

func (c *rowCursor) advance() {
	c.ok = c.it.Next()
	if c.ok {
		c.cur = c.it.Row()
	}
}

// mergeRows walks two row streams that are strictly increasing by key and
// emits Removed for left-only keys, Added for right-only keys and Changed for
// keys present on both sides with differing values. Equal rows emit nothing:
// that can legitimately happen under a checksum mismatch (hash collision or
// normalization skew) and is not an error.
func mergeRows(kind types.KeyKind, left, right RowIter, emit func(types.DiffRecord) error) (int64, error) {
	l := &rowCursor{it: left}
	r := &rowCursor{it: right}
	l.advance()
	r.advance()

	var rows int64
	for l.ok && r.ok {
		rows++
		switch keyspace.Compare(kind, l.cur.Key, r.cur.Key) {
		case -1:
			if err := emit(removedRecord(l.cur)); err != nil {
				return rows, err
			}
			l.advance()
		case 1:
			if err := emit(addedRecord(r.cur)); err != nil {
				return rows, err
			}
			r.advance()
		default:
			if !rowValuesEqual(l.cur.Values, r.cur.Values) {
				rec := types.DiffRecord{
					Kind:        types.DiffChanged,
					Key:         l.cur.Key,
					LeftValues:  l.cur.Values,
					RightValues: r.cur.Values,
				}
				if err := emit(rec); err != nil {
					return rows, err
				}
			}
			l.advance()
			r.advance()
		}
	}
	for ; l.ok; l.advance() {
		rows++
		if err := emit(removedRecord(l.cur)); err != nil {
			return rows, err
		}
	}
	for ; r.ok; r.advance() {
		rows++
		if err := emit(addedRecord(r.cur)); err != nil {
			return rows, err
		}
	}

	if err := left.Err(); err != nil {
		return rows, err
	}
	return rows, right.Err()
}

func removedRecord(row types.Row) types.DiffRecord {
	return types.DiffRecord{
		Kind:   types.DiffRemoved,
		Side:   "left",
		Key:    row.Key,
		Values: row.Values,
	}
}

func addedRecord(row types.Row) types.DiffRecord {
	return types.DiffRecord{
		Kind:   types.DiffAdded,
		Side:   "right",
		Key:    row.Key,
		Values: row.Values,
	}
}

func rowValuesEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for col, av := range a {
		bv, ok := b[col]
		if !ok {
			return false
		}
		if av == nil || bv == nil {
			if av != bv {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}
