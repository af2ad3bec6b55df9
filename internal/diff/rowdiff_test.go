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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henriblancke/data-diff/pkg/types"
)

type sliceIter struct {
	rows []types.Row
	idx  int
	err  error
}

func (it *sliceIter) Next() bool {
	if it.idx >= len(it.rows) {
		return false
	}
	it.idx++
	return true
}

func (it *sliceIter) Row() types.Row { return it.rows[it.idx-1] }
func (it *sliceIter) Err() error     { return it.err }
func (it *sliceIter) Close()         {}

func intRow(key int64, val string) types.Row {
	return types.Row{Key: key, Values: map[string]any{"val": val}}
}

func collectMerge(t *testing.T, left, right []types.Row) ([]types.DiffRecord, int64) {
	t.Helper()
	var recs []types.DiffRecord
	rows, err := mergeRows(types.KeyInteger, &sliceIter{rows: left}, &sliceIter{rows: right},
		func(rec types.DiffRecord) error {
			recs = append(recs, rec)
			return nil
		})
	require.NoError(t, err)
	return recs, rows
}

func TestMergeRowsEqualStreams(t *testing.T) {
	rows := []types.Row{intRow(1, "a"), intRow(2, "b"), intRow(3, "c")}
	recs, n := collectMerge(t, rows, rows)
	assert.Empty(t, recs)
	assert.Equal(t, int64(3), n)
}

func TestMergeRowsClassification(t *testing.T) {
	left := []types.Row{intRow(1, "a"), intRow(2, "b"), intRow(3, "c"), intRow(5, "e")}
	right := []types.Row{intRow(2, "b"), intRow(3, "C"), intRow(4, "d"), intRow(5, "e")}

	recs, _ := collectMerge(t, left, right)
	require.Len(t, recs, 3)

	assert.Equal(t, types.DiffRemoved, recs[0].Kind)
	assert.Equal(t, "left", recs[0].Side)
	assert.Equal(t, int64(1), recs[0].Key)

	assert.Equal(t, types.DiffChanged, recs[1].Kind)
	assert.Equal(t, int64(3), recs[1].Key)
	assert.Equal(t, map[string]any{"val": "c"}, recs[1].LeftValues)
	assert.Equal(t, map[string]any{"val": "C"}, recs[1].RightValues)

	assert.Equal(t, types.DiffAdded, recs[2].Kind)
	assert.Equal(t, "right", recs[2].Side)
	assert.Equal(t, int64(4), recs[2].Key)
}

func TestMergeRowsDrainsLeftRemainder(t *testing.T) {
	left := []types.Row{intRow(1, "a"), intRow(2, "b"), intRow(3, "c")}
	recs, n := collectMerge(t, left, nil)
	require.Len(t, recs, 3)
	assert.Equal(t, int64(3), n)
	for i, rec := range recs {
		assert.Equal(t, types.DiffRemoved, rec.Kind)
		assert.Equal(t, int64(i+1), rec.Key)
	}
}

func TestMergeRowsDrainsRightRemainder(t *testing.T) {
	right := []types.Row{intRow(10, "x"), intRow(11, "y")}
	recs, _ := collectMerge(t, nil, right)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, types.DiffAdded, rec.Kind)
	}
}

func TestMergeRowsIterError(t *testing.T) {
	wantErr := errors.New("connection reset")
	_, err := mergeRows(types.KeyInteger,
		&sliceIter{rows: []types.Row{intRow(1, "a")}, err: wantErr},
		&sliceIter{},
		func(types.DiffRecord) error { return nil })
	assert.ErrorIs(t, err, wantErr)
}

func TestMergeRowsEmitError(t *testing.T) {
	wantErr := errors.New("stream closed")
	_, err := mergeRows(types.KeyInteger,
		&sliceIter{rows: []types.Row{intRow(1, "a")}},
		&sliceIter{},
		func(types.DiffRecord) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)
}

func TestRowValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b map[string]any
		want bool
	}{
		{name: "equal", a: map[string]any{"x": "1"}, b: map[string]any{"x": "1"}, want: true},
		{name: "different value", a: map[string]any{"x": "1"}, b: map[string]any{"x": "2"}, want: false},
		{name: "both nil value", a: map[string]any{"x": nil}, b: map[string]any{"x": nil}, want: true},
		{name: "nil vs value", a: map[string]any{"x": nil}, b: map[string]any{"x": "1"}, want: false},
		{name: "missing column", a: map[string]any{"x": "1"}, b: map[string]any{"y": "1"}, want: false},
		{name: "extra column", a: map[string]any{"x": "1"}, b: map[string]any{"x": "1", "y": "2"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rowValuesEqual(tt.a, tt.b))
		})
	}
}
