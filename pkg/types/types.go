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

package types

import (
	"fmt"
)

// KeyKind is the semantic type of a table's ordering key. It decides how
// ranges over the key domain are compared and subdivided.
type KeyKind string

const (
	KeyInteger   KeyKind = "integer"
	KeyDecimal   KeyKind = "decimal"
	KeyUUID      KeyKind = "uuid"
	KeyTimestamp KeyKind = "timestamp"
	KeyString    KeyKind = "string"
)

// ParseKeyKind validates a user-supplied key kind.
func ParseKeyKind(s string) (KeyKind, error) {
	switch KeyKind(s) {
	case KeyInteger, KeyDecimal, KeyUUID, KeyTimestamp, KeyString:
		return KeyKind(s), nil
	}
	return "", fmt.Errorf("unknown key type %q (expected integer, decimal, uuid, timestamp or string)", s)
}

// TableSpec identifies one side's table: where it lives, the ordering key and
// the columns being compared. Immutable once a diff run starts.
type TableSpec struct {
	Schema  string
	Table   string
	Key     string
	KeyKind KeyKind
	Columns []string
}

func (t TableSpec) QualifiedName() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// KeyRange is an interval over the key domain, by default the half-open
// [Start, End). A nil End marks an unbounded range covering everything from
// Start up to the table's actual maximum.
type KeyRange struct {
	Start any `json:"start"`
	End   any `json:"end"`

	// ExcStart excludes Start itself, IncEnd includes End. An inclusive end
	// lets a range close at a table's own maximum key and an exclusive start
	// lets it open just past one, without computing a successor value. String
	// keys have no successor that databases accept as a bind parameter.
	ExcStart bool `json:"exclusive_start,omitempty"`
	IncEnd   bool `json:"inclusive_end,omitempty"`
}

// Unbounded reports whether the range has no upper bound.
func (r KeyRange) Unbounded() bool { return r.End == nil }

func (r KeyRange) String() string {
	lb, rb := "[", ")"
	if r.ExcStart {
		lb = "("
	}
	if r.IncEnd {
		rb = "]"
	}
	if r.Unbounded() {
		return fmt.Sprintf("%s%v, +inf)", lb, r.Start)
	}
	return fmt.Sprintf("%s%v, %v%s", lb, r.Start, r.End, rb)
}

// Row is one fetched table row: the ordering key plus the compared columns,
// normalized to text by the accessor so both sides compare byte-for-byte.
type Row struct {
	Key    any
	Values map[string]any
}

type DiffKind string

const (
	// Added / Removed / Changed are per-row records produced by the exact
	// row differ. Added rows exist only on the right side, Removed only on
	// the left.
	DiffAdded   DiffKind = "added"
	DiffRemoved DiffKind = "removed"
	DiffChanged DiffKind = "changed"

	// RangeAdded / RangeRemoved summarize a large non-overlapping tail of
	// the key space without downloading its rows.
	DiffRangeAdded   DiffKind = "range_added"
	DiffRangeRemoved DiffKind = "range_removed"
)

// DiffRecord is one reported difference. Immutable once emitted.
type DiffRecord struct {
	Kind DiffKind `json:"kind"`
	// Side names the side that has the row (or range): "left" or "right".
	// Empty for changed records, which involve both.
	Side string `json:"side,omitempty"`
	Key  any    `json:"key,omitempty"`

	Values      map[string]any `json:"values,omitempty"`
	LeftValues  map[string]any `json:"left_values,omitempty"`
	RightValues map[string]any `json:"right_values,omitempty"`

	Range *KeyRange `json:"range,omitempty"`
	Count int64     `json:"count,omitempty"`
}

// Summary provides metadata about one diff run.
type Summary struct {
	RunID  string   `json:"run_id"`
	Schema string   `json:"schema"`
	Table  string   `json:"table"`
	Sides  []string `json:"sides"`

	BranchingFactor    int   `json:"branching_factor"`
	ExactDiffThreshold int64 `json:"exact_diff_threshold"`
	MaxDepth           int   `json:"max_depth"`

	RangesCompared   int64 `json:"ranges_compared"`
	RangesMatched    int64 `json:"ranges_matched"`
	RangesBisected   int64 `json:"ranges_bisected"`
	RangesExactDiff  int64 `json:"ranges_exact_diffed"`
	DeepestLevel     int   `json:"deepest_level"`
	TotalRowsChecked int64 `json:"total_rows_checked"`

	DiffRecordCounts map[DiffKind]int64 `json:"diff_record_counts"`
	FailedRanges     []string           `json:"failed_ranges,omitempty"`

	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	TimeTaken string `json:"time_taken"`
}
