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
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/henriblancke/data-diff/pkg/config"
	"github.com/henriblancke/data-diff/pkg/keyspace"
	"github.com/henriblancke/data-diff/pkg/logger"
	"github.com/henriblancke/data-diff/pkg/types"
)

// Options is the immutable configuration for one diff run.
type Options struct {
	BranchingFactor    int
	ExactDiffThreshold int64
	MaxDepth           int

	Workers        int
	PerSideQueries int64

	RetryCount   int
	RetryMinWait time.Duration
	RetryMaxWait time.Duration

	// SkipFailedRanges logs and skips a work item whose queries exhausted
	// their retries instead of aborting the whole run.
	SkipFailedRanges bool

	// OnProgress, if set, is called with (resolved, total) work item counts
	// as the run advances.
	OnProgress func(resolved, total int64)
}

func (o Options) withDefaults() Options {
	if o.BranchingFactor < 2 {
		o.BranchingFactor = 10
	}
	if o.ExactDiffThreshold < 1 {
		o.ExactDiffThreshold = 1000
	}
	if o.MaxDepth < 1 {
		o.MaxDepth = 12
	}
	if o.Workers < 1 {
		o.Workers = runtime.NumCPU()
	}
	if o.PerSideQueries < 1 {
		o.PerSideQueries = 4
	}
	if o.RetryCount < 0 {
		o.RetryCount = 0
	}
	if o.RetryMinWait <= 0 {
		o.RetryMinWait = 250 * time.Millisecond
	}
	if o.RetryMaxWait <= 0 {
		o.RetryMaxWait = 5 * time.Second
	}
	return o
}

// OptionsFromConfig maps the loaded YAML config onto run options.
func OptionsFromConfig(c config.DiffConfig) Options {
	return Options{
		BranchingFactor:    c.BranchingFactor,
		ExactDiffThreshold: c.ExactDiffThreshold,
		MaxDepth:           c.MaxDepth,
		Workers:            c.Workers,
		PerSideQueries:     c.PerSideQueries,
		RetryCount:         c.RetryCount,
		RetryMinWait:       time.Duration(c.RetryMinWaitMs) * time.Millisecond,
		RetryMaxWait:       time.Duration(c.RetryMaxWaitMs) * time.Millisecond,
		SkipFailedRanges:   c.SkipFailedRanges,
	}
}

// Engine drives one diff run: it initializes the work set from the tables'
// key bounds, classifies open ranges with the segment comparator, bisects
// large mismatches and hands small ones to the exact row differ.
type Engine struct {
	opts  Options
	left  *Side
	right *Side
	kind  types.KeyKind

	startTime time.Time

	mu      sync.Mutex
	summary types.Summary
}

// New validates the two sides against each other and builds an engine.
func New(left, right *Side, opts Options) (*Engine, error) {
	if left == nil || right == nil {
		return nil, fmt.Errorf("both sides are required")
	}
	if left.Table.Key == "" || right.Table.Key == "" {
		return nil, fmt.Errorf("ordering key column is required on both sides")
	}
	if left.Table.KeyKind != right.Table.KeyKind {
		return nil, fmt.Errorf("key kinds differ: %s=%s, %s=%s",
			left.Name, left.Table.KeyKind, right.Name, right.Table.KeyKind)
	}
	if !sameColumnSet(left.Table.Columns, right.Table.Columns) {
		return nil, fmt.Errorf("compared column sets differ between %s and %s", left.Name, right.Name)
	}
	if len(left.Table.Columns) == 0 {
		return nil, fmt.Errorf("at least one compared column is required")
	}
	return &Engine{
		opts:  opts.withDefaults(),
		left:  left,
		right: right,
		kind:  left.Table.KeyKind,
	}, nil
}

func sameColumnSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Run checks schema compatibility, computes key bounds on both sides and
// starts the bisection workers. The returned stream produces diff records
// until the run completes, fails or is cancelled.
func (e *Engine) Run(ctx context.Context) (*Stream, error) {
	e.startTime = time.Now()
	if err := e.checkSchemas(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	st := newStream(cancel, 256)

	items, err := e.initWork(runCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	e.mu.Lock()
	e.summary = types.Summary{
		RunID:              uuid.NewString(),
		Schema:             e.left.Table.Schema,
		Table:              e.left.Table.Table,
		Sides:              []string{e.left.Name, e.right.Name},
		BranchingFactor:    e.opts.BranchingFactor,
		ExactDiffThreshold: e.opts.ExactDiffThreshold,
		MaxDepth:           e.opts.MaxDepth,
		DiffRecordCounts:   make(map[types.DiffKind]int64),
		StartTime:          e.startTime.Format(time.RFC3339),
	}
	e.mu.Unlock()

	go e.run(runCtx, st, items)
	return st, nil
}

func (e *Engine) run(ctx context.Context, st *Stream, items []workItem) {
	var runErr error
	if len(items) > 0 {
		q := newWorkQueue()
		q.push(items...)

		g, gctx := errgroup.WithContext(ctx)
		go func() {
			<-gctx.Done()
			q.close()
		}()
		for i := 0; i < e.opts.Workers; i++ {
			g.Go(func() error {
				return e.worker(gctx, q, st)
			})
		}
		runErr = g.Wait()
	}

	end := time.Now()
	e.mu.Lock()
	e.summary.EndTime = end.Format(time.RFC3339)
	e.summary.TimeTaken = end.Sub(e.startTime).String()
	summary := e.summary
	summary.DiffRecordCounts = make(map[types.DiffKind]int64, len(e.summary.DiffRecordCounts))
	for k, v := range e.summary.DiffRecordCounts {
		summary.DiffRecordCounts[k] = v
	}
	summary.FailedRanges = append([]string(nil), e.summary.FailedRanges...)
	e.mu.Unlock()

	st.finish(runErr, summary)
}

func (e *Engine) worker(ctx context.Context, q *workQueue, st *Stream) error {
	for {
		it, ok := q.pop()
		if !ok {
			return nil
		}
		err := e.process(ctx, it, q, st)
		q.done()
		e.reportProgress(q)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.recordFailure(it, err)
		if e.opts.SkipFailedRanges {
			logger.Warn("skipping failed range %s: %v", it.r, err)
			continue
		}
		return err
	}
}

func (e *Engine) process(ctx context.Context, it workItem, q *workQueue, st *Stream) error {
	if it.side != "" {
		return e.processTail(ctx, it, st)
	}

	out, left, right, err := e.compareSegment(ctx, it.r)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.summary.RangesCompared++
	if it.depth > e.summary.DeepestLevel {
		e.summary.DeepestLevel = it.depth
	}
	e.mu.Unlock()

	switch out {
	case outcomeMatch:
		logger.Debug("match for range %s (count=%d, depth=%d)", it.r, left.count, it.depth)
		e.mu.Lock()
		e.summary.RangesMatched++
		e.summary.TotalRowsChecked += max64(left.count, right.count)
		e.mu.Unlock()
		return nil

	case outcomeSmallMismatch:
		return e.resolveExact(ctx, it.r, st)

	default:
		// Depth cap forces the exact differ regardless of size, trading
		// download volume for guaranteed termination.
		if it.depth >= e.opts.MaxDepth {
			logger.Debug("range %s hit max depth %d with %d/%d rows, forcing exact diff",
				it.r, it.depth, left.count, right.count)
			return e.resolveExact(ctx, it.r, st)
		}

		children, err := keyspace.Split(e.kind, it.r, e.opts.BranchingFactor)
		if err != nil {
			return &RangeError{Side: "partitioner", Op: "split", Range: it.r, Err: err}
		}
		if len(children) == 1 {
			// Maximally bisected; row counts no longer matter.
			return e.resolveExact(ctx, it.r, st)
		}

		logger.Debug("mismatch for range %s (%d/%d rows), bisecting into %d at depth %d",
			it.r, left.count, right.count, len(children), it.depth+1)
		e.mu.Lock()
		e.summary.RangesBisected++
		e.mu.Unlock()

		items := make([]workItem, len(children))
		for i, c := range children {
			items[i] = workItem{r: c, depth: it.depth + 1}
		}
		q.push(items...)
		return nil
	}
}

func (e *Engine) resolveExact(ctx context.Context, r types.KeyRange, st *Stream) error {
	rows, err := e.exactDiff(ctx, r, func(rec types.DiffRecord) error {
		return e.emit(ctx, st, rec)
	})
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.summary.RangesExactDiff++
	e.summary.TotalRowsChecked += rows
	e.mu.Unlock()
	return nil
}

// processTail resolves a range known to exist on only one side. Small tails
// are downloaded and reported row by row; large ones are summarized as a bulk
// range record without fetching their rows.
func (e *Engine) processTail(ctx context.Context, it workItem, st *Stream) error {
	side := e.left
	rangeKind, recFor := types.DiffRangeRemoved, removedRecord
	if it.side == "right" {
		side = e.right
		rangeKind, recFor = types.DiffRangeAdded, addedRecord
	}

	var count int64
	err := e.withRetry(ctx, side, "count", it.r, func(qctx context.Context) error {
		n, err := side.Source.Count(qctx, side.Table, it.r)
		if err == nil {
			count = n
		}
		return err
	})
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	e.mu.Lock()
	e.summary.RangesCompared++
	e.summary.TotalRowsChecked += count
	e.mu.Unlock()

	if count > e.opts.ExactDiffThreshold {
		r := it.r
		return e.emit(ctx, st, types.DiffRecord{
			Kind:  rangeKind,
			Side:  it.side,
			Range: &r,
			Count: count,
		})
	}

	return e.emitSideRows(ctx, side, it.r, st, recFor)
}

func (e *Engine) emitSideRows(ctx context.Context, side *Side, r types.KeyRange, st *Stream, recFor func(types.Row) types.DiffRecord) error {
	if err := side.queries.Acquire(ctx, 1); err != nil {
		return err
	}
	defer side.queries.Release(1)

	var it RowIter
	err := e.retryOp(ctx, side, "rows", r, func() error {
		var err error
		it, err = side.Source.Rows(ctx, side.Table, r)
		return err
	})
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		if err := e.emit(ctx, st, recFor(it.Row())); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return &RangeError{Side: side.Name, Op: "rows", Range: r, Err: err}
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, st *Stream, rec types.DiffRecord) error {
	e.mu.Lock()
	e.summary.DiffRecordCounts[rec.Kind]++
	e.mu.Unlock()
	select {
	case st.recs <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) reportProgress(q *workQueue) {
	if e.opts.OnProgress == nil {
		return
	}
	resolved, total := q.stats()
	e.opts.OnProgress(resolved, total)
}

func (e *Engine) recordFailure(it workItem, err error) {
	e.mu.Lock()
	e.summary.FailedRanges = append(e.summary.FailedRanges,
		fmt.Sprintf("%s: %v", it.r, err))
	e.mu.Unlock()
}

// checkSchemas verifies before any bisection work that the key and every
// compared column exist on both sides with checksum-compatible type families.
// A mismatch is fatal at run start.
func (e *Engine) checkSchemas(ctx context.Context) error {
	lcols, err := e.left.Source.Schema(ctx, e.left.Table)
	if err != nil {
		return fmt.Errorf("failed to read schema on %s: %w", e.left.Name, err)
	}
	rcols, err := e.right.Source.Schema(ctx, e.right.Table)
	if err != nil {
		return fmt.Errorf("failed to read schema on %s: %w", e.right.Name, err)
	}

	var problems []string
	check := func(col string) {
		lt, lok := lcols[col]
		rt, rok := rcols[col]
		switch {
		case !lok:
			problems = append(problems, fmt.Sprintf("column %q missing on %s", col, e.left.Name))
		case !rok:
			problems = append(problems, fmt.Sprintf("column %q missing on %s", col, e.right.Name))
		case !compatibleFamilies(typeFamily(lt), typeFamily(rt)):
			problems = append(problems, fmt.Sprintf("column %q: %s has %s, %s has %s",
				col, e.left.Name, lt, e.right.Name, rt))
		}
	}
	check(e.left.Table.Key)
	for _, col := range e.left.Table.Columns {
		if col != e.left.Table.Key {
			check(col)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("tables are not comparable: %s", strings.Join(problems, "; "))
	}
	return nil
}

// initWork computes both sides' key bounds and seeds the work set: the
// overlap becomes an ordinary depth-0 work item, while portions of the key
// space outside the overlap become one-sided tails reported directly as pure
// additions or removals.
func (e *Engine) initWork(ctx context.Context) ([]workItem, error) {
	lmin, lmax, lok, err := e.bounds(ctx, e.left)
	if err != nil {
		return nil, err
	}
	rmin, rmax, rok, err := e.bounds(ctx, e.right)
	if err != nil {
		return nil, err
	}

	switch {
	case !lok && !rok:
		logger.Info("both tables are empty, nothing to compare")
		return nil, nil
	case !lok:
		return []workItem{{r: types.KeyRange{Start: rmin, End: rmax, IncEnd: true}, side: "right"}}, nil
	case !rok:
		return []workItem{{r: types.KeyRange{Start: lmin, End: lmax, IncEnd: true}, side: "left"}}, nil
	}

	var items []workItem
	// Keys below the other side's minimum. The tail closes inclusively at its
	// own maximum when the two bound intervals do not overlap at all.
	if keyspace.Compare(e.kind, lmin, rmin) < 0 {
		r := types.KeyRange{Start: lmin, End: rmin}
		if keyspace.Compare(e.kind, lmax, rmin) < 0 {
			r.End, r.IncEnd = lmax, true
		}
		items = append(items, workItem{r: r, side: "left"})
	} else if keyspace.Compare(e.kind, rmin, lmin) < 0 {
		r := types.KeyRange{Start: rmin, End: lmin}
		if keyspace.Compare(e.kind, rmax, lmin) < 0 {
			r.End, r.IncEnd = rmax, true
		}
		items = append(items, workItem{r: r, side: "right"})
	}
	// Keys above the other side's maximum. An exclusive start opens the tail
	// just past that maximum without computing a successor key.
	if keyspace.Compare(e.kind, lmax, rmax) > 0 {
		r := types.KeyRange{Start: rmax, End: lmax, ExcStart: true, IncEnd: true}
		if keyspace.Compare(e.kind, lmin, rmax) > 0 {
			r.Start, r.ExcStart = lmin, false
		}
		items = append(items, workItem{r: r, side: "left"})
	} else if keyspace.Compare(e.kind, rmax, lmax) > 0 {
		r := types.KeyRange{Start: lmax, End: rmax, ExcStart: true, IncEnd: true}
		if keyspace.Compare(e.kind, rmin, lmax) > 0 {
			r.Start, r.ExcStart = rmin, false
		}
		items = append(items, workItem{r: r, side: "right"})
	}

	overlapStart := maxKey(e.kind, lmin, rmin)
	overlapEnd := minKey(e.kind, lmax, rmax)
	if keyspace.Compare(e.kind, overlapStart, overlapEnd) <= 0 {
		items = append(items, workItem{r: types.KeyRange{Start: overlapStart, End: overlapEnd, IncEnd: true}})
	}

	logger.Info("bounds: %s=[%s, %s], %s=[%s, %s], %d initial work item(s)",
		e.left.Name, keyspace.FormatKey(e.kind, lmin), keyspace.FormatKey(e.kind, lmax),
		e.right.Name, keyspace.FormatKey(e.kind, rmin), keyspace.FormatKey(e.kind, rmax),
		len(items))
	return items, nil
}

func (e *Engine) bounds(ctx context.Context, side *Side) (any, any, bool, error) {
	var min, max any
	var ok bool
	err := e.withRetry(ctx, side, "bounds", types.KeyRange{}, func(qctx context.Context) error {
		var err error
		min, max, ok, err = side.Source.Bounds(qctx, side.Table)
		return err
	})
	return min, max, ok, err
}

func minKey(kind types.KeyKind, a, b any) any {
	if keyspace.Compare(kind, a, b) <= 0 {
		return a
	}
	return b
}

func maxKey(kind types.KeyKind, a, b any) any {
	if keyspace.Compare(kind, a, b) >= 0 {
		return a
	}
	return b
}

// typeFamily buckets a native column type name so a Postgres type and a MySQL
// type can be judged comparable for checksum purposes.
func typeFamily(native string) string {
	t := strings.ToLower(native)
	switch {
	case strings.Contains(t, "interval"):
		return "other"
	case strings.Contains(t, "uuid"):
		return "uuid"
	case strings.Contains(t, "bool"):
		return "numeric"
	case strings.Contains(t, "int") || strings.Contains(t, "serial"):
		return "numeric"
	case strings.Contains(t, "numeric") || strings.Contains(t, "decimal"):
		return "numeric"
	case strings.Contains(t, "double") || strings.Contains(t, "float") || strings.Contains(t, "real"):
		return "numeric"
	case strings.Contains(t, "timestamp") || strings.Contains(t, "datetime"):
		return "timestamp"
	case strings.Contains(t, "date"):
		return "date"
	case strings.Contains(t, "char") || strings.Contains(t, "text") || strings.Contains(t, "enum"):
		return "string"
	case strings.Contains(t, "bytea") || strings.Contains(t, "blob") || strings.Contains(t, "binary"):
		return "bytes"
	case strings.Contains(t, "json"):
		return "json"
	default:
		return "other"
	}
}

func compatibleFamilies(a, b string) bool {
	if a == "other" || b == "other" {
		// Unknown types are allowed through; normalization differences
		// surface as diffs, which is the documented limitation.
		return true
	}
	return a == b
}
