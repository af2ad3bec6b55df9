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

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/henriblancke/data-diff/pkg/logger"
	"github.com/henriblancke/data-diff/pkg/types"
)

type outcome int

const (
	outcomeMatch outcome = iota
	outcomeSmallMismatch
	outcomeLargeMismatch
)

// segment caches the count and checksum of one key range on one side.
type segment struct {
	count    int64
	checksum string
}

// equivalent: both count and checksum must match exactly.
func (s segment) equivalent(o segment) bool {
	return s.count == o.count && s.checksum == o.checksum
}

// compareSegment classifies a key range by fetching count and checksum from
// both sides concurrently. A slow side never blocks the other.
func (e *Engine) compareSegment(ctx context.Context, r types.KeyRange) (outcome, segment, segment, error) {
	var left, right segment
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		left, err = e.readSegment(gctx, e.left, r)
		return err
	})
	g.Go(func() error {
		var err error
		right, err = e.readSegment(gctx, e.right, r)
		return err
	})
	if err := g.Wait(); err != nil {
		return outcomeMatch, left, right, err
	}

	switch {
	case left.equivalent(right):
		return outcomeMatch, left, right, nil
	case max64(left.count, right.count) <= e.opts.ExactDiffThreshold:
		return outcomeSmallMismatch, left, right, nil
	default:
		return outcomeLargeMismatch, left, right, nil
	}
}

// readSegment issues the count and checksum queries for one side, each with
// bounded-backoff retries. Exhausting retries surfaces a RangeError; a
// transient failure is never treated as a mismatch or a match.
func (e *Engine) readSegment(ctx context.Context, side *Side, r types.KeyRange) (segment, error) {
	var seg segment

	err := e.withRetry(ctx, side, "count", r, func(qctx context.Context) error {
		n, err := side.Source.Count(qctx, side.Table, r)
		if err == nil {
			seg.count = n
		}
		return err
	})
	if err != nil {
		return seg, err
	}

	err = e.withRetry(ctx, side, "checksum", r, func(qctx context.Context) error {
		sum, err := side.Source.Checksum(qctx, side.Table, r)
		if err == nil {
			seg.checksum = sum
		}
		return err
	})
	return seg, err
}

// withRetry runs one query operation under the side's query slot, retrying
// transiently up to the configured count. The slot is released between
// attempts so backoff waits don't starve sibling ranges.
func (e *Engine) withRetry(ctx context.Context, side *Side, op string, r types.KeyRange, fn func(context.Context) error) error {
	return e.retryOp(ctx, side, op, r, func() error {
		return side.withQuerySlot(ctx, fn)
	})
}

// retryOp is the bare bounded-backoff loop around one attemptable operation.
func (e *Engine) retryOp(ctx context.Context, side *Side, op string, r types.KeyRange, attemptFn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.opts.RetryMinWait
	bo.MaxInterval = e.opts.RetryMaxWait

	attempt := 0
	query := func() error {
		err := attemptFn()
		if err != nil && ctx.Err() == nil {
			attempt++
			logger.Debug("[%s] %s for range %s failed (attempt %d): %v", side.Name, op, r, attempt, err)
		}
		if ctx.Err() != nil {
			// Not transient; stop retrying immediately.
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	err := backoff.Retry(query, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(e.opts.RetryCount)), ctx))
	if err != nil {
		return &RangeError{Side: side.Name, Op: op, Range: r, Err: err}
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
