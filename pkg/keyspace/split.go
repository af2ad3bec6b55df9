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

package keyspace

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/henriblancke/data-diff/pkg/types"
)

// String boundaries are interpolated over the printable ASCII characters
// (0x20..0x7e), read as base-95 digits for stringWindow characters past the
// endpoints' common prefix. Generated boundaries therefore always bind as
// valid text on both backends; key bytes outside the alphabet clamp to its
// edges, which only shifts boundaries, never the ranges' union.
const (
	stringWindow  = 8
	stringBase    = 95
	stringLowChar = 0x20
)

// Split partitions a bounded key range into up to `parts` contiguous
// sub-ranges with no gaps or overlaps, evenly spaced over the key domain. The
// outer bounds keep the input's inclusivity; interior boundaries are exclusive
// on the left and inclusive on the right. If fewer representable values than
// `parts` remain, one sub-range per representable value is returned. A
// single-element result means the range cannot be subdivided further and must
// be treated as maximally bisected.
func Split(kind types.KeyKind, r types.KeyRange, parts int) ([]types.KeyRange, error) {
	if parts < 2 {
		return nil, fmt.Errorf("branching factor must be >= 2, got %d", parts)
	}
	if r.Unbounded() {
		return nil, fmt.Errorf("cannot split unbounded range %s", r)
	}
	cmp := Compare(kind, r.Start, r.End)
	if cmp > 0 || (cmp == 0 && (r.ExcStart || !r.IncEnd)) {
		return nil, fmt.Errorf("degenerate range %s", r)
	}
	if cmp == 0 {
		// A single key cannot be subdivided.
		return []types.KeyRange{r}, nil
	}

	if kind == types.KeyString {
		return splitString(r, parts), nil
	}

	c := codecFor(kind, r)
	lo := c.toUnits(r.Start)
	if r.ExcStart {
		lo = new(big.Int).Add(lo, big.NewInt(1))
	}
	hi := c.toUnits(r.End)
	if r.IncEnd {
		hi = new(big.Int).Add(hi, big.NewInt(1))
	}

	bounds := interpolate(lo, hi, parts)
	out := make([]types.KeyRange, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		var sub types.KeyRange
		if i == 0 {
			sub.Start, sub.ExcStart = r.Start, r.ExcStart
		} else {
			sub.Start = c.fromUnits(bounds[i])
		}
		if i+2 == len(bounds) {
			sub.End, sub.IncEnd = r.End, r.IncEnd
		} else {
			sub.End = c.fromUnits(bounds[i+1])
		}
		out = append(out, sub)
	}
	return out, nil
}

// interpolate returns an ascending boundary sequence over [lo, hi] with at
// most parts intervals. When hi-lo < parts every representable unit gets its
// own interval.
func interpolate(lo, hi *big.Int, parts int) []*big.Int {
	width := new(big.Int).Sub(hi, lo)
	n := big.NewInt(int64(parts))
	if width.Cmp(n) < 0 {
		n = width
	}

	bounds := []*big.Int{lo}
	steps := n.Int64()
	for i := int64(1); i < steps; i++ {
		b := new(big.Int).Mul(width, big.NewInt(i))
		b.Div(b, n).Add(b, lo)
		if b.Cmp(bounds[len(bounds)-1]) > 0 && b.Cmp(hi) < 0 {
			bounds = append(bounds, b)
		}
	}
	return append(bounds, hi)
}

type unitCodec struct {
	toUnits   func(any) *big.Int
	fromUnits func(*big.Int) any
}

func codecFor(kind types.KeyKind, r types.KeyRange) unitCodec {
	switch kind {
	case types.KeyInteger:
		return unitCodec{
			toUnits:   func(k any) *big.Int { return big.NewInt(k.(int64)) },
			fromUnits: func(u *big.Int) any { return u.Int64() },
		}
	case types.KeyDecimal:
		// Work at the finer of the two endpoint scales so every boundary
		// is representable.
		scale := int32(0)
		for _, k := range []any{r.Start, r.End} {
			if e := -k.(decimal.Decimal).Exponent(); e > scale {
				scale = e
			}
		}
		return unitCodec{
			toUnits:   func(k any) *big.Int { return k.(decimal.Decimal).Shift(scale).BigInt() },
			fromUnits: func(u *big.Int) any { return decimal.NewFromBigInt(u, -scale) },
		}
	case types.KeyUUID:
		return unitCodec{
			toUnits: func(k any) *big.Int {
				u := k.(uuid.UUID)
				return new(big.Int).SetBytes(u[:])
			},
			fromUnits: func(u *big.Int) any {
				var b [16]byte
				u.FillBytes(b[:])
				return uuid.UUID(b)
			},
		}
	case types.KeyTimestamp:
		return unitCodec{
			toUnits:   func(k any) *big.Int { return big.NewInt(k.(time.Time).UnixMicro()) },
			fromUnits: func(u *big.Int) any { return time.UnixMicro(u.Int64()).UTC() },
		}
	}
	panic(fmt.Sprintf("keyspace: no codec for kind %s", kind))
}

// splitString interpolates boundaries over the printable alphabet past the
// endpoints' common prefix. Boundary collisions simply yield fewer sub-ranges;
// a range whose endpoints only differ beyond the window, or only in characters
// outside the alphabet, comes back whole.
func splitString(r types.KeyRange, parts int) []types.KeyRange {
	start, end := r.Start.(string), r.End.(string)

	p := 0
	for p < len(start) && p < len(end) && start[p] == end[p] {
		p++
	}
	prefix := start[:p]

	lo := stringUnits(start[p:])
	hi := stringUnits(end[p:])
	if r.IncEnd {
		hi = new(big.Int).Add(hi, big.NewInt(1))
	}
	if new(big.Int).Sub(hi, lo).Cmp(big.NewInt(2)) < 0 {
		return []types.KeyRange{r}
	}

	bounds := interpolate(lo, hi, parts)
	out := make([]types.KeyRange, 0, len(bounds)-1)
	prev, prevExc := start, r.ExcStart
	for _, b := range bounds[1 : len(bounds)-1] {
		boundary := prefix + unitsString(b)
		if boundary <= prev || boundary >= end {
			continue
		}
		out = append(out, types.KeyRange{Start: prev, End: boundary, ExcStart: prevExc})
		prev, prevExc = boundary, false
	}
	out = append(out, types.KeyRange{Start: prev, End: end, ExcStart: prevExc, IncEnd: r.IncEnd})
	return out
}

// stringUnits reads the first stringWindow characters of a key suffix as a
// base-95 numeral. Characters outside the alphabet clamp to its nearest edge,
// missing characters count as the lowest digit.
func stringUnits(suffix string) *big.Int {
	base := big.NewInt(stringBase)
	n := new(big.Int)
	for i := 0; i < stringWindow; i++ {
		d := int64(0)
		if i < len(suffix) {
			d = int64(suffix[i]) - stringLowChar
			if d < 0 {
				d = 0
			} else if d > stringBase-1 {
				d = stringBase - 1
			}
		}
		n.Mul(n, base).Add(n, big.NewInt(d))
	}
	return n
}

// unitsString renders a base-95 numeral back into alphabet characters,
// dropping trailing lowest digits so boundaries stay short.
func unitsString(u *big.Int) string {
	base := big.NewInt(stringBase)
	digits := make([]byte, stringWindow)
	n := new(big.Int).Set(u)
	mod := new(big.Int)
	for i := stringWindow - 1; i >= 0; i-- {
		n.DivMod(n, base, mod)
		digits[i] = byte(stringLowChar + mod.Int64())
	}
	last := len(digits)
	for last > 0 && digits[last-1] == stringLowChar {
		last--
	}
	return string(digits[:last])
}
