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

// Package keyspace implements the ordered key domains a table can be diffed
// over: comparison, canonicalization of driver-scanned values and even range
// splitting per key kind.
package keyspace

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/henriblancke/data-diff/pkg/types"
)

// Canonical converts a value scanned from a database driver into the single
// in-memory representation used for the given key kind: int64,
// decimal.Decimal, uuid.UUID, time.Time (UTC, microsecond precision) or
// string. Both accessors funnel key values through this before they reach the
// engine, so comparisons never see mixed driver types.
func Canonical(kind types.KeyKind, v any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("nil key value for kind %s", kind)
	}
	switch kind {
	case types.KeyInteger:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case uint64:
			return int64(n), nil
		case []byte:
			return strconv.ParseInt(string(n), 10, 64)
		case string:
			return strconv.ParseInt(n, 10, 64)
		}
	case types.KeyDecimal:
		switch n := v.(type) {
		case decimal.Decimal:
			return n, nil
		case string:
			return decimal.NewFromString(n)
		case []byte:
			return decimal.NewFromString(string(n))
		case int64:
			return decimal.NewFromInt(n), nil
		case float64:
			return decimal.NewFromFloat(n), nil
		}
	case types.KeyUUID:
		switch n := v.(type) {
		case uuid.UUID:
			return n, nil
		case [16]byte:
			return uuid.UUID(n), nil
		case string:
			return uuid.Parse(n)
		case []byte:
			if len(n) == 16 {
				return uuid.FromBytes(n)
			}
			return uuid.ParseBytes(n)
		}
	case types.KeyTimestamp:
		switch n := v.(type) {
		case time.Time:
			return n.UTC().Truncate(time.Microsecond), nil
		case string:
			return parseTimestamp(n)
		case []byte:
			return parseTimestamp(string(n))
		}
	case types.KeyString:
		switch n := v.(type) {
		case string:
			return n, nil
		case []byte:
			return string(n), nil
		}
	}
	return nil, fmt.Errorf("cannot canonicalize %T as %s key", v, kind)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Compare orders two canonical key values. Panics on non-canonical input, so
// callers must go through Canonical first.
func Compare(kind types.KeyKind, a, b any) int {
	switch kind {
	case types.KeyInteger:
		x, y := a.(int64), b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case types.KeyDecimal:
		return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
	case types.KeyUUID:
		x, y := a.(uuid.UUID), b.(uuid.UUID)
		return bytes.Compare(x[:], y[:])
	case types.KeyTimestamp:
		x, y := a.(time.Time), b.(time.Time)
		switch {
		case x.Before(y):
			return -1
		case x.After(y):
			return 1
		}
		return 0
	case types.KeyString:
		x, y := a.(string), b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	panic(fmt.Sprintf("keyspace: unknown kind %s", kind))
}

// BindValue converts a canonical key into a value suitable for binding as a
// query parameter in either SQL dialect.
func BindValue(kind types.KeyKind, k any) any {
	switch kind {
	case types.KeyDecimal:
		return k.(decimal.Decimal).String()
	case types.KeyUUID:
		return k.(uuid.UUID).String()
	default:
		return k
	}
}

// FormatKey renders a canonical key for reports and log lines.
func FormatKey(kind types.KeyKind, k any) string {
	if k == nil {
		return "<nil>"
	}
	if kind == types.KeyTimestamp {
		return k.(time.Time).Format("2006-01-02 15:04:05.999999")
	}
	return fmt.Sprintf("%v", k)
}
