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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henriblancke/data-diff/pkg/types"
)

func TestCanonicalInteger(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  int64
	}{
		{name: "int64 passthrough", input: int64(42), want: 42},
		{name: "int", input: 42, want: 42},
		{name: "int32", input: int32(-7), want: -7},
		{name: "bytes from text protocol", input: []byte("1001"), want: 1001},
		{name: "string", input: "0", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonical(types.KeyInteger, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalDecimal(t *testing.T) {
	got, err := Canonical(types.KeyDecimal, "12.340")
	require.NoError(t, err)
	want := decimal.RequireFromString("12.340")
	assert.True(t, want.Equal(got.(decimal.Decimal)))

	got, err = Canonical(types.KeyDecimal, []byte("-0.5"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("-0.5").Equal(got.(decimal.Decimal)))
}

func TestCanonicalUUID(t *testing.T) {
	u := uuid.MustParse("a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11")

	got, err := Canonical(types.KeyUUID, u.String())
	require.NoError(t, err)
	assert.Equal(t, u, got)

	got, err = Canonical(types.KeyUUID, [16]byte(u))
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestCanonicalTimestamp(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	local := time.Date(2025, 6, 1, 8, 30, 0, 123456789, loc)

	got, err := Canonical(types.KeyTimestamp, local)
	require.NoError(t, err)
	ts := got.(time.Time)
	assert.Equal(t, time.UTC, ts.Location())
	// Nanoseconds beyond microsecond precision are dropped.
	assert.Equal(t, 123456000, ts.Nanosecond())
	assert.True(t, ts.Equal(local.Truncate(time.Microsecond)))

	got, err = Canonical(types.KeyTimestamp, "2025-06-01 08:30:00.123456")
	require.NoError(t, err)
	assert.True(t, got.(time.Time).Equal(time.Date(2025, 6, 1, 8, 30, 0, 123456000, time.UTC)))
}

func TestCanonicalString(t *testing.T) {
	got, err := Canonical(types.KeyString, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestCanonicalErrors(t *testing.T) {
	_, err := Canonical(types.KeyInteger, nil)
	assert.Error(t, err)

	_, err = Canonical(types.KeyInteger, 3.14)
	assert.Error(t, err)

	_, err = Canonical(types.KeyUUID, "not-a-uuid")
	assert.Error(t, err)

	_, err = Canonical(types.KeyTimestamp, "yesterday")
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	u1 := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	u2 := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")
	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Microsecond)

	tests := []struct {
		name string
		kind types.KeyKind
		a, b any
		want int
	}{
		{name: "integer less", kind: types.KeyInteger, a: int64(1), b: int64(2), want: -1},
		{name: "integer equal", kind: types.KeyInteger, a: int64(5), b: int64(5), want: 0},
		{name: "decimal greater", kind: types.KeyDecimal,
			a: decimal.RequireFromString("1.5"), b: decimal.RequireFromString("1.25"), want: 1},
		{name: "decimal equal across scales", kind: types.KeyDecimal,
			a: decimal.RequireFromString("1.50"), b: decimal.RequireFromString("1.5"), want: 0},
		{name: "uuid bytewise", kind: types.KeyUUID, a: u1, b: u2, want: -1},
		{name: "timestamp less", kind: types.KeyTimestamp, a: t1, b: t2, want: -1},
		{name: "string bytewise", kind: types.KeyString, a: "abc", b: "abd", want: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.kind, tt.a, tt.b))
		})
	}
}

func TestBindValue(t *testing.T) {
	assert.Equal(t, int64(7), BindValue(types.KeyInteger, int64(7)))
	assert.Equal(t, "1.25", BindValue(types.KeyDecimal, decimal.New(125, -2)))

	u := uuid.MustParse("a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11")
	assert.Equal(t, u.String(), BindValue(types.KeyUUID, u))
}

func TestFormatKey(t *testing.T) {
	assert.Equal(t, "<nil>", FormatKey(types.KeyInteger, nil))
	assert.Equal(t, "42", FormatKey(types.KeyInteger, int64(42)))
	assert.Equal(t, "2025-01-01 00:00:00.000123",
		FormatKey(types.KeyTimestamp, time.Date(2025, 1, 1, 0, 0, 0, 123000, time.UTC)))
}
