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

package mysql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henriblancke/data-diff/pkg/types"
)

func testTable() types.TableSpec {
	return types.TableSpec{
		Schema:  "appdb",
		Table:   "accounts",
		Key:     "id",
		KeyKind: types.KeyInteger,
		Columns: []string{"id", "balance"},
	}
}

func newMockSource(t *testing.T) (*Source, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Source{db: db, schemas: make(map[string]map[string]string)}, mock
}

func TestSchema(t *testing.T) {
	src, mock := newMockSource(t)
	mock.ExpectQuery("SELECT column_name, data_type").
		WithArgs("appdb", "accounts").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("id", "bigint").
			AddRow("balance", "decimal"))

	cols, err := src.Schema(context.Background(), testTable())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"id": "bigint", "balance": "decimal"}, cols)

	// Second call comes from the cache; no second query is expected.
	cols, err = src.Schema(context.Background(), testTable())
	require.NoError(t, err)
	assert.Equal(t, "bigint", cols["id"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaUnknownTable(t *testing.T) {
	src, mock := newMockSource(t)
	mock.ExpectQuery("SELECT column_name, data_type").
		WithArgs("appdb", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}))

	table := testTable()
	table.Table = "missing"
	_, err := src.Schema(context.Background(), table)
	assert.ErrorContains(t, err, "not found")
}

func TestBounds(t *testing.T) {
	src, mock := newMockSource(t)
	mock.ExpectQuery("ORDER BY `id` ASC LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(int64(1), int64(5000)))

	min, max, ok, err := src.Bounds(context.Background(), testTable())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), min)
	assert.Equal(t, int64(5000), max)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBoundsEmptyTable(t *testing.T) {
	src, mock := newMockSource(t)
	mock.ExpectQuery("ORDER BY `id` ASC LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(nil, nil))

	_, _, ok, err := src.Bounds(context.Background(), testTable())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCount(t *testing.T) {
	src, mock := newMockSource(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM`).
		WithArgs(int64(10), int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := src.Count(context.Background(), testTable(), types.KeyRange{Start: int64(10), End: int64(20)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChecksum(t *testing.T) {
	src, mock := newMockSource(t)
	mock.ExpectQuery("SELECT column_name, data_type").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("id", "bigint").
			AddRow("balance", "decimal"))
	mock.ExpectQuery(`CONV\(SUBSTRING\(MD5\(CONCAT_WS`).
		WithArgs(int64(0), int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("123456789012345678901"))

	sum, err := src.Checksum(context.Background(), testTable(), types.KeyRange{Start: int64(0), End: int64(100)})
	require.NoError(t, err)
	// Checksums stay opaque strings; values past int64 range must survive.
	assert.Equal(t, "123456789012345678901", sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRows(t *testing.T) {
	src, mock := newMockSource(t)
	mock.ExpectQuery("SELECT column_name, data_type").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("id", "bigint").
			AddRow("balance", "decimal"))
	mock.ExpectQuery("ORDER BY `id` ASC").
		WithArgs(int64(0), int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"key", "id", "balance"}).
			AddRow(int64(1), "1", "10.5").
			AddRow(int64(2), "2", nil))

	it, err := src.Rows(context.Background(), testTable(), types.KeyRange{Start: int64(0), End: int64(100)})
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.Next())
	row := it.Row()
	assert.Equal(t, int64(1), row.Key)
	assert.Equal(t, map[string]any{"id": "1", "balance": "10.5"}, row.Values)

	require.True(t, it.Next())
	row = it.Row()
	assert.Equal(t, int64(2), row.Key)
	assert.Nil(t, row.Values["balance"])

	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "`id`", quoteIdent("id"))
	assert.Equal(t, "`weird``col`", quoteIdent("weird`col"))
}

func TestRangeWhere(t *testing.T) {
	table := testTable()

	where, args := rangeWhere(table, types.KeyRange{Start: int64(10), End: int64(20)})
	assert.Equal(t, "`id` >= ? AND `id` < ?", where)
	assert.Equal(t, []any{int64(10), int64(20)}, args)

	where, _ = rangeWhere(table, types.KeyRange{Start: int64(10), End: int64(20), ExcStart: true, IncEnd: true})
	assert.Equal(t, "`id` > ? AND `id` <= ?", where)

	where, args = rangeWhere(table, types.KeyRange{})
	assert.Equal(t, "TRUE", where)
	assert.Nil(t, args)
}

func TestNormalizeExpr(t *testing.T) {
	tests := []struct {
		name       string
		nativeType string
		contains   []string
	}{
		{name: "decimal", nativeType: "decimal", contains: []string{"TRUNCATE", "TRIM(TRAILING '0'"}},
		{name: "double", nativeType: "double", contains: []string{"TRUNCATE"}},
		{name: "datetime", nativeType: "datetime", contains: []string{"DATE_FORMAT", "%Y-%m-%d %H:%i:%s.%f"}},
		{name: "timestamp", nativeType: "timestamp", contains: []string{"%Y-%m-%d %H:%i:%s.%f"}},
		{name: "date", nativeType: "date", contains: []string{"'%Y-%m-%d'"}},
		{name: "blob", nativeType: "blob", contains: []string{"LOWER(HEX("}},
		{name: "varbinary", nativeType: "varbinary", contains: []string{"LOWER(HEX("}},
		{name: "varchar falls back to cast", nativeType: "varchar", contains: []string{"CAST(`c` AS CHAR)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr := normalizeExpr("c", tt.nativeType)
			for _, want := range tt.contains {
				assert.Contains(t, expr, want)
			}
			assert.Contains(t, expr, "'"+nullMarker+"'")
		})
	}
}

func TestKeyExpr(t *testing.T) {
	table := testTable()
	assert.Equal(t, "`id`", keyExpr(table))

	table.KeyKind = types.KeyUUID
	assert.Equal(t, "CAST(`id` AS CHAR)", keyExpr(table))
}
