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

// Package mysql implements the table accessor for MySQL/MariaDB on top of
// database/sql and the go-sql-driver.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/henriblancke/data-diff/internal/diff"
	"github.com/henriblancke/data-diff/pkg/config"
	"github.com/henriblancke/data-diff/pkg/keyspace"
	"github.com/henriblancke/data-diff/pkg/types"
)

// nullMarker must match the Postgres accessor's marker byte for byte.
const nullMarker = "<null>"

type Source struct {
	db *sql.DB

	mu      sync.Mutex
	schemas map[string]map[string]string
}

// New opens a pool for one side. Timestamps are forced to UTC on the session
// so DATE_FORMAT output lines up with the Postgres side's AT TIME ZONE 'UTC'.
func New(ctx context.Context, dsn string, cfg config.MySQLConfig) (*Source, error) {
	mycfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql DSN: %w", err)
	}
	mycfg.ParseTime = true
	mycfg.Loc = time.UTC
	if mycfg.Params == nil {
		mycfg.Params = make(map[string]string)
	}
	mycfg.Params["time_zone"] = "'+00:00'"

	db, err := sql.Open("mysql", mycfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}
	return &Source{
		db:      db,
		schemas: make(map[string]map[string]string),
	}, nil
}

func (s *Source) Dialect() string { return "mysql" }

func (s *Source) Close() { s.db.Close() }

func quoteIdent(identifier string) string {
	return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
}

func (s *Source) schemaTable(t types.TableSpec) string {
	if t.Schema == "" {
		return quoteIdent(t.Table)
	}
	return quoteIdent(t.Schema) + "." + quoteIdent(t.Table)
}

func (s *Source) Schema(ctx context.Context, table types.TableSpec) (map[string]string, error) {
	s.mu.Lock()
	if cached, ok := s.schemas[table.QualifiedName()]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	querySQL := renderSQL(SQLTemplates.ColumnTypes, nil)
	rows, err := s.db.QueryContext(ctx, querySQL, table.Schema, table.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to read column types for %s: %w", table.QualifiedName(), err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		cols[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s not found or not readable", table.QualifiedName())
	}

	s.mu.Lock()
	s.schemas[table.QualifiedName()] = cols
	s.mu.Unlock()
	return cols, nil
}

func (s *Source) Bounds(ctx context.Context, table types.TableSpec) (any, any, bool, error) {
	querySQL := renderSQL(SQLTemplates.Bounds, map[string]any{
		"KeyExpr":     keyExpr(table),
		"KeyIdent":    quoteIdent(table.Key),
		"SchemaTable": s.schemaTable(table),
	})

	var rawMin, rawMax any
	if err := s.db.QueryRowContext(ctx, querySQL).Scan(&rawMin, &rawMax); err != nil {
		return nil, nil, false, fmt.Errorf("bounds query failed for %s: %w", table.QualifiedName(), err)
	}
	if rawMin == nil || rawMax == nil {
		return nil, nil, false, nil
	}

	min, err := keyspace.Canonical(table.KeyKind, rawMin)
	if err != nil {
		return nil, nil, false, err
	}
	max, err := keyspace.Canonical(table.KeyKind, rawMax)
	if err != nil {
		return nil, nil, false, err
	}
	return min, max, true, nil
}

func (s *Source) Count(ctx context.Context, table types.TableSpec, r types.KeyRange) (int64, error) {
	where, args := rangeWhere(table, r)
	querySQL := renderSQL(SQLTemplates.Count, map[string]any{
		"SchemaTable": s.schemaTable(table),
		"Where":       where,
	})

	var count int64
	if err := s.db.QueryRowContext(ctx, querySQL, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count query failed for %s range %s: %w", table.QualifiedName(), r, err)
	}
	return count, nil
}

func (s *Source) Checksum(ctx context.Context, table types.TableSpec, r types.KeyRange) (string, error) {
	colTypes, err := s.Schema(ctx, table)
	if err != nil {
		return "", err
	}

	exprs := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		exprs[i] = normalizeExpr(col, colTypes[col])
	}
	where, args := rangeWhere(table, r)
	querySQL := renderSQL(SQLTemplates.Checksum, map[string]any{
		"RowExpr":     fmt.Sprintf("CONCAT_WS('|', %s)", strings.Join(exprs, ", ")),
		"SchemaTable": s.schemaTable(table),
		"Where":       where,
	})

	var sum string
	if err := s.db.QueryRowContext(ctx, querySQL, args...).Scan(&sum); err != nil {
		return "", fmt.Errorf("checksum query failed for %s range %s: %w", table.QualifiedName(), r, err)
	}
	return sum, nil
}

func (s *Source) Rows(ctx context.Context, table types.TableSpec, r types.KeyRange) (diff.RowIter, error) {
	colTypes, err := s.Schema(ctx, table)
	if err != nil {
		return nil, err
	}

	exprs := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		exprs[i] = normalizeExpr(col, colTypes[col])
	}
	where, args := rangeWhere(table, r)
	querySQL := renderSQL(SQLTemplates.Rows, map[string]any{
		"KeyExpr":     keyExpr(table),
		"KeyIdent":    quoteIdent(table.Key),
		"SchemaTable": s.schemaTable(table),
		"Where":       where,
		"ColExprs":    exprs,
	})

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("row query failed for %s range %s: %w", table.QualifiedName(), r, err)
	}
	return &rowIter{rows: rows, table: table}, nil
}

type rowIter struct {
	rows  *sql.Rows
	table types.TableSpec
	cur   types.Row
	err   error
}

func (it *rowIter) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}

	var rawKey any
	cols := make([]sql.NullString, len(it.table.Columns))
	destPtrs := make([]any, 0, 1+len(cols))
	destPtrs = append(destPtrs, &rawKey)
	for i := range cols {
		destPtrs = append(destPtrs, &cols[i])
	}
	if err := it.rows.Scan(destPtrs...); err != nil {
		it.err = err
		return false
	}

	key, err := keyspace.Canonical(it.table.KeyKind, rawKey)
	if err != nil {
		it.err = err
		return false
	}

	values := make(map[string]any, len(cols))
	for i, col := range it.table.Columns {
		if cols[i].Valid {
			values[col] = cols[i].String
		} else {
			values[col] = nil
		}
	}
	it.cur = types.Row{Key: key, Values: values}
	return true
}

func (it *rowIter) Row() types.Row { return it.cur }

func (it *rowIter) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *rowIter) Close() { it.rows.Close() }

func keyExpr(table types.TableSpec) string {
	ident := quoteIdent(table.Key)
	switch table.KeyKind {
	case types.KeyUUID, types.KeyDecimal:
		return fmt.Sprintf("CAST(%s AS CHAR)", ident)
	default:
		return ident
	}
}

func rangeWhere(table types.TableSpec, r types.KeyRange) (string, []any) {
	ident := quoteIdent(table.Key)
	var conds []string
	var args []any

	if r.Start != nil {
		op := ">="
		if r.ExcStart {
			op = ">"
		}
		conds = append(conds, fmt.Sprintf("%s %s ?", ident, op))
		args = append(args, keyspace.BindValue(table.KeyKind, r.Start))
	}
	if r.End != nil {
		op := "<"
		if r.IncEnd {
			op = "<="
		}
		conds = append(conds, fmt.Sprintf("%s %s ?", ident, op))
		args = append(args, keyspace.BindValue(table.KeyKind, r.End))
	}
	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), args
}

// normalizeExpr must stay in lockstep with the Postgres accessor: the same
// logical value has to render to the same text on both sides.
func normalizeExpr(col, nativeType string) string {
	ident := quoteIdent(col)
	t := strings.ToLower(nativeType)

	var expr string
	switch {
	case strings.Contains(t, "decimal") || strings.Contains(t, "double") || strings.Contains(t, "float"):
		expr = fmt.Sprintf(
			"(CASE WHEN %s = TRUNCATE(%s, 0) THEN CAST(TRUNCATE(%s, 0) AS CHAR)"+
				" ELSE TRIM(TRAILING '0' FROM CAST(%s AS CHAR)) END)",
			ident, ident, ident, ident)
	case strings.Contains(t, "datetime") || strings.Contains(t, "timestamp"):
		expr = fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d %%H:%%i:%%s.%%f')", ident)
	case strings.Contains(t, "date"):
		expr = fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d')", ident)
	case strings.Contains(t, "blob") || strings.Contains(t, "binary"):
		expr = fmt.Sprintf("LOWER(HEX(%s))", ident)
	default:
		expr = fmt.Sprintf("CAST(%s AS CHAR)", ident)
	}
	return fmt.Sprintf("COALESCE(%s, '%s')", expr, nullMarker)
}

func renderSQL(tmpl *template.Template, data any) string {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		panic(fmt.Sprintf("mysql: template %s: %v", tmpl.Name(), err))
	}
	return sb.String()
}
