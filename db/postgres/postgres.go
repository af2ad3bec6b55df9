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

// Package postgres implements the table accessor for PostgreSQL on top of a
// pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/henriblancke/data-diff/internal/diff"
	"github.com/henriblancke/data-diff/pkg/config"
	"github.com/henriblancke/data-diff/pkg/keyspace"
	"github.com/henriblancke/data-diff/pkg/types"
)

// nullMarker stands in for SQL NULL inside the per-row hash input and the
// fetched normalized values. Both accessors must use the same marker.
const nullMarker = "<null>"

type Source struct {
	pool *pgxpool.Pool

	mu      sync.Mutex
	schemas map[string]map[string]string
}

// New connects a pool for one side. The statement timeout guards runaway
// checksum queries on very large ranges.
func New(ctx context.Context, dsn string, cfg config.PostgresConfig) (*Source, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres DSN: %w", err)
	}
	if cfg.PoolMaxConns > 0 {
		poolCfg.MaxConns = cfg.PoolMaxConns
	}
	if cfg.StatementTimeout > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout)
	}
	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &Source{
		pool:    pool,
		schemas: make(map[string]map[string]string),
	}, nil
}

func (s *Source) Dialect() string { return "postgres" }

func (s *Source) Close() { s.pool.Close() }

func sanitise(identifier string) string {
	return pgx.Identifier{identifier}.Sanitize()
}

func (s *Source) schemaTable(t types.TableSpec) string {
	if t.Schema == "" {
		return sanitise(t.Table)
	}
	return sanitise(t.Schema) + "." + sanitise(t.Table)
}

func (s *Source) Schema(ctx context.Context, table types.TableSpec) (map[string]string, error) {
	s.mu.Lock()
	if cached, ok := s.schemas[table.QualifiedName()]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	schema := table.Schema
	if schema == "" {
		schema = "public"
	}
	querySQL := renderSQL(SQLTemplates.ColumnTypes, nil)

	rows, err := s.pool.Query(ctx, querySQL, schema, table.Table)
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
		"KeyIdent":    sanitise(table.Key),
		"SchemaTable": s.schemaTable(table),
	})

	var rawMin, rawMax any
	if err := s.pool.QueryRow(ctx, querySQL).Scan(&rawMin, &rawMax); err != nil {
		return nil, nil, false, fmt.Errorf("bounds query failed for %s: %w", table.QualifiedName(), err)
	}
	if rawMin == nil || rawMax == nil {
		return nil, nil, false, nil
	}

	min, err := keyspace.Canonical(table.KeyKind, decodeValue(rawMin))
	if err != nil {
		return nil, nil, false, err
	}
	max, err := keyspace.Canonical(table.KeyKind, decodeValue(rawMax))
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
	if err := s.pool.QueryRow(ctx, querySQL, args...).Scan(&count); err != nil {
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
		"RowExpr":     fmt.Sprintf("concat_ws('|', %s)", strings.Join(exprs, ", ")),
		"SchemaTable": s.schemaTable(table),
		"Where":       where,
	})

	var sum string
	if err := s.pool.QueryRow(ctx, querySQL, args...).Scan(&sum); err != nil {
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
		"KeyIdent":    sanitise(table.Key),
		"SchemaTable": s.schemaTable(table),
		"Where":       where,
		"ColExprs":    exprs,
	})

	pgRows, err := s.pool.Query(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("row query failed for %s range %s: %w", table.QualifiedName(), r, err)
	}
	return &rowIter{rows: pgRows, table: table}, nil
}

type rowIter struct {
	rows  pgx.Rows
	table types.TableSpec
	cur   types.Row
	err   error
}

func (it *rowIter) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}

	dest := make([]any, 1+len(it.table.Columns))
	destPtrs := make([]any, len(dest))
	for i := range dest {
		destPtrs[i] = &dest[i]
	}
	if err := it.rows.Scan(destPtrs...); err != nil {
		it.err = err
		return false
	}

	key, err := keyspace.Canonical(it.table.KeyKind, decodeValue(dest[0]))
	if err != nil {
		it.err = err
		return false
	}

	values := make(map[string]any, len(it.table.Columns))
	for i, col := range it.table.Columns {
		values[col] = dest[i+1]
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

// decodeValue unwraps pgtype shims that pgx hands back for types without a
// native Go mapping, so canonicalization only sees plain Go values.
func decodeValue(v any) any {
	switch tv := v.(type) {
	case pgtype.Numeric:
		if tv.Status != pgtype.Present {
			return nil
		}
		var s string
		if err := tv.AssignTo(&s); err != nil {
			return nil
		}
		return s
	case pgtype.Timestamp:
		if tv.Status != pgtype.Present {
			return nil
		}
		return tv.Time
	case pgtype.Timestamptz:
		if tv.Status != pgtype.Present {
			return nil
		}
		return tv.Time
	case pgtype.Date:
		if tv.Status != pgtype.Present {
			return nil
		}
		return tv.Time
	case pgtype.UUID:
		if tv.Status != pgtype.Present {
			return nil
		}
		return tv.Bytes
	case [16]byte:
		return tv
	default:
		return v
	}
}

// keyExpr renders the key column for selection. Kinds whose native pgx
// mapping is awkward to round-trip come back as text.
func keyExpr(table types.TableSpec) string {
	ident := sanitise(table.Key)
	switch table.KeyKind {
	case types.KeyUUID, types.KeyDecimal:
		return ident + "::text"
	default:
		return ident
	}
}

// rangeWhere renders the range predicate, half-open unless the range flags
// say otherwise. A nil end leaves the range unbounded above.
func rangeWhere(table types.TableSpec, r types.KeyRange) (string, []any) {
	ident := sanitise(table.Key)
	var conds []string
	var args []any

	if r.Start != nil {
		op := ">="
		if r.ExcStart {
			op = ">"
		}
		args = append(args, keyspace.BindValue(table.KeyKind, r.Start))
		conds = append(conds, fmt.Sprintf("%s %s $%d", ident, op, len(args)))
	}
	if r.End != nil {
		op := "<"
		if r.IncEnd {
			op = "<="
		}
		args = append(args, keyspace.BindValue(table.KeyKind, r.End))
		conds = append(conds, fmt.Sprintf("%s %s $%d", ident, op, len(args)))
	}
	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), args
}

// normalizeExpr renders a compared column as text so that a logically equal
// value hashes identically on both backends. Type normalization must stay in
// lockstep with the MySQL accessor; skew produces false positives, which is
// the documented limitation rather than a checksum bug.
func normalizeExpr(col, nativeType string) string {
	ident := sanitise(col)
	t := strings.ToLower(nativeType)

	var expr string
	switch {
	case strings.Contains(t, "bool"):
		expr = fmt.Sprintf("(CASE WHEN %s THEN '1' ELSE '0' END)", ident)
	case strings.Contains(t, "numeric") || strings.Contains(t, "decimal") ||
		strings.Contains(t, "double") || strings.Contains(t, "real"):
		expr = fmt.Sprintf(
			"(CASE WHEN %s::numeric = trunc(%s::numeric) THEN trunc(%s::numeric)::text"+
				" ELSE trim(trailing '0' from %s::numeric::text) END)",
			ident, ident, ident, ident)
	case strings.Contains(t, "timestamp with time zone"):
		expr = fmt.Sprintf("to_char(%s AT TIME ZONE 'UTC', 'YYYY-MM-DD HH24:MI:SS.US')", ident)
	case strings.Contains(t, "timestamp"):
		expr = fmt.Sprintf("to_char(%s, 'YYYY-MM-DD HH24:MI:SS.US')", ident)
	case strings.Contains(t, "date"):
		expr = fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", ident)
	case strings.Contains(t, "uuid"):
		expr = fmt.Sprintf("lower(%s::text)", ident)
	case strings.Contains(t, "bytea"):
		expr = fmt.Sprintf("encode(%s, 'hex')", ident)
	default:
		expr = ident + "::text"
	}
	return fmt.Sprintf("coalesce(%s, '%s')", expr, nullMarker)
}

func renderSQL(tmpl *template.Template, data any) string {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		panic(fmt.Sprintf("postgres: template %s: %v", tmpl.Name(), err))
	}
	return sb.String()
}
