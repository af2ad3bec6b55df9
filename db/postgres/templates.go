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

package postgres

import "text/template"

type Templates struct {
	ColumnTypes *template.Template
	Bounds      *template.Template
	Count       *template.Template
	Checksum    *template.Template
	Rows        *template.Template
}

// SQLTemplates holds every query this accessor issues. The checksum sums the
// leading 56 bits of each row's MD5 so the aggregate stays inside a bigint
// per row and never overflows the numeric sum; MySQL renders the exact same
// aggregate, which is what makes the two sides comparable.
var SQLTemplates = Templates{
	ColumnTypes: template.Must(template.New("columnTypes").Parse(`
        SELECT column_name, data_type
        FROM information_schema.columns
        WHERE table_schema = $1 AND table_name = $2
    `)),
	Bounds: template.Must(template.New("bounds").Parse(`
        SELECT
            (SELECT {{.KeyExpr}} FROM {{.SchemaTable}} ORDER BY {{.KeyIdent}} ASC LIMIT 1),
            (SELECT {{.KeyExpr}} FROM {{.SchemaTable}} ORDER BY {{.KeyIdent}} DESC LIMIT 1)
    `)),
	Count: template.Must(template.New("count").Parse(`
        SELECT count(*) FROM {{.SchemaTable}} WHERE {{.Where}}
    `)),
	Checksum: template.Must(template.New("checksum").Parse(`
        SELECT COALESCE(sum(('x' || lpad(substring(md5({{.RowExpr}}), 1, 14), 16, '0'))::bit(64)::bigint), 0)::text
        FROM {{.SchemaTable}} WHERE {{.Where}}
    `)),
	Rows: template.Must(template.New("rows").Parse(`
        SELECT {{.KeyExpr}}{{range .ColExprs}}, {{.}}{{end}}
        FROM {{.SchemaTable}} WHERE {{.Where}}
        ORDER BY {{.KeyIdent}} ASC
    `)),
}
