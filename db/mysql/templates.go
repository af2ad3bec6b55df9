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

import "text/template"

type Templates struct {
	ColumnTypes *template.Template
	Bounds      *template.Template
	Count       *template.Template
	Checksum    *template.Template
	Rows        *template.Template
}

// SQLTemplates mirrors the Postgres accessor query for query: the checksum
// aggregate must be arithmetically identical on both sides, down to the MD5
// prefix width and the null marker, or every range would look mismatched.
var SQLTemplates = Templates{
	ColumnTypes: template.Must(template.New("columnTypes").Parse(`
        SELECT column_name, data_type
        FROM information_schema.columns
        WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE()) AND table_name = ?
    `)),
	Bounds: template.Must(template.New("bounds").Parse(`
        SELECT
            (SELECT {{.KeyExpr}} FROM {{.SchemaTable}} ORDER BY {{.KeyIdent}} ASC LIMIT 1),
            (SELECT {{.KeyExpr}} FROM {{.SchemaTable}} ORDER BY {{.KeyIdent}} DESC LIMIT 1)
    `)),
	Count: template.Must(template.New("count").Parse(`
        SELECT COUNT(*) FROM {{.SchemaTable}} WHERE {{.Where}}
    `)),
	Checksum: template.Must(template.New("checksum").Parse(`
        SELECT CAST(COALESCE(SUM(CAST(CONV(SUBSTRING(MD5({{.RowExpr}}), 1, 14), 16, 10) AS DECIMAL(39,0))), 0) AS CHAR)
        FROM {{.SchemaTable}} WHERE {{.Where}}
    `)),
	Rows: template.Must(template.New("rows").Parse(`
        SELECT {{.KeyExpr}}{{range .ColExprs}}, {{.}}{{end}}
        FROM {{.SchemaTable}} WHERE {{.Where}}
        ORDER BY {{.KeyIdent}} ASC
    `)),
}
