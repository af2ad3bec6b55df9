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

package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTableName(t *testing.T) {
	schema, table := splitTableName("public.accounts")
	assert.Equal(t, "public", schema)
	assert.Equal(t, "accounts", table)

	schema, table = splitTableName("accounts")
	assert.Equal(t, "", schema)
	assert.Equal(t, "accounts", table)
}

func TestSplitColumns(t *testing.T) {
	assert.Equal(t, []string{"id", "name", "balance"}, splitColumns("id, name ,balance"))
	assert.Nil(t, splitColumns(" , ,"))
}

func TestDefaultConfigIsEmbedded(t *testing.T) {
	assert.Contains(t, defaultConfigYAML, "branching_factor: 10")
	assert.Contains(t, defaultConfigYAML, "exact_diff_threshold: 1000")
	assert.Contains(t, defaultConfigYAML, "per_side_queries: 4")
}

func TestConfigInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ddiff.yaml")

	app := SetupCLI()
	require.NoError(t, app.Run([]string{"ddiff", "config", "init", "--path", path}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, defaultConfigYAML, string(data))

	// Without --force a second init must refuse to overwrite.
	err = app.Run([]string{"ddiff", "config", "init", "--path", path})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already exists"))

	require.NoError(t, app.Run([]string{"ddiff", "config", "init", "--path", path, "--force"}))
}

func TestTableDiffRejectsBadKeyType(t *testing.T) {
	app := SetupCLI()
	err := app.Run([]string{"ddiff", "table-diff",
		"--source", "postgres://localhost/a",
		"--target", "postgres://localhost/b",
		"--key-type", "float",
		"--columns", "id,val",
		"public.accounts",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key type")
}

func TestTableDiffRequiresTableArgument(t *testing.T) {
	app := SetupCLI()
	err := app.Run([]string{"ddiff", "table-diff",
		"--source", "postgres://localhost/a",
		"--target", "postgres://localhost/b",
		"--columns", "id,val",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs <schema.table>")
}
