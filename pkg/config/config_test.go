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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ddiff.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 10, c.Diff.BranchingFactor)
	assert.Equal(t, int64(1000), c.Diff.ExactDiffThreshold)
	assert.Equal(t, 12, c.Diff.MaxDepth)
	assert.Equal(t, int64(4), c.Diff.PerSideQueries)
	assert.False(t, c.Diff.SkipFailedRanges)
	assert.Equal(t, 60000, c.Postgres.StatementTimeout)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
diff:
  branching_factor: 32
  skip_failed_ranges: true
postgres:
  pool_max_conns: 2
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 32, c.Diff.BranchingFactor)
	assert.True(t, c.Diff.SkipFailedRanges)
	assert.Equal(t, int32(2), c.Postgres.PoolMaxConns)

	// Unset values keep their defaults.
	assert.Equal(t, int64(1000), c.Diff.ExactDiffThreshold)
	assert.Equal(t, 12, c.Diff.MaxDepth)
	assert.Equal(t, 8, c.MySQL.MaxOpenConns)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "diff: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestInitSetsPackageConfig(t *testing.T) {
	path := writeConfig(t, "debug_mode: true\n")
	require.NoError(t, Init(path))
	require.NotNil(t, Cfg)
	assert.True(t, Cfg.DebugMode)
}
