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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Diff     DiffConfig     `yaml:"diff"`
	Postgres PostgresConfig `yaml:"postgres"`
	MySQL    MySQLConfig    `yaml:"mysql"`

	DebugMode bool `yaml:"debug_mode"`
}

type DiffConfig struct {
	BranchingFactor    int   `yaml:"branching_factor"`
	ExactDiffThreshold int64 `yaml:"exact_diff_threshold"`
	MaxDepth           int   `yaml:"max_depth"`

	Workers          int   `yaml:"workers"`
	PerSideQueries   int64 `yaml:"per_side_queries"`
	RetryCount       int   `yaml:"retry_count"`
	RetryMinWaitMs   int   `yaml:"retry_min_wait_ms"`
	RetryMaxWaitMs   int   `yaml:"retry_max_wait_ms"`
	SkipFailedRanges bool  `yaml:"skip_failed_ranges"`
}

type PostgresConfig struct {
	StatementTimeout int   `yaml:"statement_timeout"` // ms
	PoolMaxConns     int32 `yaml:"pool_max_conns"`
}

type MySQLConfig struct {
	MaxOpenConns int `yaml:"max_open_conns"`
}

// Cfg holds the loaded config for the whole app.
var Cfg *Config

// Default returns the built-in configuration used when no config file is
// found. The same values ship in the CLI's embedded default_config.yaml.
func Default() *Config {
	return &Config{
		Diff: DiffConfig{
			BranchingFactor:    10,
			ExactDiffThreshold: 1000,
			MaxDepth:           12,
			Workers:            8,
			PerSideQueries:     4,
			RetryCount:         3,
			RetryMinWaitMs:     250,
			RetryMaxWaitMs:     5000,
		},
		Postgres: PostgresConfig{
			StatementTimeout: 60000,
			PoolMaxConns:     8,
		},
		MySQL: MySQLConfig{
			MaxOpenConns: 8,
		},
	}
}

// Load reads and parses path into a Config. Unset values fall back to the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return c, nil
}

// Init loads the config and assigns it to the package variable.
func Init(path string) error {
	c, err := Load(path)
	if err != nil {
		return err
	}
	Cfg = c
	return nil
}
