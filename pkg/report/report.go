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

// Package report collects diff records from a run and writes the JSON report
// file.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/henriblancke/data-diff/pkg/types"
)

// Report is the JSON document written after a diff run.
type Report struct {
	Summary types.Summary      `json:"summary"`
	Diffs   []types.DiffRecord `json:"diffs"`
}

// Collector accumulates records as they stream out of the engine. Not safe
// for concurrent use; the CLI consumes the stream from a single goroutine.
type Collector struct {
	diffs []types.DiffRecord
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Add(rec types.DiffRecord) {
	c.diffs = append(c.diffs, rec)
}

func (c *Collector) Count() int { return len(c.diffs) }

// FileName builds the report file name for a table, stamped to the second so
// repeated runs don't clobber each other.
func FileName(schema, table string, now time.Time) string {
	name := strings.ReplaceAll(table, ".", "_")
	if schema != "" {
		name = strings.ReplaceAll(schema, ".", "_") + "_" + name
	}
	return fmt.Sprintf("%s_diffs-%s.json", name, now.Format("20060102150405"))
}

// Write marshals the report to dir. Returns the path written. The caller
// decides whether to write at all; an empty diff run usually skips the file.
func (c *Collector) Write(dir string, summary types.Summary) (string, error) {
	path := filepath.Join(dir, FileName(summary.Schema, summary.Table, time.Now()))

	data, err := json.MarshalIndent(Report{Summary: summary, Diffs: c.diffs}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal diff report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write diff report %s: %w", path, err)
	}
	return path, nil
}
