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

// Package cli wires the diff engine, the database accessors and the report
// writer into the ddiff command line tool.
package cli

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/henriblancke/data-diff/db/mysql"
	"github.com/henriblancke/data-diff/db/postgres"
	"github.com/henriblancke/data-diff/internal/diff"
	"github.com/henriblancke/data-diff/pkg/config"
	"github.com/henriblancke/data-diff/pkg/logger"
	"github.com/henriblancke/data-diff/pkg/report"
	"github.com/henriblancke/data-diff/pkg/types"
)

//go:embed default_config.yaml
var defaultConfigYAML string

func SetupCLI() *cli.App {
	tableDiffFlags := []cli.Flag{
		&cli.StringFlag{
			Name:     "source",
			Aliases:  []string{"s"},
			Usage:    "Source DSN (postgres://... or a mysql DSN)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "target",
			Aliases:  []string{"t"},
			Usage:    "Target DSN (postgres://... or a mysql DSN)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "target-table",
			Usage: "Table name on the target when it differs from the source",
			Value: "",
		},
		&cli.StringFlag{
			Name:    "key",
			Aliases: []string{"k"},
			Usage:   "Ordering key column",
			Value:   "id",
		},
		&cli.StringFlag{
			Name:    "key-type",
			Aliases: []string{"K"},
			Usage:   "Key type: integer, decimal, uuid, timestamp or string",
			Value:   "integer",
		},
		&cli.StringFlag{
			Name:     "columns",
			Aliases:  []string{"c"},
			Usage:    "Comma-separated list of columns to compare",
			Required: true,
		},
		&cli.IntFlag{
			Name:    "branching-factor",
			Aliases: []string{"b"},
			Usage:   "Sub-ranges per bisection",
		},
		&cli.Int64Flag{
			Name:    "threshold",
			Aliases: []string{"u"},
			Usage:   "Max rows in a mismatched range before it is bisected instead of row-diffed",
		},
		&cli.IntFlag{
			Name:    "max-depth",
			Aliases: []string{"m"},
			Usage:   "Max bisection depth",
		},
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Usage:   "Concurrent work items",
		},
		&cli.Int64Flag{
			Name:  "per-side-queries",
			Usage: "Max in-flight queries per database",
		},
		&cli.BoolFlag{
			Name:  "skip-failed",
			Usage: "Skip ranges whose queries exhausted their retries instead of aborting",
		},
		&cli.StringFlag{
			Name:    "output-dir",
			Aliases: []string{"o"},
			Usage:   "Directory for the JSON diff report",
			Value:   ".",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Whether to suppress progress output",
			Value:   false,
		},
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"v"},
			Usage:   "Enable debug logging",
			Value:   false,
		},
	}

	configInitFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "path",
			Aliases: []string{"p"},
			Usage:   "Path to write the config file",
			Value:   "ddiff.yaml",
		},
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"x"},
			Usage:   "Overwrite the config file if it already exists",
		},
		&cli.BoolFlag{
			Name:    "stdout",
			Aliases: []string{"z"},
			Usage:   "Print the config to stdout instead of writing a file",
		},
	}

	app := &cli.App{
		Name:  "ddiff",
		Usage: "data-diff - compare a table across two databases",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Manage ddiff configuration files",
				Subcommands: []*cli.Command{
					{
						Name:   "init",
						Usage:  "Create a default ddiff.yaml file",
						Flags:  configInitFlags,
						Action: ConfigInitCLI,
					},
				},
			},
			{
				Name:      "table-diff",
				Usage:     "Diff one table between a source and a target database",
				ArgsUsage: "<schema.table>",
				Flags:     tableDiffFlags,
				Action:    TableDiffCLI,
				Before: func(ctx *cli.Context) error {
					if ctx.Bool("debug") || (config.Cfg != nil && config.Cfg.DebugMode) {
						logger.SetLevel(log.DebugLevel)
					} else {
						logger.SetLevel(log.InfoLevel)
					}
					return nil
				},
			},
		},
	}

	return app
}

func ConfigInitCLI(ctx *cli.Context) error {
	outputPath := ctx.String("path")
	if outputPath == "" {
		outputPath = "ddiff.yaml"
	}

	if ctx.Bool("stdout") || outputPath == "-" {
		fmt.Println(defaultConfigYAML)
		return nil
	}

	if !ctx.Bool("force") {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", outputPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("unable to verify existing config file at %s: %w", outputPath, err)
		}
	}

	dir := filepath.Dir(outputPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(outputPath, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("failed to write config file to %s: %w", outputPath, err)
	}

	fmt.Printf("Wrote config file to %s\n", outputPath)
	return nil
}

func TableDiffCLI(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("missing required argument for table-diff: needs <schema.table>")
	}
	schema, table := splitTableName(ctx.Args().First())

	kind, err := types.ParseKeyKind(ctx.String("key-type"))
	if err != nil {
		return err
	}
	key := ctx.String("key")
	columns := splitColumns(ctx.String("columns"))
	if len(columns) == 0 {
		return fmt.Errorf("at least one column to compare is required")
	}
	if !containsString(columns, key) {
		columns = append([]string{key}, columns...)
	}

	cfg := config.Cfg
	if cfg == nil {
		cfg = config.Default()
	}
	opts := diff.OptionsFromConfig(cfg.Diff)
	if ctx.IsSet("branching-factor") {
		opts.BranchingFactor = ctx.Int("branching-factor")
	}
	if ctx.IsSet("threshold") {
		opts.ExactDiffThreshold = ctx.Int64("threshold")
	}
	if ctx.IsSet("max-depth") {
		opts.MaxDepth = ctx.Int("max-depth")
	}
	if ctx.IsSet("workers") {
		opts.Workers = ctx.Int("workers")
	}
	if ctx.IsSet("per-side-queries") {
		opts.PerSideQueries = ctx.Int64("per-side-queries")
	}
	if ctx.IsSet("skip-failed") {
		opts.SkipFailedRanges = ctx.Bool("skip-failed")
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sourceTable := types.TableSpec{Schema: schema, Table: table, Key: key, KeyKind: kind, Columns: columns}
	targetTable := sourceTable
	if tt := ctx.String("target-table"); tt != "" {
		targetTable.Schema, targetTable.Table = splitTableName(tt)
	}

	left, err := openSource(runCtx, ctx.String("source"), cfg)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer left.Close()
	right, err := openSource(runCtx, ctx.String("target"), cfg)
	if err != nil {
		return fmt.Errorf("failed to open target: %w", err)
	}
	defer right.Close()

	quiet := ctx.Bool("quiet")
	var progress *mpb.Progress
	var bar *mpb.Bar
	if !quiet {
		progress = mpb.New(mpb.WithWidth(64))
		bar = progress.AddBar(0,
			mpb.PrependDecorators(
				decor.Name("Comparing ranges: ", decor.WC{W: 18}),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Elapsed(decor.ET_STYLE_GO),
			),
		)
		opts.OnProgress = func(resolved, total int64) {
			bar.SetTotal(total, false)
			bar.SetCurrent(resolved)
		}
	}

	engine, err := diff.New(
		diff.NewSide("source", sourceTable, left, opts.PerSideQueries),
		diff.NewSide("target", targetTable, right, opts.PerSideQueries),
		opts,
	)
	if err != nil {
		return err
	}

	stream, err := engine.Run(runCtx)
	if err != nil {
		return fmt.Errorf("error during comparison: %w", err)
	}
	go func() {
		// A signal turns into a clean cancel so partial results survive.
		<-runCtx.Done()
		stream.Cancel()
	}()

	collector := report.NewCollector()
	for rec := range stream.Records() {
		logger.Debug("diff: kind=%s side=%s key=%v", rec.Kind, rec.Side, rec.Key)
		collector.Add(rec)
	}
	if bar != nil {
		bar.SetTotal(-1, true)
		progress.Wait()
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("error during comparison: %w", err)
	}

	summary := stream.Summary()
	if runCtx.Err() != nil {
		logger.Warn("run cancelled; results below are partial")
	}
	logger.Info("checked %d rows across %d range comparisons (%d matched, %d bisected, %d row-diffed, deepest level %d) in %s",
		summary.TotalRowsChecked, summary.RangesCompared, summary.RangesMatched,
		summary.RangesBisected, summary.RangesExactDiff, summary.DeepestLevel, summary.TimeTaken)
	if len(summary.FailedRanges) > 0 {
		logger.Warn("%d range(s) failed and were skipped", len(summary.FailedRanges))
	}

	if collector.Count() == 0 {
		logger.Info("No differences found. Diff file not created.")
		return nil
	}
	path, err := collector.Write(ctx.String("output-dir"), summary)
	if err != nil {
		return err
	}
	logger.Info("%d difference(s) found, diff report written to %s", collector.Count(), path)
	return nil
}

// openSource picks the accessor from the DSN shape: URL-style postgres DSNs
// go to pgx, everything else is treated as a go-sql-driver mysql DSN. A
// mysql:// prefix is accepted and stripped for symmetry.
func openSource(ctx context.Context, dsn string, cfg *config.Config) (diff.Source, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return postgres.New(ctx, dsn, cfg.Postgres)
	case strings.HasPrefix(dsn, "mysql://"):
		return mysql.New(ctx, strings.TrimPrefix(dsn, "mysql://"), cfg.MySQL)
	default:
		return mysql.New(ctx, dsn, cfg.MySQL)
	}
}

func splitTableName(qualified string) (schema, table string) {
	if idx := strings.Index(qualified, "."); idx >= 0 {
		return qualified[:idx], qualified[idx+1:]
	}
	return "", qualified
}

func splitColumns(raw string) []string {
	var cols []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
