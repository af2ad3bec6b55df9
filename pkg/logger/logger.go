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

// Package logger holds the process-wide logger. Everything logs to stderr so
// report output on stdout stays clean.
package logger

import (
	"os"

	"github.com/charmbracelet/log"
)

var Log = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
})

// SetLevel sets the level for the process-wide logger.
func SetLevel(level log.Level) {
	Log.SetLevel(level)
}

func Debug(format string, args ...any) {
	Log.Debugf(format, args...)
}

func Info(format string, args ...any) {
	Log.Infof(format, args...)
}

func Warn(format string, args ...any) {
	Log.Warnf(format, args...)
}

func Error(format string, args ...any) {
	Log.Errorf(format, args...)
}

func Fatal(format string, args ...any) {
	Log.Fatalf(format, args...)
}
