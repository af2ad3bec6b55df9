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

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/henriblancke/data-diff/internal/cli"
	"github.com/henriblancke/data-diff/pkg/config"
	"github.com/henriblancke/data-diff/pkg/logger"
)

func main() {
	if !shouldSkipConfig(os.Args[1:]) {
		potentialPaths := []string{}

		// This is the order of precedence for finding the config file.
		// 1. env var (DDIFF_CONFIG)
		// 2. current dir
		// 3. $HOME/.config/ddiff/
		// 4. /etc/ddiff/
		if envPath := os.Getenv("DDIFF_CONFIG"); envPath != "" {
			potentialPaths = append(potentialPaths, envPath)
		}

		potentialPaths = append(potentialPaths, "ddiff.yaml")
		if home, err := os.UserHomeDir(); err == nil {
			p := filepath.Join(home, ".config", "ddiff", "ddiff.yaml")
			potentialPaths = append(potentialPaths, p)
		}

		potentialPaths = append(potentialPaths, "/etc/ddiff/ddiff.yaml")

		var cfgPath string
		for _, p := range potentialPaths {
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
				break
			}
		}

		// Every tunable has a flag, so a missing config file just means
		// built-in defaults.
		if cfgPath == "" {
			config.Cfg = config.Default()
		} else if err := config.Init(cfgPath); err != nil {
			logger.Fatal("loading config (%s): %v", cfgPath, err)
		}
	}

	app := cli.SetupCLI()
	err := app.Run(os.Args)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func shouldSkipConfig(args []string) bool {
	if len(args) == 0 {
		return true
	}

	for _, arg := range args {
		if arg == "--help" || arg == "-h" || arg == "help" {
			return true
		}
	}

	var commandPath []string
	for _, arg := range args {
		if arg == "--" {
			break
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		commandPath = append(commandPath, arg)
		if len(commandPath) >= 2 {
			break
		}
	}

	if len(commandPath) == 0 {
		return true
	}

	if commandPath[0] == "config" {
		return true
	}

	return false
}
