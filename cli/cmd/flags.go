// Package cmd defines the memtrace CLI commands.
package cmd

import (
	"github.com/urfave/cli/v2"
)

// CommonFlags are shared by every command.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to memtrace.yaml (default: ./memtrace.yaml if present)",
		},
	}
}

// ReadOnlyFlags are shared by the read-only commands (inspect, stats).
func ReadOnlyFlags() []cli.Flag {
	return append(CommonFlags(),
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Output format: json, table, or yaml (default: table on TTY, json otherwise)",
		},
		&cli.BoolFlag{
			Name:  "tui",
			Usage: "Interactive terminal view",
		},
	)
}
