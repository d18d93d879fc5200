package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/memtrace/types"
)

// VersionCommand returns the version command.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the memtrace version",
		Action: func(c *cli.Context) error {
			fmt.Printf("memtrace %s (format v%d)\n", types.Version, types.FormatVersion)
			return nil
		},
	}
}
