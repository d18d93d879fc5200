package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/memtrace/cli/reader"
	"github.com/justapithecus/memtrace/cli/render"
)

// StatsCommand returns the stats command.
// Stats aggregates record-level facts from a binary export file.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Show allocation statistics for a binary export file",
		ArgsUsage: "<file>",
		Flags:     ReadOnlyFlags(),
		Action:    statsAction,
	}
}

func statsAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("stats requires exactly one file argument")
	}

	stats, err := reader.StatsFile(c.Args().First())
	if err != nil {
		return err
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return r.RenderTUI("stats_file", stats)
	}
	return r.Render(stats)
}
