package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/memtrace/cli/reader"
	"github.com/justapithecus/memtrace/cli/render"
)

// InspectCommand returns the inspect command.
// Inspect summarizes a binary export file from its header alone.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Summarize a binary export file",
		ArgsUsage: "<file>",
		Flags:     ReadOnlyFlags(),
		Action:    inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("inspect requires exactly one file argument")
	}

	summary, err := reader.InspectFile(c.Args().First())
	if err != nil {
		return err
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return r.RenderTUI("inspect_file", summary)
	}
	return r.Render(summary)
}
