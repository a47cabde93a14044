package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskmanager/cli/render"
	"github.com/pithecene-io/taskmanager/iox"
)

// DebugCommand returns the debug command with subcommands.
// Debug commands are opt-in diagnostic tools and never mutate definitions.
func DebugCommand() *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "Diagnostic tools (params)",
		Subcommands: []*cli.Command{
			debugParamsCommand(),
		},
	}
}

func debugParamsCommand() *cli.Command {
	return &cli.Command{
		Name:      "params",
		Usage:     "Show how the parameters of a task resolve and which values each accepts",
		ArgsUsage: "<configuration> <task>",
		Flags:     withConfigFlags(ReadOnlyFlags()...),
		Action:    debugParamsAction,
	}
}

func debugParamsAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("configuration and task names required", exitInvalidInput)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	// TUI not supported for debug commands
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for debug commands", exitInvalidInput)
	}

	app, err := openApp(c.Context, c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(app)

	view, err := app.Reader().TaskParameters(c.Context, c.Args().Get(0), c.Args().Get(1))
	if err != nil {
		return readError(err)
	}
	return r.Render(view)
}
