package cmd

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskmanager/cli/render"
	"github.com/pithecene-io/taskmanager/iox"
	"github.com/pithecene-io/taskmanager/lode"
	"github.com/pithecene-io/taskmanager/store"
)

// InspectCommand returns the inspect command with subcommands.
// Inspect returns a deep view of a single entity.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a single entity (batch-run, batch)",
		Subcommands: []*cli.Command{
			inspectBatchRunCommand(),
			inspectBatchCommand(),
		},
	}
}

func inspectBatchRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch-run",
		Usage:     "Inspect a batch run by ID",
		ArgsUsage: "<batch-run-id>",
		Flags:     withConfigFlags(TUIReadOnlyFlags()...),
		Action:    inspectBatchRunAction,
	}
}

func inspectBatchRunAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("batch-run-id required", exitInvalidInput)
	}
	id := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	app, err := openApp(c.Context, c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(app)

	view, err := app.Reader().InspectBatchRun(c.Context, id)
	if err != nil {
		return readError(err)
	}

	if c.Bool("tui") {
		return r.RenderTUI("inspect_batch_run", view)
	}
	return r.Render(view)
}

func inspectBatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "Inspect a batch definition by name",
		ArgsUsage: "<batch>",
		Flags:     withConfigFlags(TUIReadOnlyFlags()...),
		Action:    inspectBatchAction,
	}
}

func inspectBatchAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("batch name required", exitInvalidInput)
	}
	name := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	app, err := openApp(c.Context, c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(app)

	view, err := app.Reader().InspectBatch(c.Context, name)
	if err != nil {
		return readError(err)
	}

	if c.Bool("tui") {
		return r.RenderTUI("inspect_batch", view)
	}
	return r.Render(view)
}

// readError maps lookup failures of read-only commands to exit codes.
// Missing entities are invalid input; anything else is a failure.
func readError(err error) error {
	var exit cli.ExitCoder
	if errors.As(err, &exit) {
		return err
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, lode.ErrBatchRunNotFound) {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	return cli.Exit(err.Error(), exitFailed)
}
