package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskmanager/bulk"
	"github.com/pithecene-io/taskmanager/cli/render"
	"github.com/pithecene-io/taskmanager/iox"
	"github.com/pithecene-io/taskmanager/types"
)

// BulkRunResult summarizes a bulk run.
type BulkRunResult struct {
	Dispatched        int `json:"dispatched"`
	Completed         int `json:"completed"`
	Committed         int `json:"committed"`
	Failed            int `json:"failed"`
	NeedsIntervention int `json:"needs_intervention"`
}

// ExitCode maps the summary to the exit code of the worst batch run.
func (r BulkRunResult) ExitCode() int {
	switch {
	case r.NeedsIntervention > 0:
		return exitNeedsIntervention
	case r.Failed > 0 || r.Completed < r.Dispatched:
		return exitFailed
	default:
		return exitCommitted
	}
}

// ImportCSVResult lists the configurations created by import-csv.
type ImportCSVResult struct {
	Template       string   `json:"template"`
	Configurations []string `json:"configurations"`
}

// BulkCommand returns the bulk command with subcommands.
// Subcommands that change definitions write them back to the definitions
// archive and refuse to run without one.
func BulkCommand() *cli.Command {
	return &cli.Command{
		Name:  "bulk",
		Usage: "Operate on many definitions at once",
		Subcommands: []*cli.Command{
			bulkClearCommand(),
			bulkFixCommand(),
			bulkImportCSVCommand(),
			bulkRunCommand(),
			bulkExportCommand(),
			bulkImportCommand(),
		},
	}
}

// bulkAction wraps a bulk operation with renderer setup and app lifecycle.
// When mutates is set the definitions are saved after fn succeeds.
func bulkAction(mutates bool, fn func(c *cli.Context, app *App) (any, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		app, err := openApp(c.Context, c)
		if err != nil {
			return err
		}
		defer iox.DiscardClose(app)

		if mutates && app.Config.Storage.Definitions == "" {
			return cli.Exit("storage.definitions (or --definitions) is required for commands that change definitions", exitInvalidInput)
		}

		out, err := fn(c, app)
		if err != nil {
			var exit cli.ExitCoder
			if errors.As(err, &exit) {
				return err
			}
			return cli.Exit(err.Error(), exitFailed)
		}
		if mutates {
			if _, err := app.SaveDefinitions(c.Context); err != nil {
				return cli.Exit(err.Error(), exitFailed)
			}
		}
		return r.Render(out)
	}
}

func bulkClearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Delete every batch and configuration",
		Flags: withConfigFlags(append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "templates",
				Usage: "Also delete template configurations and their batches",
			},
		)...),
		Action: bulkAction(true, func(c *cli.Context, app *App) (any, error) {
			return app.Bulk.ClearAll(c.Context, c.Bool("templates"))
		}),
	}
}

func bulkFixCommand() *cli.Command {
	return &cli.Command{
		Name:  "fix",
		Usage: "Repair structural problems in every definition",
		Flags: withConfigFlags(ReadOnlyFlags()...),
		Action: bulkAction(true, func(c *cli.Context, app *App) (any, error) {
			res, err := app.Bulk.FixAll(c.Context)
			if err != nil {
				return nil, err
			}
			return fixReport(res), nil
		}),
	}
}

// FixReport is the rendered form of a fix result.
type FixReport struct {
	Configurations    int      `json:"configurations"`
	Batches           int      `json:"batches"`
	RemovedParameters []string `json:"removed_parameters,omitempty"`
	BoundParameters   []string `json:"bound_parameters,omitempty"`
	AddedAttributes   []string `json:"added_attributes,omitempty"`
	RemovedElements   []string `json:"removed_elements,omitempty"`
	Remaining         []string `json:"remaining,omitempty"`
}

func fixReport(res *bulk.FixResult) FixReport {
	out := FixReport{
		Configurations:    res.Configurations,
		Batches:           res.Batches,
		RemovedParameters: res.RemovedParameters,
		BoundParameters:   res.BoundParameters,
		AddedAttributes:   res.AddedAttributes,
		RemovedElements:   res.RemovedElements,
	}
	for _, e := range res.Remaining {
		out.Remaining = append(out.Remaining, e.String())
	}
	return out
}

func bulkImportCSVCommand() *cli.Command {
	return &cli.Command{
		Name:      "import-csv",
		Usage:     "Create configurations from a template, one per CSV row",
		ArgsUsage: "<template> <file>",
		Flags: withConfigFlags(append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "no-validate",
				Usage: "Import rows even if the resulting configurations are invalid",
			},
		)...),
		Action: bulkAction(true, bulkImportCSV),
	}
}

func bulkImportCSV(c *cli.Context, app *App) (any, error) {
	if c.NArg() != 2 {
		return nil, cli.Exit("template name and CSV file required", exitInvalidInput)
	}
	template := c.Args().Get(0)
	f, err := os.Open(c.Args().Get(1))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitInvalidInput)
	}
	defer iox.DiscardClose(f)

	names, err := app.Bulk.ImportConfigurations(c.Context, f, bulk.ImportOptions{
		Template: template,
		Validate: !c.Bool("no-validate"),
	})
	if err != nil {
		return nil, cli.Exit(err.Error(), exitInvalidInput)
	}
	return ImportCSVResult{Template: template, Configurations: names}, nil
}

func bulkRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute every batch matching the filters, staggered in time",
		Flags: withConfigFlags(append(ReadOnlyFlags(),
			&cli.StringFlag{Name: "workspace", Usage: "Workspace pattern ('%' matches anything)"},
			&cli.StringFlag{Name: "configuration", Usage: "Owning configuration pattern"},
			&cli.StringFlag{Name: "name", Usage: "Batch name pattern"},
			&cli.DurationFlag{Name: "start-delay", Usage: "Delay before the first batch starts"},
			&cli.DurationFlag{Name: "between", Usage: "Delay between consecutive batch starts"},
		)...),
		Action: bulkRunAction,
	}
}

func bulkRunAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	var (
		mu  sync.Mutex
		res BulkRunResult
	)
	app, err := openAppWith(ctx, c, AppOptions{
		OnComplete: func(br *types.BatchRun) {
			mu.Lock()
			defer mu.Unlock()
			res.Completed++
			switch {
			case br.NeedsIntervention():
				res.NeedsIntervention++
				res.Failed++
			case br.Status() == types.StatusCommitted:
				res.Committed++
			default:
				res.Failed++
			}
		},
	})
	if err != nil {
		return err
	}
	defer iox.DiscardClose(app)

	filter := bulk.Filter{
		Workspace:     c.String("workspace"),
		Configuration: c.String("configuration"),
		Name:          c.String("name"),
	}
	start, between := c.Duration("start-delay"), c.Duration("between")
	n, err := bulkRun(ctx, app, filter, start, between)
	mu.Lock()
	res.Dispatched = n
	out := res
	mu.Unlock()
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}

	if err := r.Render(out); err != nil {
		return err
	}
	return cli.Exit("", out.ExitCode())
}

// bulkRun dispatches the matching batches and waits until every one of them
// has started and finished. Cancelling ctx interrupts executing batch runs
// and drops those not yet started.
func bulkRun(ctx context.Context, app *App, f bulk.Filter, start, between time.Duration) (int, error) {
	n, err := app.Bulk.RunBatches(ctx, f, start, between)
	if err != nil {
		_ = app.Scheduler.Stop(ctx)
		return n, err
	}

	waitErr := app.Scheduler.Wait(ctx)
	if err := app.Scheduler.Stop(ctx); err != nil && waitErr == nil {
		return n, err
	}
	return n, nil
}

func bulkExportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write every definition to an archive file (- for stdout)",
		ArgsUsage: "<file>",
		Flags:     withConfigFlags(ReadOnlyFlags()...),
		Action:    bulkExportAction,
	}
}

func bulkExportAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("archive file required", exitInvalidInput)
	}
	path := c.Args().First()

	app, err := openApp(c.Context, c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(app)

	var w io.Writer = c.App.Writer
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
		defer iox.DiscardClose(f)
		w = f
	} else if w == nil {
		w = os.Stdout
	}

	res, err := app.Bulk.Export(c.Context, w)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	if path != "-" {
		fmt.Fprintf(c.App.ErrWriter, "exported %d configurations and %d batches to %s\n",
			res.Configurations, res.Batches, path)
	}
	return nil
}

func bulkImportCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Load definitions from an archive file, replacing same-named ones",
		ArgsUsage: "<file>",
		Flags:     withConfigFlags(ReadOnlyFlags()...),
		Action: bulkAction(true, func(c *cli.Context, app *App) (any, error) {
			if c.NArg() != 1 {
				return nil, cli.Exit("archive file required", exitInvalidInput)
			}
			f, err := os.Open(c.Args().First())
			if err != nil {
				return nil, cli.Exit(err.Error(), exitInvalidInput)
			}
			defer iox.DiscardClose(f)
			return app.Bulk.Import(c.Context, f)
		}),
	}
}
