package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskmanager/cli/reader"
	"github.com/pithecene-io/taskmanager/cli/render"
	"github.com/pithecene-io/taskmanager/iox"
	"github.com/pithecene-io/taskmanager/scheduler"
	"github.com/pithecene-io/taskmanager/types"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// ScheduleItem is a scheduled batch in the schedules listing.
type ScheduleItem struct {
	Batch     string     `json:"batch"`
	Frequency string     `json:"frequency"`
	Next      *time.Time `json:"next,omitempty"`
}

// ListCommand returns the list command with subcommands.
// List returns thin slices, not inspect-level detail.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List entities (runs, batches, configurations, types, schedules)",
		Subcommands: []*cli.Command{
			listRunsCommand(),
			listBatchesCommand(),
			listConfigurationsCommand(),
			listTypesCommand(),
			listSchedulesCommand(),
		},
	}
}

// listAction wraps a list producer with renderer setup, the --tui
// rejection and app lifecycle.
func listAction(fn func(c *cli.Context, app *App) (any, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		// TUI not supported for list commands
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for list commands", exitInvalidInput)
		}

		app, err := openApp(c.Context, c)
		if err != nil {
			return err
		}
		defer iox.DiscardClose(app)

		out, err := fn(c, app)
		if err != nil {
			return readError(err)
		}
		return r.Render(out)
	}
}

func listRunsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List batch runs, newest first",
		Flags: withConfigFlags(append(ReadOnlyFlags(),
			batchFilterFlag(),
			&cli.StringFlag{
				Name:  "status",
				Usage: "Filter by status: running, committed, failed, rolled_back, not_rolled_back, not_committed",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of batch runs to return (0 = no limit)",
				Value: 0,
			},
		)...),
		Action: listAction(listRuns),
	}
}

func listRuns(c *cli.Context, app *App) (any, error) {
	opts := reader.ListBatchRunsOptions{
		Batch:  c.String("batch"),
		Status: c.String("status"),
		Limit:  c.Int("limit"),
	}
	if opts.Status != "" {
		if _, ok := types.ParseStatus(opts.Status); !ok {
			return nil, cli.Exit(fmt.Sprintf("unknown status %q", opts.Status), exitInvalidInput)
		}
	}

	results, err := app.Reader().ListBatchRuns(c.Context, opts)
	if err != nil {
		return nil, err
	}

	// Warn if output is large and --limit was not specified (TTY only to avoid noise in pipelines)
	if len(results) > listWarningThreshold && opts.Limit == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(results))
	}
	return results, nil
}

func listBatchesCommand() *cli.Command {
	return &cli.Command{
		Name:  "batches",
		Usage: "List batch definitions",
		Flags: withConfigFlags(ReadOnlyFlags()...),
		Action: listAction(func(c *cli.Context, app *App) (any, error) {
			return app.Reader().ListBatches(c.Context)
		}),
	}
}

func listConfigurationsCommand() *cli.Command {
	return &cli.Command{
		Name:  "configurations",
		Usage: "List configurations",
		Flags: withConfigFlags(ReadOnlyFlags()...),
		Action: listAction(func(c *cli.Context, app *App) (any, error) {
			return app.Reader().ListConfigurations(c.Context)
		}),
	}
}

func listTypesCommand() *cli.Command {
	return &cli.Command{
		Name:  "types",
		Usage: "List registered task types and their parameters",
		Flags: withConfigFlags(ReadOnlyFlags()...),
		Action: listAction(func(_ *cli.Context, app *App) (any, error) {
			return app.Reader().ListTaskTypes(), nil
		}),
	}
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:   "schedules",
		Usage:  "List batches that serve would schedule",
		Flags:  withConfigFlags(ReadOnlyFlags()...),
		Action: listAction(listSchedules),
	}
}

// listSchedules loads the scheduler without starting it, so the next fire
// time is computed here from each frequency.
func listSchedules(c *cli.Context, app *App) (any, error) {
	if _, err := app.Scheduler.Load(c.Context); err != nil {
		return nil, err
	}
	loc, err := app.Config.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	now := time.Now().In(loc)

	entries := app.Scheduler.Entries()
	items := make([]ScheduleItem, 0, len(entries))
	for _, e := range entries {
		item := ScheduleItem{Batch: e.Batch, Frequency: e.Frequency}
		if sched, err := scheduler.ParseFrequency(e.Frequency); err == nil {
			next := sched.Next(now)
			item.Next = &next
		}
		items = append(items, item)
	}
	return items, nil
}
