package cmd

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskmanager/cli/render"
	"github.com/pithecene-io/taskmanager/iox"
	"github.com/pithecene-io/taskmanager/lode"
)

// StatsCommand returns the stats command with subcommands.
// Stats returns aggregated, derived facts.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show aggregated statistics (runs, metrics)",
		Subcommands: []*cli.Command{
			statsRunsCommand(),
			statsMetricsCommand(),
		},
	}
}

func batchFilterFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "batch",
		Usage: "Restrict to one batch",
	}
}

func statsRunsCommand() *cli.Command {
	return &cli.Command{
		Name:   "runs",
		Usage:  "Show batch run statistics",
		Flags:  withConfigFlags(append(TUIReadOnlyFlags(), batchFilterFlag())...),
		Action: statsRunsAction,
	}
}

func statsRunsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	app, err := openApp(c.Context, c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(app)

	stats, err := app.Reader().StatsBatchRuns(c.Context, c.String("batch"))
	if err != nil {
		return readError(err)
	}

	if c.Bool("tui") {
		return r.RenderTUI("stats_batch_runs", stats)
	}
	return r.Render(stats)
}

func statsMetricsCommand() *cli.Command {
	return &cli.Command{
		Name:   "metrics",
		Usage:  "Show the latest persisted engine metrics (batch runs, tasks, journal)",
		Flags:  withConfigFlags(append(TUIReadOnlyFlags(), batchFilterFlag())...),
		Action: statsMetricsAction,
	}
}

func statsMetricsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	app, err := openApp(c.Context, c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(app)

	snapshot, err := app.Reader().StatsMetrics(c.Context, c.String("batch"))
	if errors.Is(err, lode.ErrNoMetricsFound) {
		return cli.Exit("no metrics recorded yet", exitFailed)
	}
	if err != nil {
		return readError(err)
	}

	if c.Bool("tui") {
		return r.RenderTUI("stats_metrics", snapshot)
	}
	return r.Render(snapshot)
}
