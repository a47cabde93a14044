package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskmanager/iox"
	"github.com/pithecene-io/taskmanager/lode"
	"github.com/pithecene-io/taskmanager/runtime"
	"github.com/pithecene-io/taskmanager/store"
	"github.com/pithecene-io/taskmanager/types"
)

// Exit codes of the run and rerun commands.
const (
	exitCommitted         = runtime.ExitCodeCommitted
	exitFailed            = runtime.ExitCodeFailed
	exitNeedsIntervention = runtime.ExitCodeNeedsIntervention
	exitInvalidInput      = runtime.ExitCodeInvalidInput
)

// RunCommand returns the run command.
// It executes one batch to completion or rollback and exits with the
// outcome's exit code.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute a batch once",
		ArgsUsage: "<batch>",
		Flags: withConfigFlags(
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON report to this path (- for stderr)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress result output",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Interrupt the batch run after this duration (0 = none)",
			},
		),
		Action: runAction,
	}
}

// RerunCommand returns the rerun command.
func RerunCommand() *cli.Command {
	return &cli.Command{
		Name:      "rerun",
		Usage:     "Execute the batch of a finished batch run again as a new attempt",
		ArgsUsage: "<batch-run-id>",
		Flags: withConfigFlags(
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON report to this path (- for stderr)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress result output",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Interrupt the batch run after this duration (0 = none)",
			},
		),
		Action: rerunAction,
	}
}

func runAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one batch name is required", exitInvalidInput)
	}
	batch := c.Args().First()
	return execute(c, func(ctx context.Context, app *App) (*types.BatchRun, error) {
		return app.Engine.Execute(ctx, batch)
	})
}

func rerunAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one batch run id is required", exitInvalidInput)
	}
	id := c.Args().First()
	return execute(c, func(ctx context.Context, app *App) (*types.BatchRun, error) {
		return app.Engine.Rerun(ctx, id)
	})
}

// execute builds the app, runs fn under signal handling and reports the
// resulting batch run.
func execute(c *cli.Context, fn func(context.Context, *App) (*types.BatchRun, error)) error {
	ctx, cancel := signalContext(c.Context)
	defer cancel()
	if d := c.Duration("timeout"); d > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, d)
		defer cancelTimeout()
	}

	app, err := openApp(ctx, c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(app)

	started := time.Now()
	br, err := fn(ctx, app)
	if err != nil {
		code := exitFailed
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, lode.ErrBatchRunNotFound) ||
			errors.Is(err, runtime.ErrTemplateBatch) {
			code = exitInvalidInput
		}
		return cli.Exit(err.Error(), code)
	}

	outcome := runtime.DetermineOutcome(br)
	if path := c.String("report"); path != "" {
		report := runtime.BuildReport(br, outcome, app.Collector.Snapshot())
		if err := runtime.WriteReport(report, path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	if !c.Bool("quiet") {
		printBatchRun(c.App.Writer, br, outcome, time.Since(started))
	}
	return cli.Exit("", outcome.ExitCode)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
// Cancellation interrupts the batch run, which then rolls back.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func printBatchRun(w io.Writer, br *types.BatchRun, outcome *runtime.Outcome, duration time.Duration) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintf(w, "\nbatch_run_id=%s, batch=%s, attempt=%d, status=%s, duration=%s\n",
		br.ID,
		br.Batch,
		br.Attempt,
		outcome.Status,
		duration.Round(time.Millisecond),
	)

	fmt.Fprintf(w, "\n=== Batch Run ===\n")
	fmt.Fprintf(w, "Batch Run ID: %s\n", br.ID)
	fmt.Fprintf(w, "Batch:        %s\n", br.Batch)
	fmt.Fprintf(w, "Attempt:      %d\n", br.Attempt)
	fmt.Fprintf(w, "Status:       %s\n", outcome.Status)
	if outcome.Message != "" {
		fmt.Fprintf(w, "Message:      %s\n", outcome.Message)
	}
	if outcome.NeedsIntervention {
		fmt.Fprintf(w, "Attention:    a commit or rollback failed; operator intervention required\n")
	}

	runs := types.Latest(br.Runs)
	if len(runs) == 0 {
		return
	}
	fmt.Fprintf(w, "\n=== Runs ===\n")
	for _, r := range runs {
		line := fmt.Sprintf("  %2d  %-32s %s", r.Index, r.Task, r.Status)
		if r.Message != "" {
			line += "  " + r.Message
		}
		fmt.Fprintln(w, line)
	}
}
