package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskmanager/iox"
)

// defaultShutdownGrace bounds how long serve waits for executing batch runs
// before interrupting them.
const defaultShutdownGrace = 30 * time.Second

// ServeCommand returns the serve command.
// It schedules every enabled batch on its frequency until interrupted.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run scheduled batches until interrupted",
		Flags: withConfigFlags(
			&cli.DurationFlag{
				Name:  "shutdown-grace",
				Usage: "Wait this long for executing batch runs on shutdown before interrupting them",
				Value: defaultShutdownGrace,
			},
		),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	ctx, cancel := signalContext(c.Context)
	defer cancel()

	app, err := openApp(ctx, c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(app)

	return serve(ctx, app, c.Duration("shutdown-grace"))
}

// serve runs the scheduler until ctx is done, then stops it within grace.
func serve(ctx context.Context, app *App, grace time.Duration) error {
	logger := app.logger("serve")
	n, err := app.Scheduler.Load(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	app.Scheduler.Start()
	logger.Info("serving", map[string]any{"scheduled": n})

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer stopCancel()
	if err := app.Scheduler.Stop(stopCtx); err != nil {
		logger.Warn("shutdown grace expired", map[string]any{"error": err.Error()})
	}
	return nil
}
