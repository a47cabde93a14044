// Package main provides the taskmanager CLI entrypoint.
//
// Usage:
//
//	taskmanager <command> [subcommand] [options]
//
// Exit codes for `run`, `rerun` and `bulk run`:
//   - 0: every task committed
//   - 1: the batch run failed and was rolled back
//   - 2: a commit or rollback failed; operator intervention required
//   - 3: invalid input (unknown batch, bad configuration, bad arguments)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskmanager/cli/cmd"
	"github.com/pithecene-io/taskmanager/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "taskmanager",
		Usage:          "Transactional batch task orchestration",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.RerunCommand(),
			cmd.ServeCommand(),
			cmd.ValidateCommand(),
			cmd.InspectCommand(),
			cmd.ListCommand(),
			cmd.StatsCommand(),
			cmd.BulkCommand(),
			cmd.DebugCommand(),
			cmd.VersionCommand("", commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		// This branch handles unexpected errors that weren't wrapped.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus maps an error to the process exit code and the message to
// print, which is empty when there is nothing worth printing.
func exitStatus(err error) (int, string) {
	// Check for ExitCoder (from cli.Exit), handles wrapped errors
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() may return "exit status N"; skip those
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}

	// Unexpected error - print and exit with code 1
	return 1, fmt.Sprintf("Error: %v", err)
}
