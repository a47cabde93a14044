// Package cmd provides CLI commands for the taskmanager binary.
package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskmanager/cli/config"
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for select read-only commands (inspect, stats).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect, stats only)",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// TUIReadOnlyFlags returns flags for commands that support TUI mode.
// This is an alias for ReadOnlyFlags, kept for documentation clarity.
func TUIReadOnlyFlags() []cli.Flag {
	return ReadOnlyFlags()
}

// ConfigFlags returns the config file flag and the storage overrides shared
// by every command that builds the app.
func ConfigFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to taskmanager.yaml (default: ./taskmanager.yaml when present)",
			EnvVars: []string{"TASKMANAGER_CONFIG"},
		},
		&cli.StringFlag{Name: "storage-backend", Usage: "Journal backend: fs, s3 or memory"},
		&cli.StringFlag{Name: "storage-path", Usage: "Journal path (fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "storage-region", Usage: "AWS region for the s3 backend"},
		&cli.StringFlag{Name: "storage-dataset", Usage: "Journal dataset name"},
		&cli.StringFlag{Name: "definitions", Usage: "Definitions archive read at startup and written by bulk commands"},
		&cli.BoolFlag{Name: "quiet-logs", Usage: "Discard component logs"},
	}
}

// withConfigFlags appends ConfigFlags to flags.
func withConfigFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags, ConfigFlags()...)
}

// loadConfig reads the config file named by --config, or the default file
// when it exists, and applies flag overrides. Flags always win.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	path := c.String("config")
	switch {
	case path != "":
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	default:
		if _, err := os.Stat(config.DefaultPath); err == nil {
			loaded, err := config.Load(config.DefaultPath)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if v := c.String("storage-backend"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := c.String("storage-path"); v != "" {
		cfg.Storage.Path = v
	}
	if v := c.String("storage-region"); v != "" {
		cfg.Storage.Region = v
	}
	if v := c.String("storage-dataset"); v != "" {
		cfg.Storage.Dataset = v
	}
	if v := c.String("definitions"); v != "" {
		cfg.Storage.Definitions = v
	}
	return cfg, nil
}

// openApp loads the config and builds the app. The caller must Close it.
func openApp(ctx context.Context, c *cli.Context) (*App, error) {
	return openAppWith(ctx, c, AppOptions{})
}

// openAppWith is openApp with explicit app options. --quiet-logs overrides
// opts.LogOutput.
func openAppWith(ctx context.Context, c *cli.Context, opts AppOptions) (*App, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitInvalidInput)
	}
	if c.Bool("quiet-logs") {
		opts.LogOutput = io.Discard
	}
	app, err := NewApp(ctx, cfg, opts)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitInvalidInput)
	}
	return app, nil
}
