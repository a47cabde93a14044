package cmd

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskmanager/cli/config"
)

func flagNames(flags []cli.Flag) []string {
	var names []string
	for _, f := range flags {
		names = append(names, f.Names()[0])
	}
	return names
}

func TestFlagSets(t *testing.T) {
	tests := []struct {
		name  string
		flags []cli.Flag
		want  []string
	}{
		{"read-only", ReadOnlyFlags(), []string{"format", "no-color", "tui"}},
		{"tui read-only", TUIReadOnlyFlags(), []string{"format", "no-color", "tui"}},
		{"config", ConfigFlags(), []string{"config", "storage-backend", "storage-path", "storage-region", "storage-dataset", "definitions", "quiet-logs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := flagNames(tt.flags)
			for _, want := range tt.want {
				if !slices.Contains(got, want) {
					t.Errorf("flags %v missing %q", got, want)
				}
			}
		})
	}

	// Every command that builds the app takes the config flags exactly once.
	for _, c := range []*cli.Command{RunCommand(), ServeCommand(), ValidateCommand(), InspectCommand()} {
		names := flagNames(c.Flags)
		if c.Subcommands != nil {
			names = flagNames(c.Subcommands[0].Flags)
		}
		if n := len(slices.DeleteFunc(names, func(s string) bool { return s != "config" })); n != 1 {
			t.Errorf("%s: --config appears %d times", c.Name, n)
		}
	}
}

// loadConfigWith runs loadConfig inside a command invoked with args.
func loadConfigWith(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var cfg *config.Config
	var loadErr error
	app := &cli.App{
		Name:           "taskmanager",
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{{
			Name:  "loadcfg",
			Flags: ConfigFlags(),
			Action: func(c *cli.Context) error {
				cfg, loadErr = loadConfig(c)
				return nil
			},
		}},
	}
	if err := app.Run(append([]string{"taskmanager", "loadcfg"}, args...)); err != nil {
		t.Fatalf("app.Run: %v", err)
	}
	return cfg, loadErr
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: fs\n  path: /var/lib/taskmanager\n  dataset: prod\n")

	cfg, err := loadConfigWith(t, "--config", path, "--storage-backend", "memory", "--storage-dataset", "test")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Storage.Backend != "memory" || cfg.Storage.Dataset != "test" {
		t.Errorf("storage = %+v, flags should win", cfg.Storage)
	}
	if cfg.Storage.Path != "/var/lib/taskmanager" {
		t.Errorf("path = %q, file value should survive", cfg.Storage.Path)
	}
	if len(cfg.Batches) != 2 {
		t.Errorf("batches = %d, want 2 from the file", len(cfg.Batches))
	}
}

func TestLoadConfig_DefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := loadConfigWith(t)
	if err != nil {
		t.Fatalf("loadConfig without a file: %v", err)
	}
	if len(cfg.Configurations) != 0 {
		t.Errorf("configurations = %d, want none", len(cfg.Configurations))
	}

	data, err := os.ReadFile(writeConfig(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, config.DefaultPath), data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfigWith(t)
	if err != nil {
		t.Fatalf("loadConfig with default file: %v", err)
	}
	if len(cfg.Configurations) != 1 {
		t.Errorf("configurations = %d, want 1 from %s", len(cfg.Configurations), config.DefaultPath)
	}

	if _, err := loadConfigWith(t, "--config", filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("an explicit missing config file should fail")
	}
}

func TestIsStderrTTY(_ *testing.T) {
	// Depends on the environment; only checks that the call is safe.
	_ = isStderrTTY()
}
