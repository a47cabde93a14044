package cmd

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskmanager/cli/config"
	"github.com/pithecene-io/taskmanager/types"
)

const testConfig = `
catalog:
  workspaces:
    topp:
      layers:
        roads: {}
task_types:
  timestamp:
    data_property: data_ts
configurations:
  - name: roads
    workspace: topp
    attributes:
      ws: topp
    tasks:
      - name: stamp
        type: TimeStamp
        parameters:
          workspace: $${ws}
          layer: roads
      - name: stamp_rivers
        type: TimeStamp
        parameters:
          workspace: topp
          layer: rivers
batches:
  - name: nightly
    workspace: topp
    frequency: "@daily"
    enabled: true
    tasks: [roads/stamp]
  - name: broken
    workspace: topp
    tasks: [roads/stamp_rivers]
`

// writeConfig writes testConfig plus extra to a temp dir and returns its path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskmanager.yaml")
	if err := os.WriteFile(path, []byte(testConfig+extra), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestAppFromConfig(t *testing.T, extra string) *App {
	t.Helper()
	cfg, err := config.Load(writeConfig(t, extra))
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	app, err := NewApp(t.Context(), cfg, AppOptions{LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

// newTestCLI creates a cli.App with every command wired up, output captured
// and ExitErrHandler suppressed so errors are returned instead of calling
// os.Exit.
func newTestCLI() (*cli.App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	app := cli.NewApp()
	app.Name = "taskmanager"
	app.Writer = out
	app.ErrWriter = io.Discard
	app.Commands = []*cli.Command{
		RunCommand(),
		RerunCommand(),
		ValidateCommand(),
		InspectCommand(),
		ListCommand(),
		StatsCommand(),
		BulkCommand(),
		DebugCommand(),
		VersionCommand("", "test"),
	}
	app.ExitErrHandler = func(*cli.Context, error) {} // suppress os.Exit
	return app, out
}

// exitCode extracts the process exit code a cli.App.Run error maps to.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit cli.ExitCoder
	if errors.As(err, &exit) {
		return exit.ExitCode()
	}
	return 1
}

func TestNewApp_ExecutesConfiguredBatch(t *testing.T) {
	app := newTestAppFromConfig(t, "")

	br, err := app.Engine.Execute(t.Context(), "nightly")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if br.Status() != types.StatusCommitted {
		t.Fatalf("status = %s (%s), want committed", br.Status(), br.Message())
	}

	layer, ok := app.Catalog.Layer("topp", "roads")
	if !ok {
		t.Fatal("layer topp:roads not in catalog")
	}
	if v, ok := layer.Get("data_ts"); !ok || v == "" {
		t.Error("TimeStamp did not write data_ts")
	}

	got, err := app.Journal.ReadBatchRun(t.Context(), br.ID)
	if err != nil {
		t.Fatalf("ReadBatchRun: %v", err)
	}
	if got.Status() != types.StatusCommitted {
		t.Errorf("journal status = %s, want committed", got.Status())
	}
	if snap := app.Collector.Snapshot(); snap.StorageBackend != backendMemory {
		t.Errorf("StorageBackend = %q, want memory default", snap.StorageBackend)
	}
}

func TestNewApp_Errors(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		wantErr string
	}{
		{
			name:    "unknown storage backend",
			extra:   "storage:\n  backend: tape\n",
			wantErr: "unknown storage backend",
		},
		{
			name:    "fs backend without path",
			extra:   "storage:\n  backend: fs\n",
			wantErr: "storage.path is required",
		},
		{
			name:    "unknown adapter",
			extra:   "adapter:\n  type: carrier-pigeon\n",
			wantErr: "carrier-pigeon",
		},
		{
			name:    "bad timezone",
			extra:   "scheduler:\n  timezone: Mars/Olympus\n",
			wantErr: "timezone",
		},
		{
			name:    "file service without root or bucket",
			extra:   "file_services:\n  data:\n    description: nowhere\n",
			wantErr: "root or bucket is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(writeConfig(t, tt.extra))
			if err != nil {
				t.Fatalf("config.Load: %v", err)
			}
			_, err = NewApp(t.Context(), cfg, AppOptions{LogOutput: io.Discard})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveDefinitions_RoundTrip(t *testing.T) {
	defs := filepath.Join(t.TempDir(), "definitions.tmar")
	extra := "storage:\n  definitions: " + defs + "\n"

	app := newTestAppFromConfig(t, extra)
	added := &types.Batch{Name: "weekly", Frequency: "@weekly"}
	added.AddElement(types.TaskRef{Configuration: "roads", Task: "stamp"})
	if err := app.Store.SaveBatch(t.Context(), added); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	res, err := app.SaveDefinitions(t.Context())
	if err != nil {
		t.Fatalf("SaveDefinitions: %v", err)
	}
	if res.Batches != 3 || res.Configurations != 1 {
		t.Errorf("saved = %+v, want 1 configuration and 3 batches", res)
	}

	reopened := newTestAppFromConfig(t, extra)
	b, err := reopened.Store.GetBatch(t.Context(), "weekly")
	if err != nil {
		t.Fatalf("reopened app lost batch: %v", err)
	}
	if b.Frequency != "@weekly" || len(b.Elements) != 1 {
		t.Errorf("weekly = %+v", b)
	}
}

func TestSaveDefinitions_RequiresPath(t *testing.T) {
	app := newTestAppFromConfig(t, "")
	if _, err := app.SaveDefinitions(t.Context()); err == nil {
		t.Fatal("expected error without storage.definitions")
	}
}

func TestCollectProblems(t *testing.T) {
	app := newTestAppFromConfig(t, "")

	all, err := collectProblems(t.Context(), app, nil)
	if err != nil {
		t.Fatalf("collectProblems: %v", err)
	}
	var sawConfig, sawBatch bool
	for _, p := range all {
		if p.Definition == "configuration roads" && p.Task == "roads/stamp_rivers" {
			sawConfig = true
		}
		if p.Definition == "batch broken" && p.Param == "layer" {
			sawBatch = true
		}
		if p.Definition == "batch nightly" {
			t.Errorf("nightly should be valid, got %+v", p)
		}
	}
	if !sawConfig || !sawBatch {
		t.Errorf("problems = %+v, want findings for roads and broken", all)
	}

	named, err := collectProblems(t.Context(), app, []string{"nightly"})
	if err != nil {
		t.Fatalf("collectProblems(nightly): %v", err)
	}
	if len(named) != 0 {
		t.Errorf("nightly problems = %+v, want none", named)
	}

	if _, err := collectProblems(t.Context(), app, []string{"missing"}); err == nil {
		t.Error("expected error for unknown batch")
	}
}

func TestCollectProblems_BadFrequency(t *testing.T) {
	app := newTestAppFromConfig(t, "")
	b := &types.Batch{Name: "hourly", Frequency: "every hour"}
	b.AddElement(types.TaskRef{Configuration: "roads", Task: "stamp"})
	if err := app.Store.SaveBatch(t.Context(), b); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	problems, err := collectProblems(t.Context(), app, []string{"hourly"})
	if err != nil {
		t.Fatalf("collectProblems: %v", err)
	}
	if len(problems) != 1 || problems[0].Param != "frequency" {
		t.Errorf("problems = %+v, want one frequency problem", problems)
	}
}
