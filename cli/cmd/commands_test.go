package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pithecene-io/taskmanager/cli/reader"
	"github.com/pithecene-io/taskmanager/types"
)

func TestExitCodeConstants(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"committed", exitCommitted, 0},
		{"failed", exitFailed, 1},
		{"needs intervention", exitNeedsIntervention, 2},
		{"invalid input", exitInvalidInput, 3},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s exit code = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestRunCommand_ExitCodes(t *testing.T) {
	tests := []struct {
		name  string
		batch string
		want  int
	}{
		{name: "committed", batch: "nightly", want: exitCommitted},
		{name: "invalid parameters fail the batch run", batch: "broken", want: exitFailed},
		{name: "unknown batch", batch: "missing", want: exitInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "")
			app, out := newTestCLI()
			err := app.Run([]string{"taskmanager", "run", "--config", path, "--quiet-logs", tt.batch})
			if got := exitCode(err); got != tt.want {
				t.Errorf("exit code = %d, want %d (err: %v)", got, tt.want, err)
			}
			if tt.want != exitInvalidInput && !strings.Contains(out.String(), "batch="+tt.batch) {
				t.Errorf("output should summarize the batch run, got:\n%s", out.String())
			}
		})
	}
}

func TestRunCommand_RequiresBatch(t *testing.T) {
	app, _ := newTestCLI()
	err := app.Run([]string{"taskmanager", "run", "--config", writeConfig(t, ""), "--quiet-logs"})
	if got := exitCode(err); got != exitInvalidInput {
		t.Errorf("exit code = %d, want %d", got, exitInvalidInput)
	}
}

func TestRunCommand_WritesReport(t *testing.T) {
	report := filepath.Join(t.TempDir(), "report.json")
	app, _ := newTestCLI()
	err := app.Run([]string{"taskmanager", "run",
		"--config", writeConfig(t, ""),
		"--quiet-logs",
		"--quiet",
		"--report", report,
		"nightly",
	})
	if got := exitCode(err); got != exitCommitted {
		t.Fatalf("exit code = %d, want 0 (err: %v)", got, err)
	}

	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if decoded["batch"] != "nightly" {
		t.Errorf("report batch = %v, want nightly", decoded["batch"])
	}
}

func TestRunThenInspect_FSJournal(t *testing.T) {
	journal := t.TempDir()
	path := writeConfig(t, "storage:\n  backend: fs\n  path: "+journal+"\n")

	app, out := newTestCLI()
	err := app.Run([]string{"taskmanager", "run", "--config", path, "--quiet-logs", "nightly"})
	if got := exitCode(err); got != exitCommitted {
		t.Fatalf("run exit code = %d (err: %v)", got, err)
	}

	app, out = newTestCLI()
	err = app.Run([]string{"taskmanager", "list", "runs", "--config", path, "--quiet-logs", "--format", "json"})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	var items []reader.BatchRunItem
	if err := json.Unmarshal(out.Bytes(), &items); err != nil {
		t.Fatalf("decode list output: %v\n%s", err, out.String())
	}
	if len(items) != 1 || items[0].Status != types.StatusCommitted {
		t.Fatalf("items = %+v, want one committed batch run", items)
	}

	app, out = newTestCLI()
	err = app.Run([]string{"taskmanager", "inspect", "batch-run", "--config", path, "--quiet-logs", "--format", "json", items[0].BatchRunID})
	if err != nil {
		t.Fatalf("inspect batch-run: %v", err)
	}
	var view reader.BatchRunView
	if err := json.Unmarshal(out.Bytes(), &view); err != nil {
		t.Fatalf("decode inspect output: %v", err)
	}
	if view.Batch != "nightly" || len(view.Runs) != 1 || view.Runs[0].Task != "roads/stamp" {
		t.Errorf("view = %+v", view)
	}

	app, out = newTestCLI()
	err = app.Run([]string{"taskmanager", "stats", "metrics", "--config", path, "--quiet-logs", "--format", "json"})
	if err != nil {
		t.Fatalf("stats metrics: %v", err)
	}
	var snap reader.MetricsSnapshot
	if err := json.Unmarshal(out.Bytes(), &snap); err != nil {
		t.Fatalf("decode metrics output: %v", err)
	}
	if snap.StorageBackend != backendFS || snap.BatchRunsCommitted != 1 {
		t.Errorf("snapshot = %+v, want fs backend with one committed batch run", snap)
	}

	app, _ = newTestCLI()
	err = app.Run([]string{"taskmanager", "rerun", "--config", path, "--quiet-logs", "--quiet", items[0].BatchRunID})
	if got := exitCode(err); got != exitCommitted {
		t.Errorf("rerun exit code = %d (err: %v)", got, err)
	}
}

func TestInspectBatchRun_NotFound(t *testing.T) {
	app, _ := newTestCLI()
	err := app.Run([]string{"taskmanager", "inspect", "batch-run", "--config", writeConfig(t, ""), "--quiet-logs", "nope"})
	if got := exitCode(err); got != exitInvalidInput {
		t.Errorf("exit code = %d, want %d (err: %v)", got, exitInvalidInput, err)
	}
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, "")

	app, out := newTestCLI()
	err := app.Run([]string{"taskmanager", "validate", "--config", path, "--quiet-logs", "--format", "json", "nightly"})
	if err != nil {
		t.Fatalf("validate nightly: %v", err)
	}
	if strings.TrimSpace(out.String()) != "[]" {
		t.Errorf("output = %q, want empty list", out.String())
	}

	app, out = newTestCLI()
	err = app.Run([]string{"taskmanager", "validate", "--config", path, "--quiet-logs", "--format", "json"})
	if got := exitCode(err); got != exitInvalidInput {
		t.Errorf("exit code = %d, want %d", got, exitInvalidInput)
	}
	var problems []Problem
	if err := json.Unmarshal(out.Bytes(), &problems); err != nil {
		t.Fatalf("decode problems: %v", err)
	}
	if len(problems) == 0 {
		t.Error("expected problems for the broken definitions")
	}
}

func TestListCommands(t *testing.T) {
	path := writeConfig(t, "")
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "batches", args: []string{"list", "batches"}, want: `"nightly"`},
		{name: "configurations", args: []string{"list", "configurations"}, want: `"roads"`},
		{name: "types", args: []string{"list", "types"}, want: `"TimeStamp"`},
		{name: "schedules", args: []string{"list", "schedules"}, want: `"@daily"`},
		{name: "inspect batch", args: []string{"inspect", "batch"}, want: `"roads/stamp"`},
		{name: "debug params", args: []string{"debug", "params"}, want: `"rivers"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"taskmanager"}, tt.args...)
			args = append(args, "--config", path, "--quiet-logs", "--format", "json")
			switch tt.name {
			case "inspect batch":
				args = append(args, "nightly")
			case "debug params":
				args = append(args, "roads", "stamp_rivers")
			}
			app, out := newTestCLI()
			if err := app.Run(args); err != nil {
				t.Fatalf("run %v: %v", tt.args, err)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output should contain %s, got:\n%s", tt.want, out.String())
			}
		})
	}
}

func TestListCommands_RejectTUI(t *testing.T) {
	app, _ := newTestCLI()
	err := app.Run([]string{"taskmanager", "list", "batches", "--config", writeConfig(t, ""), "--quiet-logs", "--tui"})
	if got := exitCode(err); got != exitInvalidInput {
		t.Errorf("exit code = %d, want %d", got, exitInvalidInput)
	}
}

func TestListRuns_UnknownStatus(t *testing.T) {
	app, _ := newTestCLI()
	err := app.Run([]string{"taskmanager", "list", "runs", "--config", writeConfig(t, ""), "--quiet-logs", "--status", "done"})
	if got := exitCode(err); got != exitInvalidInput {
		t.Errorf("exit code = %d, want %d (err: %v)", got, exitInvalidInput, err)
	}
}

func TestVersionCommand(t *testing.T) {
	app, out := newTestCLI()
	if err := app.Run([]string{"taskmanager", "version", "--format", "json"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	var resp VersionResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if resp.Version != types.Version || resp.Commit != "test" || resp.ContractVersion != types.ContractVersion {
		t.Errorf("version = %+v", resp)
	}
	if resp.GoVersion == "" || !strings.Contains(resp.Platform, "/") {
		t.Errorf("build info = %q %q", resp.GoVersion, resp.Platform)
	}
}
