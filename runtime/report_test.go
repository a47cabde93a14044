package runtime

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pithecene-io/taskmanager/iox"
	"github.com/pithecene-io/taskmanager/metrics"
	"github.com/pithecene-io/taskmanager/types"
)

var reportT0 = time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

func newTestBatchRun(statuses ...types.Status) *types.BatchRun {
	br := types.NewBatchRun("br-001", "nightly")
	for i, st := range statuses {
		el := types.BatchElement{Task: types.TaskRef{Configuration: "cfg", Task: string(rune('a' + i))}, Index: i}
		r := types.NewRun("run-"+el.Task.Task, br.ID, el, reportT0.Add(time.Duration(i)*time.Minute))
		r.Status = st
		r.End = r.Start.Add(30 * time.Second)
		if st.IsFailure() {
			r.Message = "boom"
		}
		br.Record(r)
	}
	return br
}

func newTestSnapshot() metrics.Snapshot {
	return metrics.Snapshot{
		BatchRunsStarted:   1,
		BatchRunsCommitted: 1,
		TaskRuns:           2,
		TaskCommits:        2,
		TaskCleanups:       2,
		StorageBackend:     "fs",
	}
}

func TestDetermineOutcome(t *testing.T) {
	tests := []struct {
		name     string
		statuses []types.Status
		wantCode int
		wantStat types.Status
	}{
		{"empty", nil, ExitCodeCommitted, types.StatusCommitted},
		{"all committed", []types.Status{types.StatusCommitted, types.StatusCommitted}, ExitCodeCommitted, types.StatusCommitted},
		{"rolled back", []types.Status{types.StatusRolledBack, types.StatusFailed}, ExitCodeFailed, types.StatusFailed},
		{"rollback failed", []types.Status{types.StatusNotRolledBack, types.StatusFailed}, ExitCodeNeedsIntervention, types.StatusFailed},
		{"commit failed", []types.Status{types.StatusNotCommitted, types.StatusCommitted}, ExitCodeNeedsIntervention, types.StatusNotCommitted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := DetermineOutcome(newTestBatchRun(tt.statuses...))
			if out.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", out.ExitCode, tt.wantCode)
			}
			if out.Status != tt.wantStat {
				t.Errorf("Status = %s, want %s", out.Status, tt.wantStat)
			}
			if out.NeedsIntervention != (tt.wantCode == ExitCodeNeedsIntervention) {
				t.Errorf("NeedsIntervention = %v", out.NeedsIntervention)
			}
		})
	}
}

func TestDetermineOutcome_CommittedMessage(t *testing.T) {
	out := DetermineOutcome(newTestBatchRun(types.StatusCommitted, types.StatusCommitted))
	if out.Message != "batch run committed (2 tasks)" {
		t.Errorf("Message = %q", out.Message)
	}
}

func TestBuildReport_Success(t *testing.T) {
	br := newTestBatchRun(types.StatusCommitted, types.StatusCommitted)
	report := BuildReport(br, DetermineOutcome(br), newTestSnapshot())

	if report.BatchRunID != "br-001" {
		t.Errorf("BatchRunID = %q, want %q", report.BatchRunID, "br-001")
	}
	if report.Batch != "nightly" {
		t.Errorf("Batch = %q, want nightly", report.Batch)
	}
	if report.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", report.Attempt)
	}
	if report.Status != types.StatusCommitted {
		t.Errorf("Status = %q, want committed", report.Status)
	}
	if report.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", report.ExitCode)
	}
	// a starts at t0, b ends at t0+1m30s.
	if report.DurationMs != 90000 {
		t.Errorf("DurationMs = %d, want 90000", report.DurationMs)
	}
	if len(report.Runs) != 2 || report.Runs[1].Task != "cfg/b" {
		t.Errorf("Runs = %+v", report.Runs)
	}
	if report.Metrics.TaskCommits != 2 {
		t.Errorf("Metrics.TaskCommits = %d, want 2", report.Metrics.TaskCommits)
	}
}

func TestBuildReport_Failure(t *testing.T) {
	br := newTestBatchRun(types.StatusRolledBack, types.StatusFailed)
	report := BuildReport(br, DetermineOutcome(br), newTestSnapshot())

	if report.Status != types.StatusFailed {
		t.Errorf("Status = %q, want failed", report.Status)
	}
	if report.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", report.ExitCode)
	}
	if report.Message != "boom" {
		t.Errorf("Message = %q, want boom", report.Message)
	}
}

func TestBuildReport_EmptyBatchRunOmitsTimes(t *testing.T) {
	br := newTestBatchRun()
	report := BuildReport(br, DetermineOutcome(br), newTestSnapshot())

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	for _, key := range []string{"start", "end"} {
		if _, exists := raw[key]; exists {
			t.Errorf("%s should be omitted for an empty batch run", key)
		}
	}
	runs, ok := raw["runs"].([]any)
	if !ok || len(runs) != 0 {
		t.Errorf("runs = %v, want empty array", raw["runs"])
	}
}

func TestWriteReport_File(t *testing.T) {
	br := newTestBatchRun(types.StatusCommitted)
	report := BuildReport(br, DetermineOutcome(br), newTestSnapshot())

	path := filepath.Join(t.TempDir(), "report.json")
	if err := WriteReport(report, path); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	var decoded BatchRunReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal report: %v", err)
	}
	if decoded.BatchRunID != "br-001" {
		t.Errorf("decoded BatchRunID = %q, want %q", decoded.BatchRunID, "br-001")
	}
	if decoded.Status != types.StatusCommitted {
		t.Errorf("decoded Status = %q, want committed", decoded.Status)
	}
}

func TestWriteReport_EmptyPath(t *testing.T) {
	if err := WriteReport(&BatchRunReport{}, ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestWriteReportTo_Writer(t *testing.T) {
	br := newTestBatchRun(types.StatusCommitted)
	report := BuildReport(br, DetermineOutcome(br), newTestSnapshot())

	var buf bytes.Buffer
	if err := writeReportTo(report, &buf); err != nil {
		t.Fatalf("writeReportTo failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	requiredKeys := []string{
		"batch_run_id", "batch", "attempt", "status", "message", "exit_code",
		"needs_intervention", "duration_ms", "runs", "metrics",
	}
	for _, key := range requiredKeys {
		if _, exists := raw[key]; !exists {
			t.Errorf("missing required key %q in report JSON", key)
		}
	}
}

func TestWriteReport_Stderr(t *testing.T) {
	origStderr := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stderr = w

	br := newTestBatchRun(types.StatusCommitted)
	writeErr := WriteReport(BuildReport(br, DetermineOutcome(br), newTestSnapshot()), "-")

	// Restore stderr before any assertions.
	iox.DiscardClose(w)
	os.Stderr = origStderr

	if writeErr != nil {
		t.Fatalf("WriteReport to stderr failed: %v", writeErr)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("failed to read from pipe: %v", err)
	}
	var decoded BatchRunReport
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("stderr output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	if decoded.BatchRunID != "br-001" {
		t.Errorf("decoded BatchRunID = %q, want %q", decoded.BatchRunID, "br-001")
	}
}
