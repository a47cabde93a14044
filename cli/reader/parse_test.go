package reader

import (
	"strings"
	"testing"
)

func TestParseMetricsRecord(t *testing.T) {
	// Records read back through a JSON codec carry float64 numbers.
	record := map[string]any{
		"record_kind":                      "metrics",
		"ts":                               "2026-02-03T15:00:00Z",
		"batch":                            "nightly",
		"batch_run_id":                     "br-abc",
		"batch_runs_started_total":         float64(5),
		"batch_runs_committed_total":       float64(3),
		"batch_runs_failed_total":          float64(2),
		"batch_runs_rolled_back_total":     float64(1),
		"batch_runs_rollback_failed_total": float64(1),
		"validation_failures_total":        float64(0),
		"task_runs_total":                  float64(12),
		"task_commits_total":               int64(9),
		"journal_write_success_total":      float64(40),
		"storage_backend":                  "s3",
		"adapter":                          "webhook",
	}

	parsed, err := ParseMetricsRecord(record)
	if err != nil {
		t.Fatalf("ParseMetricsRecord failed: %v", err)
	}

	if parsed.Ts != "2026-02-03T15:00:00Z" {
		t.Errorf("Ts = %q, want %q", parsed.Ts, "2026-02-03T15:00:00Z")
	}
	if parsed.Batch != "nightly" || parsed.BatchRunID != "br-abc" {
		t.Errorf("Batch/BatchRunID = %q/%q", parsed.Batch, parsed.BatchRunID)
	}
	if parsed.BatchRunsStarted != 5 {
		t.Errorf("BatchRunsStarted = %d, want 5", parsed.BatchRunsStarted)
	}
	if parsed.BatchRunsCommitted != 3 || parsed.BatchRunsFailed != 2 {
		t.Errorf("committed/failed = %d/%d, want 3/2", parsed.BatchRunsCommitted, parsed.BatchRunsFailed)
	}
	if parsed.BatchRunsRollbackFailed != 1 {
		t.Errorf("BatchRunsRollbackFailed = %d, want 1", parsed.BatchRunsRollbackFailed)
	}
	if parsed.TaskRuns != 12 {
		t.Errorf("TaskRuns = %d, want 12", parsed.TaskRuns)
	}
	if parsed.TaskCommits != 9 {
		t.Errorf("TaskCommits = %d, want 9", parsed.TaskCommits)
	}
	if parsed.JournalWriteSuccess != 40 {
		t.Errorf("JournalWriteSuccess = %d, want 40", parsed.JournalWriteSuccess)
	}
	if parsed.StorageBackend != "s3" || parsed.Adapter != "webhook" {
		t.Errorf("dimensions = %q/%q, want s3/webhook", parsed.StorageBackend, parsed.Adapter)
	}
}

func TestParseMetricsRecord_MissingCounters(t *testing.T) {
	record := map[string]any{
		"ts":              "2026-02-03T15:00:00Z",
		"batch_run_id":    "br-abc",
		"storage_backend": "fs",
	}

	parsed, err := ParseMetricsRecord(record)
	if err != nil {
		t.Fatalf("ParseMetricsRecord failed: %v", err)
	}
	if parsed.BatchRunsStarted != 0 || parsed.TaskRuns != 0 {
		t.Errorf("missing counters should be zero, got %+v", parsed)
	}
	if parsed.Adapter != "" {
		t.Errorf("Adapter = %q, want empty", parsed.Adapter)
	}
}

func TestParseMetricsRecord_RequiredFields(t *testing.T) {
	full := func() map[string]any {
		return map[string]any{
			"ts":              "2026-02-03T15:00:00Z",
			"batch_run_id":    "br-abc",
			"storage_backend": "fs",
		}
	}

	tests := []struct {
		name    string
		record  map[string]any
		wantErr string
	}{
		{name: "nil record", record: nil, wantErr: "nil record"},
		{name: "missing ts", record: without(full(), "ts"), wantErr: "ts"},
		{name: "missing batch_run_id", record: without(full(), "batch_run_id"), wantErr: "batch_run_id"},
		{name: "missing storage_backend", record: without(full(), "storage_backend"), wantErr: "storage_backend"},
		{name: "wrong ts type", record: with(full(), "ts", 42), wantErr: "ts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMetricsRecord(tt.record)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func without(m map[string]any, key string) map[string]any {
	delete(m, key)
	return m
}

func with(m map[string]any, key string, v any) map[string]any {
	m[key] = v
	return m
}
