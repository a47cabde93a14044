package lode

import (
	"fmt"
	"time"

	"github.com/pithecene-io/taskmanager/metrics"
	"github.com/pithecene-io/taskmanager/types"
)

// Record kind discriminator values. record_kind is also the first
// partition key.
const (
	RecordKindBatchRun = "batch_run"
	RecordKindRun      = "run_transition"
	RecordKindMetrics  = "metrics"
)

// partitionKeys is the Hive layout shared by the write and read paths.
// Every record carries all of them.
var partitionKeys = []string{"record_kind", "batch", "day", "batch_run_id"}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v any) (time.Time, error) {
	s := toString(v)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func baseRecord(kind string, meta *types.RunMeta, at time.Time) map[string]any {
	return map[string]any{
		"record_kind":      kind,
		"contract_version": types.ContractVersion,
		"batch_run_id":     meta.BatchRunID,
		"batch":            meta.Batch,
		"attempt":          meta.Attempt,
		"day":              DeriveDay(at),
		"ts":               formatTime(at),
	}
}

// toBatchRunRecordMap converts an attempt start to a map for Lode storage.
// Lode HiveLayout requires records as map[string]any.
func toBatchRunRecordMap(meta *types.RunMeta, at time.Time) map[string]any {
	return baseRecord(RecordKindBatchRun, meta, at)
}

// toRunRecordMap converts a Run revision to a map for storage.
// The record is stamped with the time of the transition it describes.
func toRunRecordMap(meta *types.RunMeta, r types.Run) map[string]any {
	at := r.Start
	if !r.End.IsZero() {
		at = r.End
	}
	m := baseRecord(RecordKindRun, meta, at)
	m["run_id"] = r.ID
	m["seq"] = r.Seq
	m["configuration"] = r.Task.Configuration
	m["task"] = r.Task.Task
	m["index"] = r.Index
	m["status"] = string(r.Status)
	m["start"] = formatTime(r.Start)
	m["end"] = formatTime(r.End)
	m["message"] = r.Message
	return m
}

// toMetricsRecordMap converts a metrics snapshot to a map for storage.
func toMetricsRecordMap(meta *types.RunMeta, s metrics.Snapshot, at time.Time) map[string]any {
	m := baseRecord(RecordKindMetrics, meta, at)
	m["batch_runs_started_total"] = s.BatchRunsStarted
	m["batch_runs_committed_total"] = s.BatchRunsCommitted
	m["batch_runs_failed_total"] = s.BatchRunsFailed
	m["batch_runs_rolled_back_total"] = s.BatchRunsRolledBack
	m["batch_runs_commit_failed_total"] = s.BatchRunsCommitFailed
	m["batch_runs_rollback_failed_total"] = s.BatchRunsRollbackFailed
	m["batch_runs_interrupted_total"] = s.BatchRunsInterrupted
	m["validation_failures_total"] = s.ValidationFailures
	m["task_runs_total"] = s.TaskRuns
	m["task_run_failures_total"] = s.TaskRunFailures
	m["task_commits_total"] = s.TaskCommits
	m["task_commit_failures_total"] = s.TaskCommitFailures
	m["task_rollbacks_total"] = s.TaskRollbacks
	m["task_rollback_failures_total"] = s.TaskRollbackFailures
	m["task_cleanups_total"] = s.TaskCleanups
	m["task_cleanup_failures_total"] = s.TaskCleanupFailures
	m["journal_write_success_total"] = s.JournalWriteSuccess
	m["journal_write_failure_total"] = s.JournalWriteFailure
	m["scheduler_fired_total"] = s.SchedulerFired
	m["scheduler_overlap_skipped_total"] = s.SchedulerOverlapSkipped
	m["storage_backend"] = s.StorageBackend
	m["adapter"] = s.Adapter
	return m
}

// SnapshotFromRecord rebuilds a metrics snapshot from a stored record.
func SnapshotFromRecord(m map[string]any) metrics.Snapshot {
	return metrics.Snapshot{
		BatchRunsStarted:        toInt64(m["batch_runs_started_total"]),
		BatchRunsCommitted:      toInt64(m["batch_runs_committed_total"]),
		BatchRunsFailed:         toInt64(m["batch_runs_failed_total"]),
		BatchRunsRolledBack:     toInt64(m["batch_runs_rolled_back_total"]),
		BatchRunsCommitFailed:   toInt64(m["batch_runs_commit_failed_total"]),
		BatchRunsRollbackFailed: toInt64(m["batch_runs_rollback_failed_total"]),
		BatchRunsInterrupted:    toInt64(m["batch_runs_interrupted_total"]),
		ValidationFailures:      toInt64(m["validation_failures_total"]),
		TaskRuns:                toInt64(m["task_runs_total"]),
		TaskRunFailures:         toInt64(m["task_run_failures_total"]),
		TaskCommits:             toInt64(m["task_commits_total"]),
		TaskCommitFailures:      toInt64(m["task_commit_failures_total"]),
		TaskRollbacks:           toInt64(m["task_rollbacks_total"]),
		TaskRollbackFailures:    toInt64(m["task_rollback_failures_total"]),
		TaskCleanups:            toInt64(m["task_cleanups_total"]),
		TaskCleanupFailures:     toInt64(m["task_cleanup_failures_total"]),
		JournalWriteSuccess:     toInt64(m["journal_write_success_total"]),
		JournalWriteFailure:     toInt64(m["journal_write_failure_total"]),
		SchedulerFired:          toInt64(m["scheduler_fired_total"]),
		SchedulerOverlapSkipped: toInt64(m["scheduler_overlap_skipped_total"]),
		StorageBackend:          toString(m["storage_backend"]),
		Adapter:                 toString(m["adapter"]),
	}
}

// runFromRecord converts a stored transition record back into a Run.
func runFromRecord(m map[string]any) (types.Run, error) {
	status, ok := types.ParseStatus(toString(m["status"]))
	if !ok {
		return types.Run{}, fmt.Errorf("run %s: unknown status %q", toString(m["run_id"]), m["status"])
	}
	start, err := parseTime(m["start"])
	if err != nil {
		return types.Run{}, fmt.Errorf("run %s: start: %w", toString(m["run_id"]), err)
	}
	end, err := parseTime(m["end"])
	if err != nil {
		return types.Run{}, fmt.Errorf("run %s: end: %w", toString(m["run_id"]), err)
	}
	return types.Run{
		ID:         toString(m["run_id"]),
		BatchRunID: toString(m["batch_run_id"]),
		Task: types.TaskRef{
			Configuration: toString(m["configuration"]),
			Task:          toString(m["task"]),
		},
		Index:   int(toInt64(m["index"])),
		Status:  status,
		Start:   start,
		End:     end,
		Message: toString(m["message"]),
		Seq:     toInt64(m["seq"]),
	}, nil
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toInt64 converts a decoded numeric value to int64.
// JSONL decoding yields float64; in-process records hold ints.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}
