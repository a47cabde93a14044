package reader

import (
	"errors"

	"github.com/pithecene-io/taskmanager/lode"
)

// ParseMetricsRecord converts a Lode record (map[string]any) to a MetricsSnapshot.
// Numeric fields may be int64 (direct writes) or float64 (JSON round-trips).
func ParseMetricsRecord(record map[string]any) (*MetricsSnapshot, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}

	s := lode.SnapshotFromRecord(record)
	snap := &MetricsSnapshot{
		Ts:         toString(record["ts"]),
		Batch:      toString(record["batch"]),
		BatchRunID: toString(record["batch_run_id"]),

		BatchRunsStarted:        s.BatchRunsStarted,
		BatchRunsCommitted:      s.BatchRunsCommitted,
		BatchRunsFailed:         s.BatchRunsFailed,
		BatchRunsRolledBack:     s.BatchRunsRolledBack,
		BatchRunsCommitFailed:   s.BatchRunsCommitFailed,
		BatchRunsRollbackFailed: s.BatchRunsRollbackFailed,
		BatchRunsInterrupted:    s.BatchRunsInterrupted,
		ValidationFailures:      s.ValidationFailures,

		TaskRuns:             s.TaskRuns,
		TaskRunFailures:      s.TaskRunFailures,
		TaskCommits:          s.TaskCommits,
		TaskCommitFailures:   s.TaskCommitFailures,
		TaskRollbacks:        s.TaskRollbacks,
		TaskRollbackFailures: s.TaskRollbackFailures,
		TaskCleanups:         s.TaskCleanups,
		TaskCleanupFailures:  s.TaskCleanupFailures,

		JournalWriteSuccess: s.JournalWriteSuccess,
		JournalWriteFailure: s.JournalWriteFailure,

		StorageBackend: s.StorageBackend,
		Adapter:        s.Adapter,
	}

	// The write path always populates these; missing values indicate
	// data corruption or a malformed record.
	if snap.Ts == "" {
		return nil, errors.New("metrics record missing required field: ts")
	}
	if snap.BatchRunID == "" {
		return nil, errors.New("metrics record missing required field: batch_run_id")
	}
	if snap.StorageBackend == "" {
		return nil, errors.New("metrics record missing required field: storage_backend")
	}

	return snap, nil
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
