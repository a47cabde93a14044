package reader

import (
	"time"

	"github.com/pithecene-io/taskmanager/types"
)

// BatchRunView is the inspect view of one batch run.
type BatchRunView struct {
	BatchRunID        string       `json:"batch_run_id"`
	Batch             string       `json:"batch"`
	Attempt           int          `json:"attempt"`
	Status            types.Status `json:"status"`
	Message           string       `json:"message,omitempty"`
	NeedsIntervention bool         `json:"needs_intervention"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	EndedAt           *time.Time   `json:"ended_at,omitempty"`
	Runs              []RunView    `json:"runs"`
	// History is every recorded run, earlier attempts included.
	History []RunView `json:"history,omitempty"`
}

// RunView is one run of a task.
type RunView struct {
	Index   int          `json:"index"`
	Task    string       `json:"task"`
	Status  types.Status `json:"status"`
	Start   *time.Time   `json:"start,omitempty"`
	End     *time.Time   `json:"end,omitempty"`
	Message string       `json:"message,omitempty"`
}

// ListBatchRunsOptions filters batch run listings.
type ListBatchRunsOptions struct {
	// Batch restricts the listing to one batch. Empty lists every batch.
	Batch string
	// Status keeps batch runs with this derived status only.
	Status string
	// Limit keeps the most recent batch runs only (0 = no limit).
	Limit int
}

// BatchRunItem is a batch run in a listing.
type BatchRunItem struct {
	BatchRunID string       `json:"batch_run_id"`
	Batch      string       `json:"batch"`
	Attempt    int          `json:"attempt"`
	Status     types.Status `json:"status"`
	Runs       int          `json:"runs"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	EndedAt    *time.Time   `json:"ended_at,omitempty"`
}

// BatchItem is a batch definition in a listing.
type BatchItem struct {
	Name          string `json:"name"`
	Workspace     string `json:"workspace,omitempty"`
	Configuration string `json:"configuration,omitempty"`
	Frequency     string `json:"frequency,omitempty"`
	Enabled       bool   `json:"enabled"`
	Tasks         int    `json:"tasks"`
}

// BatchView is the inspect view of a batch definition.
type BatchView struct {
	Name          string        `json:"name"`
	Workspace     string        `json:"workspace,omitempty"`
	Configuration string        `json:"configuration,omitempty"`
	Description   string        `json:"description,omitempty"`
	Frequency     string        `json:"frequency,omitempty"`
	Enabled       bool          `json:"enabled"`
	Elements      []ElementView `json:"elements"`
}

// ElementView is one element of a batch with the type of its task.
type ElementView struct {
	Index    int    `json:"index"`
	Task     string `json:"task"`
	TaskType string `json:"task_type,omitempty"`
}

// ConfigurationItem is a configuration in a listing.
type ConfigurationItem struct {
	Name       string `json:"name"`
	Workspace  string `json:"workspace,omitempty"`
	Template   bool   `json:"template"`
	Tasks      int    `json:"tasks"`
	Attributes int    `json:"attributes"`
}

// TaskTypeItem is a registered task type in a listing.
type TaskTypeItem struct {
	Name       string          `json:"name"`
	Parameters []ParameterItem `json:"parameters"`
}

// ParameterItem describes one declared parameter of a task type.
type ParameterItem struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Required  bool     `json:"required"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// BatchRunStats counts batch runs by derived status.
type BatchRunStats struct {
	Batch             string `json:"batch,omitempty"`
	Total             int    `json:"total"`
	Committed         int    `json:"committed"`
	Failed            int    `json:"failed"`
	Running           int    `json:"running"`
	NeedsIntervention int    `json:"needs_intervention"`
}

// MetricsSnapshot is a persisted engine metrics record.
type MetricsSnapshot struct {
	Ts         string `json:"ts"`
	Batch      string `json:"batch"`
	BatchRunID string `json:"batch_run_id"`

	BatchRunsStarted        int64 `json:"batch_runs_started_total"`
	BatchRunsCommitted      int64 `json:"batch_runs_committed_total"`
	BatchRunsFailed         int64 `json:"batch_runs_failed_total"`
	BatchRunsRolledBack     int64 `json:"batch_runs_rolled_back_total"`
	BatchRunsCommitFailed   int64 `json:"batch_runs_commit_failed_total"`
	BatchRunsRollbackFailed int64 `json:"batch_runs_rollback_failed_total"`
	BatchRunsInterrupted    int64 `json:"batch_runs_interrupted_total"`
	ValidationFailures      int64 `json:"validation_failures_total"`

	TaskRuns             int64 `json:"task_runs_total"`
	TaskRunFailures      int64 `json:"task_run_failures_total"`
	TaskCommits          int64 `json:"task_commits_total"`
	TaskCommitFailures   int64 `json:"task_commit_failures_total"`
	TaskRollbacks        int64 `json:"task_rollbacks_total"`
	TaskRollbackFailures int64 `json:"task_rollback_failures_total"`
	TaskCleanups         int64 `json:"task_cleanups_total"`
	TaskCleanupFailures  int64 `json:"task_cleanup_failures_total"`

	JournalWriteSuccess int64 `json:"journal_write_success_total"`
	JournalWriteFailure int64 `json:"journal_write_failure_total"`

	StorageBackend string `json:"storage_backend"`
	Adapter        string `json:"adapter,omitempty"`
}

// TaskParametersView shows how the parameters of one task resolve.
type TaskParametersView struct {
	Configuration string              `json:"configuration"`
	Task          string              `json:"task"`
	TaskType      string              `json:"task_type"`
	Parameters    []TaskParameterView `json:"parameters"`
	Problems      []string            `json:"problems,omitempty"`
}

// TaskParameterView is one declared parameter of a task.
type TaskParameterView struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Raw      string   `json:"raw,omitempty"`
	Value    string   `json:"value,omitempty"`
	Resolved bool     `json:"resolved"`
	Domain   []string `json:"domain,omitempty"`
}
