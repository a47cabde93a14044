// Package metrics provides engine metrics collection.
//
// The Collector accumulates counters across batch runs executed by one
// engine. It is a leaf package with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Batch run lifecycle
	BatchRunsStarted        int64
	BatchRunsCommitted      int64
	BatchRunsFailed         int64
	BatchRunsRolledBack     int64
	BatchRunsCommitFailed   int64
	BatchRunsRollbackFailed int64
	BatchRunsInterrupted    int64
	ValidationFailures      int64

	// Task operations
	TaskRuns             int64
	TaskRunFailures      int64
	TaskCommits          int64
	TaskCommitFailures   int64
	TaskRollbacks        int64
	TaskRollbackFailures int64
	TaskCleanups         int64
	TaskCleanupFailures  int64

	// Journal
	JournalWriteSuccess int64
	JournalWriteFailure int64

	// Scheduler
	SchedulerFired          int64
	SchedulerOverlapSkipped int64

	// Dimensions (informational, set at construction)
	StorageBackend string
	Adapter        string
}

// Collector accumulates engine metrics.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(storageBackend, adapter string) *Collector {
	return &Collector{s: Snapshot{StorageBackend: storageBackend, Adapter: adapter}}
}

func (c *Collector) inc(field func(*Snapshot) *int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field(&c.s)++
	c.mu.Unlock()
}

// --- Batch run lifecycle ---

// IncBatchRunStarted records a batch run start.
func (c *Collector) IncBatchRunStarted() {
	c.inc(func(s *Snapshot) *int64 { return &s.BatchRunsStarted })
}

// IncBatchRunCommitted records a batch run whose tasks all committed.
func (c *Collector) IncBatchRunCommitted() {
	c.inc(func(s *Snapshot) *int64 { return &s.BatchRunsCommitted })
}

// IncBatchRunFailed records a batch run that ended in failure, including
// validation failure.
func (c *Collector) IncBatchRunFailed() {
	c.inc(func(s *Snapshot) *int64 { return &s.BatchRunsFailed })
}

// IncBatchRunRolledBack records a batch run whose executed tasks were
// rolled back.
func (c *Collector) IncBatchRunRolledBack() {
	c.inc(func(s *Snapshot) *int64 { return &s.BatchRunsRolledBack })
}

// IncBatchRunCommitFailed records a batch run with at least one failed commit.
func (c *Collector) IncBatchRunCommitFailed() {
	c.inc(func(s *Snapshot) *int64 { return &s.BatchRunsCommitFailed })
}

// IncBatchRunRollbackFailed records a batch run with at least one failed
// rollback.
func (c *Collector) IncBatchRunRollbackFailed() {
	c.inc(func(s *Snapshot) *int64 { return &s.BatchRunsRollbackFailed })
}

// IncBatchRunInterrupted records a batch run stopped by cancellation.
func (c *Collector) IncBatchRunInterrupted() {
	c.inc(func(s *Snapshot) *int64 { return &s.BatchRunsInterrupted })
}

// IncValidationFailure records a batch run rejected before execution.
func (c *Collector) IncValidationFailure() {
	c.inc(func(s *Snapshot) *int64 { return &s.ValidationFailures })
}

// --- Task operations ---

// IncTaskRun records a task run invocation.
func (c *Collector) IncTaskRun() {
	c.inc(func(s *Snapshot) *int64 { return &s.TaskRuns })
}

// IncTaskRunFailure records a failed task run invocation.
func (c *Collector) IncTaskRunFailure() {
	c.inc(func(s *Snapshot) *int64 { return &s.TaskRunFailures })
}

// IncTaskCommit records a commit invocation.
func (c *Collector) IncTaskCommit() {
	c.inc(func(s *Snapshot) *int64 { return &s.TaskCommits })
}

// IncTaskCommitFailure records a failed commit.
func (c *Collector) IncTaskCommitFailure() {
	c.inc(func(s *Snapshot) *int64 { return &s.TaskCommitFailures })
}

// IncTaskRollback records a rollback invocation.
func (c *Collector) IncTaskRollback() {
	c.inc(func(s *Snapshot) *int64 { return &s.TaskRollbacks })
}

// IncTaskRollbackFailure records a failed rollback.
func (c *Collector) IncTaskRollbackFailure() {
	c.inc(func(s *Snapshot) *int64 { return &s.TaskRollbackFailures })
}

// IncTaskCleanup records a cleanup invocation.
func (c *Collector) IncTaskCleanup() {
	c.inc(func(s *Snapshot) *int64 { return &s.TaskCleanups })
}

// IncTaskCleanupFailure records a failed cleanup.
func (c *Collector) IncTaskCleanupFailure() {
	c.inc(func(s *Snapshot) *int64 { return &s.TaskCleanupFailures })
}

// --- Journal ---
// Journal counters are per-call. One append of a transition counts as one.

// IncJournalWriteSuccess records a successful journal append.
func (c *Collector) IncJournalWriteSuccess() {
	c.inc(func(s *Snapshot) *int64 { return &s.JournalWriteSuccess })
}

// IncJournalWriteFailure records a failed journal append.
func (c *Collector) IncJournalWriteFailure() {
	c.inc(func(s *Snapshot) *int64 { return &s.JournalWriteFailure })
}

// --- Scheduler ---

// IncSchedulerFired records a trigger firing that started a batch run.
func (c *Collector) IncSchedulerFired() {
	c.inc(func(s *Snapshot) *int64 { return &s.SchedulerFired })
}

// IncSchedulerOverlapSkipped records a firing skipped because the batch
// was already running.
func (c *Collector) IncSchedulerOverlapSkipped() {
	c.inc(func(s *Snapshot) *int64 { return &s.SchedulerOverlapSkipped })
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The Collector can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
