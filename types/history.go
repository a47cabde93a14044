package types

import (
	"errors"
	"fmt"
	"time"
)

// RunMeta carries batch run identity for logging and notifications.
type RunMeta struct {
	// BatchRunID is the canonical batch run identifier. Must be globally unique.
	BatchRunID string
	// Batch is the name of the batch being executed.
	Batch string
	// Attempt counts executions of this batch run. Starts at 1;
	// each manual re-run increments it.
	Attempt int
}

// Validate checks the identity fields.
func (m *RunMeta) Validate() error {
	if m.BatchRunID == "" {
		return errors.New("batch_run_id must be non-empty")
	}
	if m.Batch == "" {
		return errors.New("batch must be non-empty")
	}
	if m.Attempt < 1 {
		return fmt.Errorf("attempt must be >= 1, got %d", m.Attempt)
	}
	return nil
}

// BatchRun is one invocation of a batch. It owns the ordered runs of its
// tasks; status, start, end and message are derived from them and never
// stored.
type BatchRun struct {
	ID      string `json:"id"`
	Batch   string `json:"batch"`
	Attempt int    `json:"attempt"`
	Runs    []Run  `json:"runs"`

	seq int64
}

// NewBatchRun creates an empty batch run.
func NewBatchRun(id, batch string) *BatchRun {
	return &BatchRun{ID: id, Batch: batch, Attempt: 1}
}

// Meta returns the identity of this batch run.
func (b *BatchRun) Meta() *RunMeta {
	return &RunMeta{BatchRunID: b.ID, Batch: b.Batch, Attempt: b.Attempt}
}

// Record stores a run revision. A revision of an existing run replaces it in
// place within the view; a new run is appended. The stamped revision is
// returned so it can be appended to the journal.
func (b *BatchRun) Record(r Run) Run {
	b.seq++
	r.Seq = b.seq
	r.BatchRunID = b.ID
	for i := range b.Runs {
		if b.Runs[i].ID == r.ID {
			b.Runs[i] = r
			return r
		}
	}
	b.Runs = append(b.Runs, r)
	return r
}

// Restore rebuilds a batch run view from journal revisions in sequence order.
func (b *BatchRun) Restore(revisions []Run) {
	for _, r := range revisions {
		found := false
		for i := range b.Runs {
			if b.Runs[i].ID == r.ID {
				b.Runs[i] = r
				found = true
				break
			}
		}
		if !found {
			b.Runs = append(b.Runs, r)
		}
		if r.Seq > b.seq {
			b.seq = r.Seq
		}
	}
}

// Status derives the aggregate status over the latest attempt of each
// batch element.
// Superseded attempts stay in Runs for audit but do not affect the result.
func (b *BatchRun) Status() Status { return DeriveStatus(Latest(b.Runs)) }

// Start derives the start time. See DeriveStart.
func (b *BatchRun) Start() time.Time { return DeriveStart(b.Runs) }

// End derives the end time. See DeriveEnd.
func (b *BatchRun) End() time.Time { return DeriveEnd(b.Runs) }

// Message derives the message. See DeriveMessage.
func (b *BatchRun) Message() string { return DeriveMessage(b.Runs) }

// Done reports whether every run has reached a terminal status.
func (b *BatchRun) Done() bool {
	for _, r := range b.Runs {
		if !r.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// NeedsIntervention reports whether the batch run ended in a state with no
// automatic compensation. See NeedsIntervention.
func (b *BatchRun) NeedsIntervention() bool { return NeedsIntervention(b.Runs) }

// Clone returns a copy whose run slice is independent of b.
func (b *BatchRun) Clone() *BatchRun {
	out := *b
	out.Runs = make([]Run, len(b.Runs))
	copy(out.Runs, b.Runs)
	return &out
}

// DeriveStatus scans runs from the end and returns the first status that is
// not committed. An empty sequence, or one where every run is committed,
// yields StatusCommitted.
func DeriveStatus(runs []Run) Status {
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].Status != StatusCommitted {
			return runs[i].Status
		}
	}
	return StatusCommitted
}

// DeriveStart returns the first run's start, or the zero time.
func DeriveStart(runs []Run) time.Time {
	if len(runs) == 0 {
		return time.Time{}
	}
	return runs[0].Start
}

// DeriveEnd returns the last run's end, or the zero time.
func DeriveEnd(runs []Run) time.Time {
	if len(runs) == 0 {
		return time.Time{}
	}
	return runs[len(runs)-1].End
}

// DeriveMessage returns the last run's message, or "".
func DeriveMessage(runs []Run) string {
	if len(runs) == 0 {
		return ""
	}
	return runs[len(runs)-1].Message
}

// Latest keeps only the most recent run of each batch element, ordered by
// the position of that run in the history. Runs are keyed by element index,
// so a task listed twice in a batch keeps both of its runs.
func Latest(runs []Run) []Run {
	last := make(map[int]int, len(runs))
	for i, r := range runs {
		last[r.Index] = i
	}
	out := make([]Run, 0, len(last))
	for i, r := range runs {
		if last[r.Index] == i {
			out = append(out, r)
		}
	}
	return out
}

// NeedsIntervention reports whether the latest run of any batch element
// failed to commit or to roll back.
func NeedsIntervention(runs []Run) bool {
	for _, r := range Latest(runs) {
		if r.Status == StatusNotRolledBack || r.Status == StatusNotCommitted {
			return true
		}
	}
	return false
}
