package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrRunTerminal is returned when a transition is attempted on a terminal run.
var ErrRunTerminal = errors.New("run is terminal")

// Run is one execution attempt of one task within a batch run.
//
// Run is a value: Transition returns a new Run and never mutates the
// receiver. Every transition is also appended to the run journal, so the
// stored history is append-only.
type Run struct {
	// ID identifies the attempt. Transitions of the same attempt share it.
	ID string `json:"id"`
	// BatchRunID is the owning batch run.
	BatchRunID string `json:"batch_run_id"`
	// Task is the task this attempt executes.
	Task TaskRef `json:"task"`
	// Index is the batch element position.
	Index  int       `json:"index"`
	Status Status    `json:"status"`
	Start  time.Time `json:"start"`
	// End is zero until the run leaves running.
	End     time.Time `json:"end,omitempty"`
	Message string    `json:"message,omitempty"`
	// Seq orders transitions within a batch run.
	Seq int64 `json:"seq"`
}

// NewRun creates a pending run.
func NewRun(id, batchRunID string, el BatchElement, at time.Time) Run {
	return Run{
		ID:         id,
		BatchRunID: batchRunID,
		Task:       el.Task,
		Index:      el.Index,
		Status:     StatusPending,
		Start:      at,
	}
}

// Transition returns a copy of r moved to next.
// The start time is reset when the run begins executing; the end time is
// stamped on every later transition.
func (r Run) Transition(next Status, at time.Time, message string) (Run, error) {
	if r.Status.IsTerminal() {
		return r, fmt.Errorf("%w: %s is %s", ErrRunTerminal, r.Task, r.Status)
	}
	if !r.Status.CanTransition(next) {
		return r, fmt.Errorf("invalid transition for %s: %s -> %s", r.Task, r.Status, next)
	}
	out := r
	out.Status = next
	out.Message = message
	if next == StatusRunning {
		out.Start = at
	} else {
		out.End = at
	}
	return out, nil
}
