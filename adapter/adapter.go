// Package adapter defines the notification boundary for finished batch runs.
//
// Adapters publish batch run completion notifications to downstream
// systems. The engine owns adapter lifecycle; users provide configuration
// only.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/taskmanager/types"
)

// EventTypeBatchRunCompleted is the event_type of every completion event.
const EventTypeBatchRunCompleted = "batch_run_completed"

// BatchRunCompletedEvent is the payload published when a batch run reaches
// a terminal state.
type BatchRunCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "batch_run_completed"
	BatchRunID      string `json:"batch_run_id"`
	Batch           string `json:"batch"`
	Attempt         int    `json:"attempt"`
	Status          string `json:"status"` // derived BatchRun status
	Message         string `json:"message,omitempty"`
	// NeedsIntervention is set when a commit or rollback failed.
	NeedsIntervention bool   `json:"needs_intervention"`
	Start             string `json:"start,omitempty"` // ISO 8601
	End               string `json:"end,omitempty"`   // ISO 8601
	Timestamp         string `json:"timestamp"`       // ISO 8601
	RunCount          int    `json:"run_count"`
	DurationMs        int64  `json:"duration_ms"`
}

// NewBatchRunCompletedEvent builds the completion event for br at time at.
func NewBatchRunCompletedEvent(br *types.BatchRun, at time.Time) *BatchRunCompletedEvent {
	ev := &BatchRunCompletedEvent{
		ContractVersion:   types.ContractVersion,
		EventType:         EventTypeBatchRunCompleted,
		BatchRunID:        br.ID,
		Batch:             br.Batch,
		Attempt:           br.Attempt,
		Status:            string(br.Status()),
		Message:           br.Message(),
		NeedsIntervention: br.NeedsIntervention(),
		Timestamp:         at.UTC().Format(time.RFC3339Nano),
		RunCount:          len(br.Runs),
	}
	start, end := br.Start(), br.End()
	if !start.IsZero() {
		ev.Start = start.UTC().Format(time.RFC3339Nano)
	}
	if !end.IsZero() {
		ev.End = end.UTC().Format(time.RFC3339Nano)
	}
	if !start.IsZero() && end.After(start) {
		ev.DurationMs = end.Sub(start).Milliseconds()
	}
	return ev
}

// Adapter publishes batch run completion events to a downstream system.
type Adapter interface {
	// Publish sends a completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *BatchRunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Backoff returns the delay before retry attempt i (i >= 1):
// 500ms, 1s, 2s, ...
func Backoff(i int) time.Duration {
	if i < 1 {
		return 0
	}
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// Wait sleeps for the backoff of attempt i or until ctx is done.
func Wait(ctx context.Context, i int) error {
	d := Backoff(i)
	if d == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
