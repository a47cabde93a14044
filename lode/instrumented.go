package lode

import (
	"context"
	"time"

	"github.com/pithecene-io/taskmanager/metrics"
	"github.com/pithecene-io/taskmanager/types"
)

// InstrumentedJournal wraps a Journal and records write metrics.
// Each append increments journal_write_success or journal_write_failure
// on the metrics collector. Reads are not counted.
type InstrumentedJournal struct {
	inner     Journal
	collector *metrics.Collector
}

// NewInstrumentedJournal wraps a journal with metrics instrumentation.
func NewInstrumentedJournal(inner Journal, collector *metrics.Collector) *InstrumentedJournal {
	return &InstrumentedJournal{inner: inner, collector: collector}
}

func (j *InstrumentedJournal) record(err error) error {
	if err != nil {
		j.collector.IncJournalWriteFailure()
	} else {
		j.collector.IncJournalWriteSuccess()
	}
	return err
}

// BeginBatchRun delegates to the inner journal and records success or failure.
func (j *InstrumentedJournal) BeginBatchRun(ctx context.Context, meta *types.RunMeta, at time.Time) error {
	return j.record(j.inner.BeginBatchRun(ctx, meta, at))
}

// AppendRun delegates to the inner journal and records success or failure.
func (j *InstrumentedJournal) AppendRun(ctx context.Context, meta *types.RunMeta, run types.Run) error {
	return j.record(j.inner.AppendRun(ctx, meta, run))
}

// WriteMetrics delegates to the inner journal and records success or failure.
func (j *InstrumentedJournal) WriteMetrics(ctx context.Context, meta *types.RunMeta, snap metrics.Snapshot, at time.Time) error {
	return j.record(j.inner.WriteMetrics(ctx, meta, snap, at))
}

// ReadBatchRun delegates to the inner journal.
func (j *InstrumentedJournal) ReadBatchRun(ctx context.Context, id string) (*types.BatchRun, error) {
	return j.inner.ReadBatchRun(ctx, id)
}

// ListBatchRuns delegates to the inner journal.
func (j *InstrumentedJournal) ListBatchRuns(ctx context.Context, batch string) ([]*types.BatchRun, error) {
	return j.inner.ListBatchRuns(ctx, batch)
}

// Close delegates to the inner journal.
func (j *InstrumentedJournal) Close() error {
	return j.inner.Close()
}

// Verify InstrumentedJournal implements Journal.
var _ Journal = (*InstrumentedJournal)(nil)
