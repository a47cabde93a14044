package lode

import (
	"context"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/taskmanager/metrics"
	"github.com/pithecene-io/taskmanager/types"
)

// LodeJournal is a Lode-backed implementation of Journal.
// Uses Lode's HiveLayout with partition keys record_kind/batch/day/batch_run_id.
type LodeJournal struct {
	dataset lode.Dataset
	config  Config

	mu      sync.Mutex       // guards lastSeq and serializes writes
	lastSeq map[string]int64 // highest run sequence written per batch run
}

// NewLodeJournal creates a journal with filesystem storage.
// The root parameter is the base directory for Hive-partitioned storage.
func NewLodeJournal(cfg Config, root string) (*LodeJournal, error) {
	return NewLodeJournalWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeJournalWithFactory creates a journal with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeJournalWithFactory(cfg Config, factory lode.StoreFactory) (*LodeJournal, error) {
	ds, err := NewDataset(cfg.dataset(), factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.dataset())
	}
	return &LodeJournal{
		dataset: ds,
		config:  cfg,
		lastSeq: make(map[string]int64),
	}, nil
}

// Dataset returns the underlying dataset for read-side queries.
func (j *LodeJournal) Dataset() lode.Dataset {
	return j.dataset
}

func (j *LodeJournal) write(ctx context.Context, record map[string]any) error {
	if _, err := j.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, j.config.dataset()+"/"+toString(record["record_kind"]))
	}
	return nil
}

// BeginBatchRun implements Journal.
func (j *LodeJournal) BeginBatchRun(ctx context.Context, meta *types.RunMeta, at time.Time) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.write(ctx, toBatchRunRecordMap(meta, at))
}

// AppendRun implements Journal.
//
// Revisions must arrive in increasing sequence order per batch run; a
// revision at or below the last written sequence is a replay and is
// skipped, which keeps the journal free of duplicates when a caller
// retries after a partial failure.
func (j *LodeJournal) AppendRun(ctx context.Context, meta *types.RunMeta, run types.Run) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if last, ok := j.lastSeq[meta.BatchRunID]; ok && run.Seq <= last {
		return nil
	}
	if err := j.write(ctx, toRunRecordMap(meta, run)); err != nil {
		return err
	}
	// Only advance after a successful write.
	j.lastSeq[meta.BatchRunID] = run.Seq
	return nil
}

// WriteMetrics implements Journal.
func (j *LodeJournal) WriteMetrics(ctx context.Context, meta *types.RunMeta, snap metrics.Snapshot, at time.Time) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.write(ctx, toMetricsRecordMap(meta, snap, at))
}

// ReadBatchRun implements Journal.
func (j *LodeJournal) ReadBatchRun(ctx context.Context, id string) (*types.BatchRun, error) {
	br, err := ReadBatchRun(ctx, j.dataset, id)
	if err != nil {
		return nil, err
	}
	j.mu.Lock()
	if br.Runs != nil {
		last := br.Runs[0].Seq
		for _, r := range br.Runs {
			last = max(last, r.Seq)
		}
		j.lastSeq[id] = max(j.lastSeq[id], last)
	}
	j.mu.Unlock()
	return br, nil
}

// ListBatchRuns implements Journal.
func (j *LodeJournal) ListBatchRuns(ctx context.Context, batch string) ([]*types.BatchRun, error) {
	return ListBatchRuns(ctx, j.dataset, batch)
}

// Close releases journal resources.
func (j *LodeJournal) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}

// Verify LodeJournal implements Journal.
var _ Journal = (*LodeJournal)(nil)
