// Package lode persists the run journal on Lode datasets.
//
// The journal is append-only: every Run transition becomes one record and
// nothing is rewritten. A BatchRun is reconstructed by folding its
// transition records by run id in sequence order.
package lode

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pithecene-io/taskmanager/metrics"
	"github.com/pithecene-io/taskmanager/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "taskmanager"

// DeriveDay computes the partition day from a record timestamp.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Config holds journal configuration.
type Config struct {
	// Dataset is the Lode dataset ID. Defaults to DefaultDataset.
	Dataset string
}

func (c Config) dataset() string {
	if c.Dataset == "" {
		return DefaultDataset
	}
	return c.Dataset
}

// Journal records batch run history.
type Journal interface {
	// BeginBatchRun records the start of an attempt of a batch run.
	BeginBatchRun(ctx context.Context, meta *types.RunMeta, at time.Time) error

	// AppendRun records one Run revision. Revisions are never rewritten.
	AppendRun(ctx context.Context, meta *types.RunMeta, run types.Run) error

	// WriteMetrics records a metrics snapshot taken at the end of a batch run.
	WriteMetrics(ctx context.Context, meta *types.RunMeta, snap metrics.Snapshot, at time.Time) error

	// ReadBatchRun reconstructs a batch run.
	// Returns ErrBatchRunNotFound if the journal has no record of it.
	ReadBatchRun(ctx context.Context, id string) (*types.BatchRun, error)

	// ListBatchRuns reconstructs every batch run of a batch, oldest first.
	// An empty batch name lists all batch runs.
	ListBatchRuns(ctx context.Context, batch string) ([]*types.BatchRun, error)

	// Close releases journal resources.
	Close() error
}

// StubJournal is an in-memory Journal for tests.
type StubJournal struct {
	mu sync.Mutex

	Begins  []types.RunMeta
	Runs    []types.Run
	Metrics []metrics.Snapshot
	Closed  bool

	// AppendErr, when set, fails every AppendRun call.
	AppendErr error

	batches map[string]string
	order   []string
}

// NewStubJournal creates an empty stub journal.
func NewStubJournal() *StubJournal {
	return &StubJournal{batches: make(map[string]string)}
}

// BeginBatchRun implements Journal.
func (j *StubJournal) BeginBatchRun(_ context.Context, meta *types.RunMeta, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Begins = append(j.Begins, *meta)
	if _, ok := j.batches[meta.BatchRunID]; !ok {
		j.order = append(j.order, meta.BatchRunID)
	}
	j.batches[meta.BatchRunID] = meta.Batch
	return nil
}

// AppendRun implements Journal.
func (j *StubJournal) AppendRun(_ context.Context, _ *types.RunMeta, run types.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.AppendErr != nil {
		return j.AppendErr
	}
	j.Runs = append(j.Runs, run)
	return nil
}

// WriteMetrics implements Journal.
func (j *StubJournal) WriteMetrics(_ context.Context, _ *types.RunMeta, snap metrics.Snapshot, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Metrics = append(j.Metrics, snap)
	return nil
}

// ReadBatchRun implements Journal.
func (j *StubJournal) ReadBatchRun(_ context.Context, id string) (*types.BatchRun, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fold(id)
}

// ListBatchRuns implements Journal.
func (j *StubJournal) ListBatchRuns(_ context.Context, batch string) ([]*types.BatchRun, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*types.BatchRun
	for _, id := range j.order {
		if batch != "" && j.batches[id] != batch {
			continue
		}
		br, err := j.fold(id)
		if err != nil {
			return nil, err
		}
		out = append(out, br)
	}
	return out, nil
}

// fold must be called with j.mu held.
func (j *StubJournal) fold(id string) (*types.BatchRun, error) {
	batch, ok := j.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchRunNotFound, id)
	}
	br := types.NewBatchRun(id, batch)
	for _, m := range j.Begins {
		if m.BatchRunID == id && m.Attempt > br.Attempt {
			br.Attempt = m.Attempt
		}
	}
	var revisions []types.Run
	for _, r := range j.Runs {
		if r.BatchRunID == id {
			revisions = append(revisions, r)
		}
	}
	sort.SliceStable(revisions, func(a, b int) bool { return revisions[a].Seq < revisions[b].Seq })
	br.Restore(revisions)
	return br, nil
}

// Close implements Journal.
func (j *StubJournal) Close() error {
	j.mu.Lock()
	j.Closed = true
	j.mu.Unlock()
	return nil
}

// Statuses returns the status of every appended revision of the run
// executing ref, in append order.
func (j *StubJournal) Statuses(ref types.TaskRef) []types.Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []types.Status
	for _, r := range j.Runs {
		if r.Task == ref {
			out = append(out, r.Status)
		}
	}
	return out
}

// Verify StubJournal implements Journal.
var _ Journal = (*StubJournal)(nil)
