package lode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/taskmanager/types"
)

// ErrNoMetricsFound is returned when no metrics records exist in the dataset.
var ErrNoMetricsFound = errors.New("no metrics records found")

// scanRecords visits every record matching filter, oldest snapshot first,
// or newest first when reverse is set. Visiting stops when visit returns
// false.
func scanRecords(ctx context.Context, ds lode.Dataset, filter partitionFilter, reverse bool, visit func(map[string]any) bool) error {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return WrapReadError(err, "journal/snapshots")
	}

	for n := range snapshots {
		i := n
		if reverse {
			i = len(snapshots) - 1 - n
		}
		snap := snapshots[i]
		if !filter.matches(snap) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return WrapReadError(err, fmt.Sprintf("journal/snapshot/%s", snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || !filter.matchesRecord(record) {
				continue
			}
			if !visit(record) {
				return nil
			}
		}
	}
	return nil
}

// QueryLatestMetrics finds the most recent metrics record.
// Filters by batch if non-empty. Returns the raw record map or
// ErrNoMetricsFound if none exist.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, batch string) (map[string]any, error) {
	filter := partitionFilter{"record_kind": RecordKindMetrics, "batch": batch}
	var found map[string]any
	err := scanRecords(ctx, ds, filter, true, func(record map[string]any) bool {
		found = record
		return false
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNoMetricsFound
	}
	return found, nil
}

// batchRunState accumulates the records of one batch run.
type batchRunState struct {
	id        string
	batch     string
	attempt   int
	begun     time.Time
	revisions []types.Run
	seen      map[string]struct{}
}

// collect folds the records of every batch run accepted by filter.
// Snapshots may repeat records, so revisions are deduplicated by run id
// and sequence.
func collect(ctx context.Context, ds lode.Dataset, filter partitionFilter) (map[string]*batchRunState, error) {
	states := make(map[string]*batchRunState)
	get := func(id string) *batchRunState {
		st, ok := states[id]
		if !ok {
			st = &batchRunState{id: id, attempt: 1, seen: make(map[string]struct{})}
			states[id] = st
		}
		return st
	}

	var parseErr error
	err := scanRecords(ctx, ds, filter, false, func(record map[string]any) bool {
		id := toString(record["batch_run_id"])
		if id == "" {
			return true
		}
		switch toString(record["record_kind"]) {
		case RecordKindBatchRun:
			st := get(id)
			st.batch = toString(record["batch"])
			if a := int(toInt64(record["attempt"])); a > st.attempt {
				st.attempt = a
			}
			if ts, err := parseTime(record["ts"]); err == nil && (st.begun.IsZero() || ts.Before(st.begun)) {
				st.begun = ts
			}
		case RecordKindRun:
			r, err := runFromRecord(record)
			if err != nil {
				parseErr = err
				return false
			}
			st := get(id)
			if st.batch == "" {
				st.batch = toString(record["batch"])
			}
			key := r.ID + "#" + strconv.FormatInt(r.Seq, 10)
			if _, dup := st.seen[key]; dup {
				return true
			}
			st.seen[key] = struct{}{}
			st.revisions = append(st.revisions, r)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return states, nil
}

func (st *batchRunState) build() *types.BatchRun {
	br := types.NewBatchRun(st.id, st.batch)
	br.Attempt = st.attempt
	sort.SliceStable(st.revisions, func(i, j int) bool { return st.revisions[i].Seq < st.revisions[j].Seq })
	br.Restore(st.revisions)
	return br
}

// ReadBatchRun reconstructs the batch run id from ds.
func ReadBatchRun(ctx context.Context, ds lode.Dataset, id string) (*types.BatchRun, error) {
	states, err := collect(ctx, ds, partitionFilter{"batch_run_id": id})
	if err != nil {
		return nil, err
	}
	st, ok := states[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchRunNotFound, id)
	}
	return st.build(), nil
}

// ListBatchRuns reconstructs the batch runs of batch, oldest first.
// An empty batch lists every batch run.
func ListBatchRuns(ctx context.Context, ds lode.Dataset, batch string) ([]*types.BatchRun, error) {
	states, err := collect(ctx, ds, partitionFilter{"batch": batch})
	if err != nil {
		return nil, err
	}
	list := make([]*batchRunState, 0, len(states))
	for _, st := range states {
		list = append(list, st)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].begun.Equal(list[j].begun) {
			return list[i].begun.Before(list[j].begun)
		}
		return list[i].id < list[j].id
	})
	out := make([]*types.BatchRun, len(list))
	for i, st := range list {
		out[i] = st.build()
	}
	return out, nil
}
