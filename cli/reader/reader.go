// Package reader builds the read-only views of the inspect, list and stats
// commands from the run journal and the definition store.
//
// All methods are read-only and never mutate the journal or the store.
package reader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	lodelib "github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/taskmanager/lode"
	"github.com/pithecene-io/taskmanager/store"
	"github.com/pithecene-io/taskmanager/task"
	"github.com/pithecene-io/taskmanager/types"
	"github.com/pithecene-io/taskmanager/validation"
)

// ErrNoDataset is returned by metrics queries when the journal has no
// queryable dataset.
var ErrNoDataset = errors.New("journal has no dataset to query")

// Reader reads batch runs, definitions and metrics.
type Reader struct {
	journal  lode.Journal
	store    store.Store
	registry *task.Registry
	dataset  lodelib.Dataset
}

// New creates a reader. dataset may be nil; metrics queries then fail with
// ErrNoDataset.
func New(journal lode.Journal, st store.Store, reg *task.Registry, dataset lodelib.Dataset) *Reader {
	return &Reader{journal: journal, store: st, registry: reg, dataset: dataset}
}

// InspectBatchRun returns the view of one batch run.
func (r *Reader) InspectBatchRun(ctx context.Context, id string) (*BatchRunView, error) {
	br, err := r.journal.ReadBatchRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return BatchRunViewOf(br), nil
}

// BatchRunViewOf converts a batch run to its inspect view.
func BatchRunViewOf(br *types.BatchRun) *BatchRunView {
	v := &BatchRunView{
		BatchRunID:        br.ID,
		Batch:             br.Batch,
		Attempt:           br.Attempt,
		Status:            br.Status(),
		Message:           br.Message(),
		NeedsIntervention: br.NeedsIntervention(),
		StartedAt:         timePtr(br.Start()),
		EndedAt:           timePtr(br.End()),
		Runs:              runViews(types.Latest(br.Runs)),
	}
	if len(br.Runs) > len(v.Runs) {
		v.History = runViews(br.Runs)
	}
	return v
}

func runViews(runs []types.Run) []RunView {
	out := make([]RunView, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunView{
			Index:   run.Index,
			Task:    run.Task.String(),
			Status:  run.Status,
			Start:   timePtr(run.Start),
			End:     timePtr(run.End),
			Message: run.Message,
		})
	}
	return out
}

// ListBatchRuns lists batch runs newest first.
func (r *Reader) ListBatchRuns(ctx context.Context, opts ListBatchRunsOptions) ([]BatchRunItem, error) {
	runs, err := r.journal.ListBatchRuns(ctx, opts.Batch)
	if err != nil {
		return nil, err
	}
	items := make([]BatchRunItem, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		br := runs[i]
		status := br.Status()
		if !br.Done() {
			status = types.StatusRunning
		}
		if opts.Status != "" && string(status) != opts.Status {
			continue
		}
		items = append(items, BatchRunItem{
			BatchRunID: br.ID,
			Batch:      br.Batch,
			Attempt:    br.Attempt,
			Status:     status,
			Runs:       len(types.Latest(br.Runs)),
			StartedAt:  timePtr(br.Start()),
			EndedAt:    timePtr(br.End()),
		})
		if opts.Limit > 0 && len(items) == opts.Limit {
			break
		}
	}
	return items, nil
}

// StatsBatchRuns counts the batch runs of batch, or of every batch when
// batch is empty.
func (r *Reader) StatsBatchRuns(ctx context.Context, batch string) (*BatchRunStats, error) {
	runs, err := r.journal.ListBatchRuns(ctx, batch)
	if err != nil {
		return nil, err
	}
	stats := &BatchRunStats{Batch: batch, Total: len(runs)}
	for _, br := range runs {
		switch {
		case !br.Done():
			stats.Running++
		case br.Status() == types.StatusCommitted:
			stats.Committed++
		default:
			stats.Failed++
		}
		if br.NeedsIntervention() {
			stats.NeedsIntervention++
		}
	}
	return stats, nil
}

// StatsMetrics returns the latest persisted metrics record, optionally of
// one batch.
func (r *Reader) StatsMetrics(ctx context.Context, batch string) (*MetricsSnapshot, error) {
	if r.dataset == nil {
		return nil, ErrNoDataset
	}
	record, err := lode.QueryLatestMetrics(ctx, r.dataset, batch)
	if err != nil {
		return nil, err
	}
	snap, err := ParseMetricsRecord(record)
	if err != nil {
		return nil, fmt.Errorf("parse metrics record: %w", err)
	}
	return snap, nil
}

// ListBatches lists batch definitions by name.
func (r *Reader) ListBatches(ctx context.Context) ([]BatchItem, error) {
	batches, err := r.store.ListBatches(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]BatchItem, 0, len(batches))
	for _, b := range batches {
		items = append(items, BatchItem{
			Name:          b.Name,
			Workspace:     b.Workspace,
			Configuration: b.Configuration,
			Frequency:     b.Frequency,
			Enabled:       b.Enabled,
			Tasks:         len(b.Elements),
		})
	}
	return items, nil
}

// InspectBatch returns a batch definition with the type of every task.
// Elements whose task does not exist have an empty type.
func (r *Reader) InspectBatch(ctx context.Context, name string) (*BatchView, error) {
	b, err := r.store.GetBatch(ctx, name)
	if err != nil {
		return nil, err
	}
	lookup := store.Lookup(ctx, r.store)
	v := &BatchView{
		Name:          b.Name,
		Workspace:     b.Workspace,
		Configuration: b.Configuration,
		Description:   b.Description,
		Frequency:     b.Frequency,
		Enabled:       b.Enabled,
		Elements:      make([]ElementView, 0, len(b.Elements)),
	}
	for _, el := range b.Ordered() {
		ev := ElementView{Index: el.Index, Task: el.Task.String()}
		if cfg, ok := lookup(el.Task.Configuration); ok {
			if t, ok := cfg.Tasks[el.Task.Task]; ok {
				ev.TaskType = t.Type
			}
		}
		v.Elements = append(v.Elements, ev)
	}
	return v, nil
}

// ListConfigurations lists configurations by name.
func (r *Reader) ListConfigurations(ctx context.Context) ([]ConfigurationItem, error) {
	cfgs, err := r.store.ListConfigurations(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]ConfigurationItem, 0, len(cfgs))
	for _, cfg := range cfgs {
		items = append(items, ConfigurationItem{
			Name:       cfg.Name,
			Workspace:  cfg.Workspace,
			Template:   cfg.Template,
			Tasks:      len(cfg.Tasks),
			Attributes: len(cfg.Attributes),
		})
	}
	return items, nil
}

// ListTaskTypes lists registered task types with their parameters in name
// order.
func (r *Reader) ListTaskTypes() []TaskTypeItem {
	names := r.registry.Names()
	items := make([]TaskTypeItem, 0, len(names))
	for _, name := range names {
		tt, err := r.registry.Lookup(name)
		if err != nil {
			continue
		}
		infos := tt.ParameterInfo()
		params := make([]ParameterItem, 0, len(infos))
		for _, info := range infos {
			p := ParameterItem{Name: info.Name, Required: info.Required}
			if info.Type != nil {
				p.Type = info.Type.Name()
			}
			for _, dep := range info.DependsOn {
				p.DependsOn = append(p.DependsOn, dep.Param)
			}
			params = append(params, p)
		}
		sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
		items = append(items, TaskTypeItem{Name: name, Parameters: params})
	}
	return items
}

// TaskParameters resolves every declared parameter of a task against its
// configuration and lists the acceptable values of each.
func (r *Reader) TaskParameters(ctx context.Context, cfgName, taskName string) (*TaskParametersView, error) {
	cfg, err := r.store.GetConfiguration(ctx, cfgName)
	if err != nil {
		return nil, err
	}
	t, ok := cfg.Tasks[taskName]
	if !ok {
		return nil, fmt.Errorf("task %s/%s: %w", cfgName, taskName, store.ErrNotFound)
	}
	tt, err := r.registry.Lookup(t.Type)
	if err != nil {
		return nil, err
	}

	v := &TaskParametersView{Configuration: cfgName, Task: taskName, TaskType: t.Type}
	infos := tt.ParameterInfo()
	names := make([]string, 0, len(infos))
	for name := range infos {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		info := infos[name]
		p := TaskParameterView{
			Name:     name,
			Type:     info.TypeName(),
			Required: info.Required,
			Domain:   validation.Domain(tt, t, cfg, name),
		}
		if assigned, ok := t.Parameters[name]; ok {
			p.Raw = assigned.Value
			p.Value, p.Resolved = validation.ResolveValue(assigned.Value, cfg)
		}
		v.Parameters = append(v.Parameters, p)
	}
	for _, e := range validation.ValidateTask(r.registry, cfg, taskName) {
		v.Problems = append(v.Problems, e.String())
	}
	return v, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
