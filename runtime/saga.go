package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/taskmanager/log"
	"github.com/pithecene-io/taskmanager/metrics"
	"github.com/pithecene-io/taskmanager/store"
	"github.com/pithecene-io/taskmanager/task"
	"github.com/pithecene-io/taskmanager/types"
	"github.com/pithecene-io/taskmanager/validation"
)

// step is one batch element prepared for execution.
type step struct {
	el     types.BatchElement
	tt     task.Type
	tc     *task.Context
	run    types.Run
	result task.Result
}

// saga executes one attempt of a batch run.
// Tasks run strictly sequentially on the calling goroutine.
type saga struct {
	engine  *Engine
	br      *types.BatchRun
	batch   *types.Batch
	meta    *types.RunMeta
	logger  *log.Logger
	metrics *metrics.Collector

	// Outcome flags, read by the engine after run returns.
	invalid        bool
	interrupted    bool
	rolledBack     bool
	rollbackFailed bool
	commitFailed   bool
}

func (s *saga) run(ctx context.Context) {
	// Journal writes, commit, rollback and cleanup must complete even
	// after the batch run is interrupted.
	finalCtx := context.WithoutCancel(ctx)

	if errs := validation.ValidateBatch(s.engine.config.Registry, store.Lookup(ctx, s.engine.config.Store), s.batch); len(errs) > 0 {
		s.invalid = true
		s.failValidation(finalCtx, errs)
		return
	}

	steps, err := s.prepare(ctx)
	if err != nil {
		s.invalid = true
		return
	}

	// Cleanup runs exactly once per prepared task, on every path,
	// in reverse batch order.
	for i := range steps {
		st := steps[i]
		defer s.cleanup(finalCtx, st)
	}

	executed := make([]*step, 0, len(steps))
	for _, st := range steps {
		st.run = s.record(finalCtx, types.NewRun(s.engine.config.NewID(), s.br.ID, st.el, s.engine.config.Now()))

		if err := ctx.Err(); err != nil {
			s.interrupted = true
			s.transition(finalCtx, st, types.StatusFailed, fmt.Sprintf("interrupted: %v", err))
			s.logger.Warn("batch run interrupted", map[string]any{"task": st.el.Task.String()})
			s.rollback(finalCtx, executed, st)
			return
		}

		if !s.execute(ctx, st) {
			if ctx.Err() != nil {
				s.interrupted = true
			}
			s.rollback(finalCtx, executed, st)
			return
		}
		executed = append(executed, st)
	}

	s.commit(finalCtx, executed)
}

// failValidation records a single failed run on the first invalid element.
// No task is invoked.
func (s *saga) failValidation(ctx context.Context, errs []types.ValidationError) {
	msg := validation.Message(errs)
	s.logger.Warn("batch validation failed", map[string]any{
		"errors":  len(errs),
		"message": msg,
	})
	el := s.firstInvalid(errs)
	st := &step{el: el}
	st.run = s.record(ctx, types.NewRun(s.engine.config.NewID(), s.br.ID, el, s.engine.config.Now()))
	s.transition(ctx, st, types.StatusFailed, msg)
}

func (s *saga) firstInvalid(errs []types.ValidationError) types.BatchElement {
	ordered := s.batch.Ordered()
	for _, el := range ordered {
		for _, e := range errs {
			if e.Task == el.Task {
				return el
			}
		}
	}
	return types.BatchElement{Task: errs[0].Task}
}

// prepare resolves the type and parameters of every element. A failure is
// recorded as a failed run on the offending element.
func (s *saga) prepare(ctx context.Context) ([]*step, error) {
	cfgStore := s.engine.config.Store
	shared := task.NewBatchContext()
	ordered := s.batch.Ordered()
	steps := make([]*step, 0, len(ordered))

	for _, el := range ordered {
		st := &step{el: el}
		if err := s.prepareStep(ctx, cfgStore, shared, st); err != nil {
			s.logger.Error("task preparation failed", map[string]any{
				"task":  el.Task.String(),
				"error": err.Error(),
			})
			finalCtx := context.WithoutCancel(ctx)
			st.run = s.record(finalCtx, types.NewRun(s.engine.config.NewID(), s.br.ID, el, s.engine.config.Now()))
			s.transition(finalCtx, st, types.StatusFailed, err.Error())
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func (s *saga) prepareStep(ctx context.Context, cfgStore store.Store, shared *task.BatchContext, st *step) error {
	ref := st.el.Task
	cfg, err := cfgStore.GetConfiguration(ctx, ref.Configuration)
	if err != nil {
		return fmt.Errorf("load configuration for %s: %w", ref, err)
	}
	t, ok := cfg.Tasks[ref.Task]
	if !ok {
		return fmt.Errorf("task %s: %w", ref, store.ErrNotFound)
	}
	tt, err := s.engine.config.Registry.Lookup(t.Type)
	if err != nil {
		return fmt.Errorf("task %s: %w", ref, err)
	}
	parsed, err := validation.ParseParameters(tt, t, cfg)
	if err != nil {
		return err
	}
	st.tt = tt
	st.tc = task.NewContext(s.br.ID, ref, tt.Name(), parsed.Values, parsed.Raw, shared)
	return nil
}

// execute runs one task. It reports whether the task became committable.
func (s *saga) execute(ctx context.Context, st *step) bool {
	finalCtx := context.WithoutCancel(ctx)
	s.transition(finalCtx, st, types.StatusRunning, "")
	s.metrics.IncTaskRun()
	s.logger.Info("running task", s.taskFields(st, nil))

	err := task.Invoke(task.OpRun, st.el.Task, st.tt.Name(), func() error {
		result, err := st.tt.Run(ctx, st.tc)
		if err != nil {
			return err
		}
		if result == nil {
			result = task.NopResult{}
		}
		st.result = result
		return nil
	})
	if err != nil {
		s.metrics.IncTaskRunFailure()
		s.logger.Error("task run failed", s.taskFields(st, err))
		s.transition(finalCtx, st, types.StatusFailed, err.Error())
		return false
	}

	s.transition(finalCtx, st, types.StatusCommittable, "")
	return true
}

// rollback reverses the executed tasks, last first, once failed has
// stopped the batch run. A rollback failure is recorded and the remaining
// rollbacks still run.
func (s *saga) rollback(ctx context.Context, executed []*step, failed *step) {
	if len(executed) == 0 {
		return
	}
	s.rolledBack = true
	reason := fmt.Sprintf("rolled back after failure of %s", failed.el.Task)

	for i := len(executed) - 1; i >= 0; i-- {
		st := executed[i]
		s.metrics.IncTaskRollback()
		err := task.Invoke(task.OpRollback, st.el.Task, st.tt.Name(), func() error {
			return st.result.Rollback(ctx)
		})
		if err != nil {
			s.rollbackFailed = true
			s.metrics.IncTaskRollbackFailure()
			s.logger.Error("task rollback failed, operator intervention required", s.taskFields(st, err))
			s.transition(ctx, st, types.StatusNotRolledBack, err.Error())
			continue
		}
		s.logger.Info("task rolled back", s.taskFields(st, nil))
		s.transition(ctx, st, types.StatusRolledBack, reason)
	}
}

// commit finalizes every executed task in forward order. A commit failure
// has no compensating action: it is recorded and the remaining tasks are
// still committed.
func (s *saga) commit(ctx context.Context, executed []*step) {
	for _, st := range executed {
		s.metrics.IncTaskCommit()
		err := task.Invoke(task.OpCommit, st.el.Task, st.tt.Name(), func() error {
			return st.result.Commit(ctx)
		})
		if err != nil {
			s.commitFailed = true
			s.metrics.IncTaskCommitFailure()
			s.logger.Error("task commit failed", s.taskFields(st, err))
			s.transition(ctx, st, types.StatusNotCommitted, err.Error())
			continue
		}
		s.logger.Info("task committed", s.taskFields(st, nil))
		s.transition(ctx, st, types.StatusCommitted, "")
	}
}

// cleanup releases the resources of one task. Failures are logged only;
// the run status is already final.
func (s *saga) cleanup(ctx context.Context, st *step) {
	s.metrics.IncTaskCleanup()
	err := task.Invoke(task.OpCleanup, st.el.Task, st.tt.Name(), func() error {
		return st.tt.Cleanup(ctx, st.tc)
	})
	if err != nil {
		s.metrics.IncTaskCleanupFailure()
		s.logger.Warn("task cleanup failed", s.taskFields(st, err))
	}
}

// record stores a run revision in the batch run view and appends it to the
// journal. Journal failures are logged and do not stop the batch run.
func (s *saga) record(ctx context.Context, r types.Run) types.Run {
	stamped := s.br.Record(r)
	if err := s.engine.config.Journal.AppendRun(ctx, s.meta, stamped); err != nil {
		s.logger.Warn("journal append failed", map[string]any{
			"run_id": stamped.ID,
			"status": string(stamped.Status),
			"error":  err.Error(),
		})
	}
	return stamped
}

func (s *saga) transition(ctx context.Context, st *step, next types.Status, msg string) {
	r, err := st.run.Transition(next, s.engine.config.Now(), msg)
	if err != nil {
		s.logger.Error("rejected run transition", map[string]any{
			"task":  st.el.Task.String(),
			"error": err.Error(),
		})
		return
	}
	st.run = s.record(ctx, r)
}

func (s *saga) taskFields(st *step, err error) map[string]any {
	fields := map[string]any{
		"task":  st.el.Task.String(),
		"index": st.el.Index,
	}
	if st.tt != nil {
		fields["task_type"] = st.tt.Name()
	}
	if err != nil {
		fields["error"] = err.Error()
		var panicErr *task.PanicError
		if errors.As(err, &panicErr) {
			fields["panic"] = true
		}
	}
	return fields
}
