// Package scheduler fires batches on cron schedules.
//
// The scheduler is the only component that decides when a batch runs. It
// dispatches each firing to a bounded worker pool and guarantees that at
// most one batch run per batch executes at a time: a firing that finds its
// batch still running is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/pithecene-io/taskmanager/log"
	"github.com/pithecene-io/taskmanager/metrics"
	"github.com/pithecene-io/taskmanager/store"
	"github.com/pithecene-io/taskmanager/types"
)

var (
	// ErrAlreadyRunning is returned when a batch is dispatched while a
	// batch run of it is still executing.
	ErrAlreadyRunning = errors.New("batch is already running")
	// ErrNotScheduled is returned when unscheduling a batch that has no
	// schedule.
	ErrNotScheduled = errors.New("batch is not scheduled")
	// ErrNotRunning is returned when interrupting a batch that is idle.
	ErrNotRunning = errors.New("batch is not running")
	// ErrStopped is returned when dispatching after Stop.
	ErrStopped = errors.New("scheduler is stopped")
)

// DefaultWorkers bounds concurrent batch runs when Config.Workers is unset.
const DefaultWorkers = 4

// Executor runs one batch to completion. *runtime.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, batch string) (*types.BatchRun, error)
}

// Config configures a Scheduler.
type Config struct {
	// Workers bounds concurrent batch runs. Defaults to DefaultWorkers.
	Workers int
	// Location interprets cron expressions. Defaults to time.Local.
	Location *time.Location
	// RunTimeout cancels a batch run that runs longer. Zero disables it.
	RunTimeout time.Duration
	// Collector counts firings and skipped overlaps. May be nil.
	Collector *metrics.Collector
	// LogOutput redirects scheduler logs. If nil, logs go to stderr.
	LogOutput io.Writer
	// OnComplete, if set, receives every finished batch run.
	OnComplete func(*types.BatchRun)
}

// Entry describes one scheduled batch.
type Entry struct {
	Batch     string
	Frequency string
	Next      time.Time
	Prev      time.Time
}

// Scheduler fires batches on their cron frequency.
type Scheduler struct {
	exec   Executor
	store  store.Store
	config Config
	cron   *cron.Cron
	sem    *semaphore.Weighted
	logger *log.Logger

	// base is the parent of every batch run context. Cancelled by Stop.
	base       context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	entries map[string]scheduled
	running map[string]context.CancelFunc
	timers  map[*time.Timer]struct{}
	stopped bool
	// pending counts armed timers and in-flight dispatches; idle waiters
	// are released when it drops to zero.
	pending int
	idle    []chan struct{}
}

type scheduled struct {
	id        cron.EntryID
	frequency string
}

// New creates a scheduler that executes batches from st through exec.
func New(exec Executor, st store.Store, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	logger := log.NewComponentLogger("scheduler")
	if cfg.LogOutput != nil {
		logger = logger.WithOutput(cfg.LogOutput)
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		exec:       exec,
		store:      st,
		config:     cfg,
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
		logger:     logger,
		base:       base,
		cancelBase: cancel,
		entries:    make(map[string]scheduled),
		running:    make(map[string]context.CancelFunc),
		timers:     make(map[*time.Timer]struct{}),
	}
	s.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cronLogger{logger})),
	)
	return s
}

// ParseFrequency parses a standard five-field cron expression or a
// descriptor such as "@daily" or "@every 1h".
func ParseFrequency(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid frequency %q: %w", expr, err)
	}
	return sched, nil
}

// Schedulable reports whether b should be scheduled: it must be enabled,
// have a frequency, and not belong to a template configuration.
func Schedulable(ctx context.Context, st store.Store, b *types.Batch) bool {
	if !b.Enabled || b.Frequency == "" {
		return false
	}
	if b.Configuration == "" {
		return true
	}
	cfg, err := st.GetConfiguration(ctx, b.Configuration)
	if err != nil {
		return true
	}
	return !cfg.Template
}

// Load schedules every schedulable batch in the store and returns how many
// were scheduled.
func (s *Scheduler) Load(ctx context.Context) (int, error) {
	batches, err := s.store.ListBatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("list batches: %w", err)
	}
	n := 0
	for _, b := range batches {
		ok, err := s.schedule(ctx, b)
		if err != nil {
			s.logger.Warn("batch not scheduled", map[string]any{
				"batch": b.Name,
				"error": err.Error(),
			})
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Schedule registers the batch named name on its frequency, replacing any
// previous schedule. It reports false without error when the batch is
// disabled, has no frequency or belongs to a template.
func (s *Scheduler) Schedule(ctx context.Context, name string) (bool, error) {
	b, err := s.store.GetBatch(ctx, name)
	if err != nil {
		return false, fmt.Errorf("load batch %s: %w", name, err)
	}
	return s.schedule(ctx, b)
}

// Reschedule re-reads the batch and applies its current frequency and
// enabled flag.
func (s *Scheduler) Reschedule(ctx context.Context, name string) (bool, error) {
	return s.Schedule(ctx, name)
}

func (s *Scheduler) schedule(ctx context.Context, b *types.Batch) (bool, error) {
	if !Schedulable(ctx, s.store, b) {
		s.remove(b.Name)
		return false, nil
	}
	sched, err := ParseFrequency(b.Frequency)
	if err != nil {
		return false, err
	}

	name := b.Name
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false, ErrStopped
	}
	if prev, ok := s.entries[name]; ok {
		s.cron.Remove(prev.id)
	}
	id := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(name) }))
	s.entries[name] = scheduled{id: id, frequency: b.Frequency}

	s.logger.Info("batch scheduled", map[string]any{
		"batch":     name,
		"frequency": b.Frequency,
	})
	return true, nil
}

// Unschedule removes the schedule of a batch. A running batch run is not
// affected.
func (s *Scheduler) Unschedule(name string) error {
	if !s.remove(name) {
		return fmt.Errorf("%w: %s", ErrNotScheduled, name)
	}
	s.logger.Info("batch unscheduled", map[string]any{"batch": name})
	return nil
}

func (s *Scheduler) remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Remove(e.id)
	delete(s.entries, name)
	return true
}

// Entries lists scheduled batches sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for name, e := range s.entries {
		ce := s.cron.Entry(e.id)
		out = append(out, Entry{Batch: name, Frequency: e.frequency, Next: ce.Next, Prev: ce.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Batch < out[j].Batch })
	return out
}

// Running lists batches with an executing batch run, sorted by name.
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.running))
	for name := range s.running {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start begins firing scheduled batches.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", map[string]any{"workers": s.config.Workers})
}

// Stop stops firing and waits for executing batch runs. When ctx expires
// first, executing batch runs are interrupted and Stop waits for their
// rollback and cleanup to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for t := range s.timers {
		if t.Stop() {
			s.endLocked()
		}
	}
	s.timers = nil
	s.mu.Unlock()

	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelBase()
		s.logger.Info("scheduler stopped", nil)
		return nil
	case <-ctx.Done():
		s.cancelBase()
		<-done
		s.logger.Warn("scheduler stopped, batch runs interrupted", nil)
		return ctx.Err()
	}
}

// RunNow executes a batch immediately on the caller's goroutine, subject to
// the worker bound and the one-run-per-batch rule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*types.BatchRun, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	// Detach from the caller's lifetime only through Stop or Interrupt;
	// caller cancellation still interrupts the batch run.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	return s.dispatch(runCtx, name, "manual")
}

// RunAfter executes a batch once after delay, in the background.
func (s *Scheduler) RunAfter(name string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	s.beginLocked()
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer s.end()
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		if _, err := s.dispatch(s.base, name, "delayed"); err != nil {
			s.logger.Warn("delayed batch run not executed", map[string]any{
				"batch": name,
				"error": err.Error(),
			})
		}
	})
	s.timers[t] = struct{}{}
	return nil
}

// Interrupt cancels the executing batch run of a batch. The engine rolls
// back its executed tasks and cleans up as if the running task had failed.
func (s *Scheduler) Interrupt(name string) error {
	s.mu.Lock()
	cancel, ok := s.running[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	cancel()
	s.logger.Info("batch run interrupted", map[string]any{"batch": name})
	return nil
}

// Wait blocks until no delayed batch run is pending and no dispatched batch
// run is executing, or until ctx is done. Batch runs dispatched while Wait
// blocks extend the wait.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.pending == 0 {
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	s.idle = append(s.idle, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin registers a dispatch unless the scheduler is stopped. The stopped
// check and wg.Add happen under mu so Stop never waits on a growing group.
func (s *Scheduler) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	s.beginLocked()
	return nil
}

func (s *Scheduler) beginLocked() {
	s.wg.Add(1)
	s.pending++
}

func (s *Scheduler) end() {
	s.mu.Lock()
	s.endLocked()
	s.mu.Unlock()
}

func (s *Scheduler) endLocked() {
	s.pending--
	if s.pending == 0 {
		for _, ch := range s.idle {
			close(ch)
		}
		s.idle = nil
	}
	s.wg.Done()
}

// fire is the cron callback.
func (s *Scheduler) fire(name string) {
	if err := s.begin(); err != nil {
		return
	}
	defer s.end()
	s.config.Collector.IncSchedulerFired()
	if _, err := s.dispatch(s.base, name, "schedule"); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		s.logger.Error("scheduled batch run failed to start", map[string]any{
			"batch": name,
			"error": err.Error(),
		})
	}
}

// dispatch claims the batch, waits for a worker slot and executes it.
func (s *Scheduler) dispatch(ctx context.Context, name, trigger string) (*types.BatchRun, error) {
	var cancel context.CancelFunc
	if s.config.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if err := s.claim(name, cancel); err != nil {
		s.config.Collector.IncSchedulerOverlapSkipped()
		s.logger.Warn("batch run skipped, previous run still executing", map[string]any{
			"batch":   name,
			"trigger": trigger,
		})
		return nil, err
	}
	defer s.unclaim(name)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for worker: %w", err)
	}
	defer s.sem.Release(1)

	s.logger.Info("dispatching batch", map[string]any{
		"batch":   name,
		"trigger": trigger,
	})
	br, err := s.exec.Execute(ctx, name)
	if err != nil {
		return nil, err
	}
	s.logger.Info("batch run finished", map[string]any{
		"batch":        name,
		"batch_run_id": br.ID,
		"status":       string(br.Status()),
	})
	if s.config.OnComplete != nil {
		s.config.OnComplete(br)
	}
	return br, nil
}

func (s *Scheduler) claim(name string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[name]; busy {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	s.running[name] = cancel
	return nil
}

func (s *Scheduler) unclaim(name string) {
	s.mu.Lock()
	delete(s.running, name)
	s.mu.Unlock()
}

// cronLogger adapts the component logger to cron.Logger.
type cronLogger struct {
	l *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, kvFields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := kvFields(keysAndValues)
	fields["error"] = err.Error()
	c.l.Error("cron: "+msg, fields)
}

func kvFields(kv []any) map[string]any {
	fields := make(map[string]any, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
