// Package runtime executes batches as sagas.
//
// An Engine runs the tasks of a batch in order. When every task succeeds
// each is committed in forward order; when one fails the tasks that already
// ran are rolled back in reverse order. Cleanup runs exactly once for every
// task of the batch on every path. Each Run transition is appended to the
// journal as it happens.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/taskmanager/adapter"
	"github.com/pithecene-io/taskmanager/lode"
	"github.com/pithecene-io/taskmanager/log"
	"github.com/pithecene-io/taskmanager/metrics"
	"github.com/pithecene-io/taskmanager/store"
	"github.com/pithecene-io/taskmanager/task"
	"github.com/pithecene-io/taskmanager/types"
)

// ErrBatchRunActive is returned when re-running a batch run that is still
// executing.
var ErrBatchRunActive = errors.New("batch run is still executing")

// ErrTemplateBatch is returned when executing a batch owned by a template
// configuration.
var ErrTemplateBatch = errors.New("batch belongs to a template configuration")

// notifyTimeout bounds completion event publishing.
const notifyTimeout = 30 * time.Second

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Registry resolves task types (required).
	Registry *task.Registry
	// Store holds configurations and batches (required).
	Store store.Store
	// Journal records run history (required).
	Journal lode.Journal
	// Collector receives engine metrics.
	// If nil, no metrics are recorded (all Collector methods are nil-safe).
	Collector *metrics.Collector
	// Adapter receives a completion event for every finished batch run.
	// If nil, no events are published.
	Adapter adapter.Adapter
	// LogOutput redirects engine logs. If nil, logs go to stderr.
	LogOutput io.Writer
	// Now overrides the clock (for testing).
	Now func() time.Time
	// NewID overrides identifier generation (for testing).
	NewID func() string
}

// Engine executes batches. Safe for concurrent use; each batch run is
// executed on the calling goroutine and owns its own state.
type Engine struct {
	config EngineConfig

	mu     sync.Mutex
	active map[string]struct{} // batch run IDs currently executing
}

// NewEngine creates an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, errors.New("engine requires a task registry")
	}
	if cfg.Store == nil {
		return nil, errors.New("engine requires a store")
	}
	if cfg.Journal == nil {
		return nil, errors.New("engine requires a journal")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Engine{config: cfg, active: make(map[string]struct{})}, nil
}

// Registry returns the engine's task registry.
func (e *Engine) Registry() *task.Registry { return e.config.Registry }

// Store returns the engine's definition store.
func (e *Engine) Store() store.Store { return e.config.Store }

// Journal returns the engine's run journal.
func (e *Engine) Journal() lode.Journal { return e.config.Journal }

// Collector returns the engine's metrics collector, which may be nil.
func (e *Engine) Collector() *metrics.Collector { return e.config.Collector }

func (e *Engine) logger(meta *types.RunMeta) *log.Logger {
	l := log.NewLogger(meta)
	if e.config.LogOutput != nil {
		l = l.WithOutput(e.config.LogOutput)
	}
	return l
}

// Execute runs the batch named batchName to completion or controlled
// rollback and returns the resulting batch run.
//
// Task failures never surface as an error: they are recorded on the
// returned batch run. An error is returned only when the batch cannot be
// loaded. Cancelling ctx interrupts the batch run, which is then rolled
// back as if the running task had failed.
func (e *Engine) Execute(ctx context.Context, batchName string) (*types.BatchRun, error) {
	b, err := e.loadBatch(ctx, batchName)
	if err != nil {
		return nil, err
	}
	br := types.NewBatchRun(e.config.NewID(), b.Name)
	if err := e.acquire(br.ID); err != nil {
		return nil, err
	}
	defer e.release(br.ID)

	e.execute(ctx, br, b)
	return br, nil
}

// Rerun executes the batch of an existing batch run again, appending new
// runs to the same batch run under the next attempt number. Earlier runs
// are kept for audit; the derived status reflects the latest attempt of
// each task.
func (e *Engine) Rerun(ctx context.Context, batchRunID string) (*types.BatchRun, error) {
	if err := e.acquire(batchRunID); err != nil {
		return nil, err
	}
	defer e.release(batchRunID)

	br, err := e.config.Journal.ReadBatchRun(ctx, batchRunID)
	if err != nil {
		return nil, fmt.Errorf("load batch run %s: %w", batchRunID, err)
	}
	if !br.Done() {
		return nil, fmt.Errorf("%w: %s", ErrBatchRunActive, batchRunID)
	}
	b, err := e.loadBatch(ctx, br.Batch)
	if err != nil {
		return nil, err
	}
	br.Attempt++

	e.execute(ctx, br, b)
	return br, nil
}

func (e *Engine) loadBatch(ctx context.Context, name string) (*types.Batch, error) {
	b, err := e.config.Store.GetBatch(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", name, err)
	}
	if b.Configuration != "" {
		cfg, err := e.config.Store.GetConfiguration(ctx, b.Configuration)
		if err == nil && cfg.Template {
			return nil, fmt.Errorf("%w: %s", ErrTemplateBatch, name)
		}
	}
	return b, nil
}

func (e *Engine) acquire(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.active[id]; busy {
		return fmt.Errorf("%w: %s", ErrBatchRunActive, id)
	}
	e.active[id] = struct{}{}
	return nil
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}

// execute drives one attempt of br and publishes the outcome.
func (e *Engine) execute(ctx context.Context, br *types.BatchRun, b *types.Batch) {
	meta := br.Meta()
	logger := e.logger(meta)
	collector := e.config.Collector
	collector.IncBatchRunStarted()

	if err := e.config.Journal.BeginBatchRun(ctx, meta, e.config.Now()); err != nil {
		logger.Warn("journal begin failed", map[string]any{"error": err.Error()})
	}

	started := e.config.Now()
	logger.Info("starting batch run", map[string]any{"elements": len(b.Elements)})

	s := &saga{
		engine:  e,
		br:      br,
		batch:   b,
		meta:    meta,
		logger:  logger,
		metrics: collector,
	}
	s.run(ctx)

	e.recordOutcome(br, s)
	logger.Info("batch run completed", map[string]any{
		"status":             string(br.Status()),
		"runs":               len(br.Runs),
		"needs_intervention": br.NeedsIntervention(),
		"duration":           e.config.Now().Sub(started).String(),
	})

	// Finalization outlives cancellation of the batch run.
	finalCtx := context.WithoutCancel(ctx)
	if err := e.config.Journal.WriteMetrics(finalCtx, meta, collector.Snapshot(), e.config.Now()); err != nil {
		logger.Warn("journal metrics write failed", map[string]any{"error": err.Error()})
	}
	e.notify(finalCtx, br, logger)
}

func (e *Engine) recordOutcome(br *types.BatchRun, s *saga) {
	c := e.config.Collector
	if s.interrupted {
		c.IncBatchRunInterrupted()
	}
	if s.invalid {
		c.IncValidationFailure()
	}
	if s.rolledBack {
		c.IncBatchRunRolledBack()
	}
	if s.rollbackFailed {
		c.IncBatchRunRollbackFailed()
	}
	if s.commitFailed {
		c.IncBatchRunCommitFailed()
	}
	if br.Status() == types.StatusCommitted {
		c.IncBatchRunCommitted()
	} else {
		c.IncBatchRunFailed()
	}
}

func (e *Engine) notify(ctx context.Context, br *types.BatchRun, logger *log.Logger) {
	if e.config.Adapter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	event := adapter.NewBatchRunCompletedEvent(br, e.config.Now())
	if err := e.config.Adapter.Publish(ctx, event); err != nil {
		logger.Warn("completion event publish failed", map[string]any{"error": err.Error()})
	}
}
