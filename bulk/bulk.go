// Package bulk implements bulk operations over stored definitions: clearing,
// fixing, importing configurations from CSV, running matching batches, and
// archive export/import.
//
// Bulk operations reach the engine only through the validation package and
// a batch dispatcher; they never execute tasks themselves.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pithecene-io/taskmanager/log"
	"github.com/pithecene-io/taskmanager/store"
	"github.com/pithecene-io/taskmanager/task"
)

// ErrNoTemplate is returned when an import names a configuration that is
// not a template.
var ErrNoTemplate = errors.New("configuration is not a template")

// Dispatcher runs a batch in the background after a delay.
// *scheduler.Scheduler satisfies it.
type Dispatcher interface {
	RunAfter(batch string, delay time.Duration) error
}

// Service runs bulk operations.
type Service struct {
	store    store.Store
	registry *task.Registry
	dispatch Dispatcher
	logger   *log.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithDispatcher sets the dispatcher used by RunBatches.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatch = d }
}

// WithLogOutput redirects bulk operation logs.
func WithLogOutput(w io.Writer) Option {
	return func(s *Service) { s.logger = s.logger.WithOutput(w) }
}

// WithClock overrides the clock used for archive timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a bulk service over st, validating against reg.
func New(st store.Store, reg *task.Registry, opts ...Option) *Service {
	s := &Service{
		store:    st,
		registry: reg,
		logger:   log.NewComponentLogger("bulk"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ClearResult counts deleted definitions.
type ClearResult struct {
	Configurations int `json:"configurations"`
	Batches        int `json:"batches"`
}

// ClearAll deletes every batch and configuration. Template configurations
// and the batches they own are kept unless includeTemplates is set.
func (s *Service) ClearAll(ctx context.Context, includeTemplates bool) (ClearResult, error) {
	var res ClearResult

	cfgs, err := s.store.ListConfigurations(ctx)
	if err != nil {
		return res, fmt.Errorf("list configurations: %w", err)
	}
	templates := make(map[string]bool)
	for _, cfg := range cfgs {
		if cfg.Template {
			templates[cfg.Name] = true
		}
	}

	batches, err := s.store.ListBatches(ctx)
	if err != nil {
		return res, fmt.Errorf("list batches: %w", err)
	}
	for _, b := range batches {
		if templates[b.Configuration] && !includeTemplates {
			continue
		}
		if err := s.store.DeleteBatch(ctx, b.Name); err != nil {
			return res, fmt.Errorf("delete batch %s: %w", b.Name, err)
		}
		res.Batches++
	}

	for _, cfg := range cfgs {
		if cfg.Template && !includeTemplates {
			continue
		}
		if err := s.store.DeleteConfiguration(ctx, cfg.Name); err != nil && !errors.Is(err, store.ErrNotFound) {
			return res, fmt.Errorf("delete configuration %s: %w", cfg.Name, err)
		}
		res.Configurations++
	}

	s.logger.Info("cleared definitions", map[string]any{
		"configurations":    res.Configurations,
		"batches":           res.Batches,
		"include_templates": includeTemplates,
	})
	return res, nil
}
