// Package store persists configuration and batch definitions.
//
// Run history is not kept here; see the lode package for the run journal.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pithecene-io/taskmanager/types"
)

var (
	// ErrNotFound is returned when a configuration or batch does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when creating a definition whose name is taken.
	ErrExists = errors.New("already exists")
)

// Store holds configurations and batches.
//
// Implementations return copies: mutating a returned value does not affect
// the stored definition until it is saved.
type Store interface {
	GetConfiguration(ctx context.Context, name string) (*types.Configuration, error)
	ListConfigurations(ctx context.Context) ([]*types.Configuration, error)
	// CreateConfiguration fails with ErrExists if the name is taken.
	CreateConfiguration(ctx context.Context, cfg *types.Configuration) error
	// SaveConfiguration creates or replaces a configuration.
	SaveConfiguration(ctx context.Context, cfg *types.Configuration) error
	DeleteConfiguration(ctx context.Context, name string) error

	GetBatch(ctx context.Context, name string) (*types.Batch, error)
	ListBatches(ctx context.Context) ([]*types.Batch, error)
	// SaveBatch creates or replaces a batch.
	SaveBatch(ctx context.Context, b *types.Batch) error
	DeleteBatch(ctx context.Context, name string) error
}

// Memory is an in-memory Store. Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	configs map[string]*types.Configuration
	batches map[string]*types.Batch
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		configs: make(map[string]*types.Configuration),
		batches: make(map[string]*types.Batch),
	}
}

func copyConfiguration(cfg *types.Configuration) *types.Configuration {
	out := cfg.Clone(cfg.Name)
	out.Template = cfg.Template
	return out
}

// GetConfiguration implements Store.
func (m *Memory) GetConfiguration(_ context.Context, name string) (*types.Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[name]
	if !ok {
		return nil, fmt.Errorf("configuration %s: %w", name, ErrNotFound)
	}
	return copyConfiguration(cfg), nil
}

// ListConfigurations implements Store. Sorted by name.
func (m *Memory) ListConfigurations(_ context.Context) ([]*types.Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Configuration, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, copyConfiguration(cfg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateConfiguration implements Store.
func (m *Memory) CreateConfiguration(_ context.Context, cfg *types.Configuration) error {
	if cfg.Name == "" {
		return errors.New("configuration name must be non-empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.configs[cfg.Name]; exists {
		return fmt.Errorf("configuration %s: %w", cfg.Name, ErrExists)
	}
	m.configs[cfg.Name] = copyConfiguration(cfg)
	return nil
}

// SaveConfiguration implements Store.
func (m *Memory) SaveConfiguration(_ context.Context, cfg *types.Configuration) error {
	if cfg.Name == "" {
		return errors.New("configuration name must be non-empty")
	}
	m.mu.Lock()
	m.configs[cfg.Name] = copyConfiguration(cfg)
	m.mu.Unlock()
	return nil
}

// DeleteConfiguration implements Store. Batches owned by the configuration
// are deleted with it.
func (m *Memory) DeleteConfiguration(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[name]; !ok {
		return fmt.Errorf("configuration %s: %w", name, ErrNotFound)
	}
	delete(m.configs, name)
	for bn, b := range m.batches {
		if b.Configuration == name {
			delete(m.batches, bn)
		}
	}
	return nil
}

// GetBatch implements Store.
func (m *Memory) GetBatch(_ context.Context, name string) (*types.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[name]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", name, ErrNotFound)
	}
	return b.Clone(), nil
}

// ListBatches implements Store. Sorted by name.
func (m *Memory) ListBatches(_ context.Context) ([]*types.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveBatch implements Store.
func (m *Memory) SaveBatch(_ context.Context, b *types.Batch) error {
	if b.Name == "" {
		return errors.New("batch name must be non-empty")
	}
	m.mu.Lock()
	m.batches[b.Name] = b.Clone()
	m.mu.Unlock()
	return nil
}

// DeleteBatch implements Store.
func (m *Memory) DeleteBatch(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[name]; !ok {
		return fmt.Errorf("batch %s: %w", name, ErrNotFound)
	}
	delete(m.batches, name)
	return nil
}

// Lookup adapts a Store to a configuration lookup for validation.
// Errors are treated as absence.
func Lookup(ctx context.Context, s Store) func(name string) (*types.Configuration, bool) {
	return func(name string) (*types.Configuration, bool) {
		cfg, err := s.GetConfiguration(ctx, name)
		if err != nil {
			return nil, false
		}
		return cfg, true
	}
}
