// Package fileservice provides named file services backed by Lode stores.
//
// A file service is a storage location tasks can read from and write to,
// such as a local directory or an S3 bucket prefix.
package fileservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"
)

var (
	// ErrServiceNotFound is returned when a file service name is not registered.
	ErrServiceNotFound = errors.New("file service not found")
	// ErrFileNotFound is returned when a file does not exist in a service.
	ErrFileNotFound = errors.New("file not found")
)

// Service is a named storage location.
type Service interface {
	Name() string
	Description() string
	// Exists reports whether a file exists.
	Exists(ctx context.Context, path string) (bool, error)
	// Create writes a file, replacing existing content.
	Create(ctx context.Context, path string, r io.Reader) error
	// Read opens a file. Returns ErrFileNotFound if it does not exist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	// Delete removes a file.
	Delete(ctx context.Context, path string) error
	// List returns the file paths under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Folders returns the immediate sub folders of a folder, sorted.
	Folders(ctx context.Context, folder string) ([]string, error)
}

// StoreService is a Service on a lode.Store.
type StoreService struct {
	name        string
	description string
	store       lode.Store
}

var _ Service = (*StoreService)(nil)

// NewStoreService creates a file service on an open store.
func NewStoreService(name, description string, store lode.Store) *StoreService {
	return &StoreService{name: name, description: description, store: store}
}

// NewFactoryService opens a store from factory and wraps it as a file
// service. Used for S3 services built by the storage layer.
func NewFactoryService(name, description string, factory lode.StoreFactory) (*StoreService, error) {
	store, err := factory()
	if err != nil {
		return nil, fmt.Errorf("file service %s: %w", name, err)
	}
	return NewStoreService(name, description, store), nil
}

// NewFSService creates a file service rooted at a local directory.
func NewFSService(name, description, root string) (*StoreService, error) {
	return NewFactoryService(name, description, lode.NewFSFactory(root))
}

// NewMemoryService creates an in-memory file service.
func NewMemoryService(name, description string) *StoreService {
	return NewStoreService(name, description, lode.NewMemory())
}

// Name implements Service.
func (s *StoreService) Name() string { return s.name }

// Description implements Service.
func (s *StoreService) Description() string { return s.description }

// Exists implements Service.
func (s *StoreService) Exists(ctx context.Context, p string) (bool, error) {
	key, err := cleanPath(p)
	if err != nil {
		return false, err
	}
	return s.store.Exists(ctx, key)
}

// Create implements Service. Existing content is replaced.
func (s *StoreService) Create(ctx context.Context, p string, r io.Reader) error {
	key, err := cleanPath(p)
	if err != nil {
		return err
	}
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("file service %s: stat %s: %w", s.name, key, err)
	}
	if exists {
		if err := s.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("file service %s: replace %s: %w", s.name, key, err)
		}
	}
	if err := s.store.Put(ctx, key, r); err != nil {
		return fmt.Errorf("file service %s: write %s: %w", s.name, key, err)
	}
	return nil
}

// Read implements Service.
func (s *StoreService) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	key, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("file service %s: stat %s: %w", s.name, key, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrFileNotFound, s.name, key)
	}
	return s.store.Get(ctx, key)
}

// Delete implements Service.
func (s *StoreService) Delete(ctx context.Context, p string) error {
	key, err := cleanPath(p)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("file service %s: delete %s: %w", s.name, key, err)
	}
	return nil
}

// List implements Service.
func (s *StoreService) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimPrefix(prefix, "/")
	paths, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("file service %s: list %s: %w", s.name, prefix, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Folders implements Service.
func (s *StoreService) Folders(ctx context.Context, folder string) ([]string, error) {
	folder = strings.Trim(folder, "/")
	prefix := folder
	if prefix != "" {
		prefix += "/"
	}
	paths, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, p := range paths {
		rest := strings.TrimPrefix(p, prefix)
		sub, _, nested := strings.Cut(rest, "/")
		if !nested {
			continue
		}
		if _, dup := seen[sub]; dup {
			continue
		}
		seen[sub] = struct{}{}
		out = append(out, path.Join(folder, sub))
	}
	sort.Strings(out)
	return out, nil
}

func cleanPath(p string) (string, error) {
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("invalid file path %q", p)
	}
	return cleaned, nil
}

// Registry holds named file services. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]Service)}
}

// Add registers a service under its name, replacing any previous one.
func (r *Registry) Add(s Service) {
	r.mu.Lock()
	r.services[s.Name()] = s
	r.mu.Unlock()
}

// Get returns a service by name.
func (r *Registry) Get(name string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return s, nil
}

// Names returns service names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
