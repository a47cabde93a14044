package task

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pithecene-io/taskmanager/types"
)

// Registry maps task type names to implementations.
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Type)}
}

// Register adds a task type. The name must be non-empty and unique, and the
// parameter descriptors must pass CheckDescriptors.
func (r *Registry) Register(t Type) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("%w: empty task type name", ErrInvalidDescriptor)
	}
	if _, err := CheckDescriptors(name, t.ParameterInfo()); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}
	r.types[name] = t
	return nil
}

// MustRegister is Register that panics on error. Intended for wiring code.
func (r *Registry) MustRegister(t Type) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Lookup returns the task type registered under name.
func (r *Registry) Lookup(name string) (Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, name)
	}
	return t, nil
}

// Names returns registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckDescriptors validates the parameter descriptors of a task type and
// returns the parameter names in dependency order: every parameter comes
// after the parameters it depends on, ties broken by name.
//
// Descriptors are rejected when a key differs from the descriptor name, a
// type is missing, a dependency names an undeclared parameter, or the
// dependency graph has a cycle.
func CheckDescriptors(typeName string, infos map[string]types.ParameterInfo) ([]string, error) {
	indegree := make(map[string]int, len(infos))
	dependents := make(map[string][]string, len(infos))

	for key, info := range infos {
		if info.Name != key {
			return nil, fmt.Errorf("%w: %s: parameter %q registered under key %q",
				ErrInvalidDescriptor, typeName, info.Name, key)
		}
		if info.Type == nil {
			return nil, fmt.Errorf("%w: %s: parameter %q has no type", ErrInvalidDescriptor, typeName, key)
		}
		if _, ok := indegree[key]; !ok {
			indegree[key] = 0
		}
		for _, dep := range info.DependsOn {
			if _, declared := infos[dep.Param]; !declared {
				return nil, fmt.Errorf("%w: %s: parameter %q depends on undeclared parameter %q",
					ErrInvalidDescriptor, typeName, key, dep.Param)
			}
			indegree[key]++
			dependents[dep.Param] = append(dependents[dep.Param], key)
		}
	}

	ready := make([]string, 0, len(infos))
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(infos))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var unlocked []string
		for _, d := range dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				unlocked = append(unlocked, d)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sort.Strings(ready)
		}
	}

	if len(order) != len(infos) {
		var cyclic []string
		for name, n := range indegree {
			if n > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, fmt.Errorf("%w: %s: dependency cycle among %v", ErrInvalidDescriptor, typeName, cyclic)
	}
	return order, nil
}
