package bulk

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/pithecene-io/taskmanager/types"
	"github.com/pithecene-io/taskmanager/validation"
)

// FixResult reports the repairs made by FixAll.
type FixResult struct {
	// Configurations counts saved configurations.
	Configurations int
	// Batches counts saved batches.
	Batches int
	// RemovedParameters lists undeclared assignments, as "cfg/task.param".
	RemovedParameters []string
	// BoundParameters lists required parameters bound to a same-named
	// attribute, as "cfg/task.param".
	BoundParameters []string
	// AddedAttributes lists attributes added for dangling references, as
	// "cfg.attribute".
	AddedAttributes []string
	// RemovedElements lists batch elements whose task no longer exists, as
	// "batch:cfg/task".
	RemovedElements []string
	// Remaining holds the validation errors left after fixing.
	Remaining []types.ValidationError
}

// FixAll repairs structural problems in every stored definition:
//   - assignments to parameters the task type does not declare are removed
//   - references to attributes absent from the table add an empty attribute
//   - unassigned required parameters are bound to a same-named attribute
//   - batch elements referencing missing tasks are removed
//
// Values are never invented; errors that need an operator decision are
// returned in Remaining.
func (s *Service) FixAll(ctx context.Context) (*FixResult, error) {
	res := &FixResult{}

	cfgs, err := s.store.ListConfigurations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	for _, cfg := range cfgs {
		if !s.fixConfiguration(cfg, res) {
			continue
		}
		if err := s.store.SaveConfiguration(ctx, cfg); err != nil {
			return nil, fmt.Errorf("save configuration %s: %w", cfg.Name, err)
		}
		res.Configurations++
	}

	if err := s.fixBatches(ctx, res); err != nil {
		return nil, err
	}

	for _, cfg := range cfgs {
		res.Remaining = append(res.Remaining, validation.ValidateConfiguration(s.registry, cfg)...)
	}

	s.logger.Info("fixed definitions", map[string]any{
		"configurations":     res.Configurations,
		"batches":            res.Batches,
		"removed_parameters": len(res.RemovedParameters),
		"bound_parameters":   len(res.BoundParameters),
		"added_attributes":   len(res.AddedAttributes),
		"removed_elements":   len(res.RemovedElements),
		"remaining_errors":   len(res.Remaining),
	})
	return res, nil
}

// fixConfiguration repairs cfg in place and reports whether it changed.
func (s *Service) fixConfiguration(cfg *types.Configuration, res *FixResult) bool {
	changed := false
	for _, name := range cfg.TaskNames() {
		t := cfg.Tasks[name]
		tt, err := s.registry.Lookup(t.Type)
		if err != nil {
			continue
		}
		infos := tt.ParameterInfo()
		where := types.TaskRef{Configuration: cfg.Name, Task: t.Name}.String()

		for _, pname := range t.ParameterNames() {
			if _, declared := infos[pname]; !declared {
				delete(t.Parameters, pname)
				res.RemovedParameters = append(res.RemovedParameters, where+"."+pname)
				changed = true
			}
		}

		for _, pname := range t.ParameterNames() {
			attr, ok := t.Parameters[pname].AttributeRef()
			if !ok {
				continue
			}
			if _, exists := cfg.Attribute(attr); !exists {
				cfg.SetAttribute(attr, "")
				res.AddedAttributes = append(res.AddedAttributes, cfg.Name+"."+attr)
				changed = true
			}
		}

		for _, pname := range slices.Sorted(maps.Keys(infos)) {
			if !infos[pname].Required {
				continue
			}
			if _, assigned := t.Parameters[pname]; assigned {
				continue
			}
			if _, exists := cfg.Attribute(pname); exists {
				t.SetParameter(pname, types.AttributeValue(pname))
				res.BoundParameters = append(res.BoundParameters, where+"."+pname)
				changed = true
			}
		}
	}
	return changed
}

func (s *Service) fixBatches(ctx context.Context, res *FixResult) error {
	batches, err := s.store.ListBatches(ctx)
	if err != nil {
		return fmt.Errorf("list batches: %w", err)
	}
	for _, b := range batches {
		kept := b.Elements[:0:0]
		for _, el := range b.Elements {
			cfg, err := s.store.GetConfiguration(ctx, el.Task.Configuration)
			if err == nil {
				if _, ok := cfg.Tasks[el.Task.Task]; ok {
					kept = append(kept, el)
					continue
				}
			}
			res.RemovedElements = append(res.RemovedElements, b.Name+":"+el.Task.String())
		}
		if len(kept) == len(b.Elements) {
			continue
		}
		b.Elements = kept
		if err := s.store.SaveBatch(ctx, b); err != nil {
			return fmt.Errorf("save batch %s: %w", b.Name, err)
		}
		res.Batches++
	}
	return nil
}
