// Package validation checks task parameter assignments against the
// parameter descriptors of their task types.
//
// Validation never mutates its inputs and never fails with a Go error:
// problems are reported as a list of types.ValidationError values, empty
// when the assignment is valid. The list is deterministic, so validating
// the same input twice yields the same result.
//
// Rules are applied in order:
//  1. required parameters must resolve to a non-empty value (MISSING);
//  2. assigned parameters must be declared by the task type (INVALID_PARAM);
//  3. a parameter whose dependency has an invalid value is itself invalid,
//     and a dependency marked required is required whenever the dependent
//     has a value (INVALID_VALUE, MISSING);
//  4. values must pass the semantic type check (INVALID_VALUE).
package validation

import (
	"sort"
	"strings"

	"github.com/pithecene-io/taskmanager/task"
	"github.com/pithecene-io/taskmanager/types"
)

// ResolveValue resolves a raw parameter value against the attribute table
// of cfg. Literals resolve to themselves. A ${name} reference resolves to
// the attribute value; ok is false when the attribute does not exist.
func ResolveValue(raw string, cfg *types.Configuration) (value string, ok bool) {
	name, isRef := types.ParseAttributeRef(raw)
	if !isRef {
		return raw, true
	}
	if cfg == nil {
		return "", false
	}
	attr, exists := cfg.Attribute(name)
	if !exists {
		return "", false
	}
	return attr.Value, true
}

// resolution is the outcome of resolving a task's declared parameters.
type resolution struct {
	// values holds non-empty resolved values.
	values map[string]string
	// dangling holds parameters referencing a missing attribute.
	dangling map[string]bool
}

func resolve(infos map[string]types.ParameterInfo, t *types.Task, cfg *types.Configuration) resolution {
	res := resolution{values: make(map[string]string), dangling: make(map[string]bool)}
	for name, p := range t.Parameters {
		if _, declared := infos[name]; !declared {
			continue
		}
		v, ok := ResolveValue(p.Value, cfg)
		if !ok {
			res.dangling[name] = true
			continue
		}
		if strings.TrimSpace(v) != "" {
			res.values[name] = v
		}
	}
	return res
}

// order returns declared parameter names in dependency order. Registered
// task types always have well-formed descriptors; for others the names are
// sorted.
func order(typeName string, infos map[string]types.ParameterInfo) []string {
	if names, err := task.CheckDescriptors(typeName, infos); err == nil {
		return names
	}
	names := make([]string, 0, len(infos))
	for name := range infos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// requiredSet returns the parameters that must have a value: those declared
// required, plus required dependencies of parameters that have a value.
func requiredSet(infos map[string]types.ParameterInfo, res resolution) map[string]bool {
	required := make(map[string]bool, len(infos))
	for name, info := range infos {
		if info.Required {
			required[name] = true
		}
		if _, has := res.values[name]; !has {
			continue
		}
		for _, dep := range info.DependsOn {
			if dep.Required {
				required[dep.Param] = true
			}
		}
	}
	return required
}

// Validate checks the parameter assignments of t, owned by cfg, against the
// descriptors of tt. ref identifies the task in the returned errors.
func Validate(tt task.Type, t *types.Task, cfg *types.Configuration, ref types.TaskRef) []types.ValidationError {
	typeName := tt.Name()
	infos := tt.ParameterInfo()
	names := order(typeName, infos)
	res := resolve(infos, t, cfg)
	required := requiredSet(infos, res)

	newErr := func(kind types.ValidationErrorKind, name, value string) types.ValidationError {
		return types.ValidationError{Kind: kind, ParamName: name, ParamValue: value, TaskType: typeName, Task: ref}
	}

	var errs []types.ValidationError

	// Rule 1: missing values. A dangling reference is reported as an
	// invalid value instead.
	for _, name := range names {
		if !required[name] || res.dangling[name] {
			continue
		}
		if _, has := res.values[name]; !has {
			errs = append(errs, newErr(types.ValidationMissing, name, ""))
		}
	}

	// Rule 2: undeclared parameters.
	for _, name := range t.ParameterNames() {
		if _, declared := infos[name]; !declared {
			errs = append(errs, newErr(types.ValidationInvalidParam, name, t.Parameters[name].Value))
		}
	}

	// Rules 3 and 4: values, dependencies first.
	invalid := make(map[string]bool)
	for _, name := range names {
		info := infos[name]
		if res.dangling[name] {
			invalid[name] = true
			errs = append(errs, newErr(types.ValidationInvalidValue, name, t.Parameters[name].Value))
			continue
		}
		v, has := res.values[name]
		if !has {
			continue
		}

		depValues, ok := dependencyValues(info, res, invalid)
		if !ok {
			invalid[name] = true
			errs = append(errs, newErr(types.ValidationInvalidValue, name, v))
			continue
		}
		if depValues == nil && len(info.DependsOn) > 0 {
			// A required dependency is missing and already reported.
			continue
		}
		if !info.Type.Validate(v, depValues) {
			invalid[name] = true
			errs = append(errs, newErr(types.ValidationInvalidValue, name, v))
		}
	}

	return errs
}

// dependencyValues collects the resolved values of info's dependencies in
// declaration order. ok is false when a dependency has an invalid value.
// A nil slice with ok true means a required dependency has no value.
func dependencyValues(info types.ParameterInfo, res resolution, invalid map[string]bool) ([]string, bool) {
	if len(info.DependsOn) == 0 {
		return nil, true
	}
	values := make([]string, len(info.DependsOn))
	for i, dep := range info.DependsOn {
		if invalid[dep.Param] {
			return nil, false
		}
		v, has := res.values[dep.Param]
		if !has && dep.Required {
			return nil, true
		}
		values[i] = v
	}
	return values, true
}

// ValidateTask validates the task named taskName in cfg, looking up its
// type in reg. An unregistered type is reported as an invalid value of the
// pseudo parameter "type".
func ValidateTask(reg *task.Registry, cfg *types.Configuration, taskName string) []types.ValidationError {
	ref := types.TaskRef{Configuration: cfg.Name, Task: taskName}
	t, ok := cfg.Tasks[taskName]
	if !ok {
		return []types.ValidationError{{
			Kind:       types.ValidationInvalidValue,
			ParamName:  types.TaskParam,
			ParamValue: ref.String(),
			Task:       ref,
		}}
	}
	tt, err := reg.Lookup(t.Type)
	if err != nil {
		return []types.ValidationError{{
			Kind:       types.ValidationInvalidValue,
			ParamName:  types.TypeParam,
			ParamValue: t.Type,
			TaskType:   t.Type,
			Task:       ref,
		}}
	}
	return Validate(tt, t, cfg, ref)
}

// ValidateConfiguration validates every task of cfg in task name order.
func ValidateConfiguration(reg *task.Registry, cfg *types.Configuration) []types.ValidationError {
	var errs []types.ValidationError
	for _, name := range cfg.TaskNames() {
		errs = append(errs, ValidateTask(reg, cfg, name)...)
	}
	return errs
}

// ConfigLookup returns a configuration by name.
type ConfigLookup func(name string) (*types.Configuration, bool)

// ValidateBatch validates every element of b in execution order.
// Elements whose configuration or task does not exist are reported as an
// invalid value of the pseudo parameter "task".
func ValidateBatch(reg *task.Registry, lookup ConfigLookup, b *types.Batch) []types.ValidationError {
	var errs []types.ValidationError
	for _, el := range b.Ordered() {
		cfg, ok := lookup(el.Task.Configuration)
		if !ok {
			errs = append(errs, types.ValidationError{
				Kind:       types.ValidationInvalidValue,
				ParamName:  types.TaskParam,
				ParamValue: el.Task.String(),
				Task:       el.Task,
			})
			continue
		}
		errs = append(errs, ValidateTask(reg, cfg, el.Task.Task)...)
	}
	return errs
}
