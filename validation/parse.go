package validation

import (
	"fmt"
	"strings"

	"github.com/pithecene-io/taskmanager/task"
	"github.com/pithecene-io/taskmanager/types"
)

// Errors is a list of validation errors usable as a Go error at surfaces
// that report failure through an error value (CLI, bulk import).
type Errors []types.ValidationError

// Error implements error.
func (e Errors) Error() string {
	return Message(e)
}

// Message joins the messages of errs with "; ".
func Message(errs []types.ValidationError) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.String()
	}
	return strings.Join(msgs, "; ")
}

// Parsed holds the parameters of a validated task, ready for a task context.
type Parsed struct {
	// Values maps parameter name to the parsed object.
	Values map[string]any
	// Raw maps parameter name to the resolved string value.
	Raw map[string]string
}

// ParseParameters resolves and parses the parameters of a task that passed
// validation. Parameters without a value are omitted.
func ParseParameters(tt task.Type, t *types.Task, cfg *types.Configuration) (*Parsed, error) {
	infos := tt.ParameterInfo()
	res := resolve(infos, t, cfg)
	out := &Parsed{
		Values: make(map[string]any, len(res.values)),
		Raw:    make(map[string]string, len(res.values)),
	}
	for _, name := range order(tt.Name(), infos) {
		v, has := res.values[name]
		if !has {
			continue
		}
		info := infos[name]
		deps := make([]string, len(info.DependsOn))
		for i, dep := range info.DependsOn {
			deps[i] = res.values[dep.Param]
		}
		parsed, err := info.Type.Parse(v, deps)
		if err != nil {
			return nil, fmt.Errorf("parameter %s of task %s: %w", name, t.Name, err)
		}
		out.Values[name] = parsed
		out.Raw[name] = v
	}
	return out, nil
}

// Domain returns the acceptable values of parameter name of t, given the
// current values of the parameters it depends on. Nil means the domain is
// open or the parameter is not declared.
func Domain(tt task.Type, t *types.Task, cfg *types.Configuration, name string) []string {
	infos := tt.ParameterInfo()
	info, ok := infos[name]
	if !ok {
		return nil
	}
	res := resolve(infos, t, cfg)
	deps := make([]string, len(info.DependsOn))
	for i, dep := range info.DependsOn {
		deps[i] = res.values[dep.Param]
	}
	return info.Type.Domain(deps)
}
