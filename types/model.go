package types

import (
	"fmt"
	"sort"
	"strings"
)

// Attribute is a named value in a Configuration's attribute table.
// Task parameters reference attributes with the ${name} syntax.
type Attribute struct {
	Name  string `json:"name" yaml:"name" msgpack:"name"`
	Value string `json:"value" yaml:"value" msgpack:"value"`
}

// Parameter is a concrete assignment of a task parameter.
// Value is either a literal or an attribute reference of the form ${name}.
type Parameter struct {
	Name  string `json:"name" yaml:"name" msgpack:"name"`
	Value string `json:"value" yaml:"value" msgpack:"value"`
}

// AttributeRef returns the referenced attribute name if the value has the
// form ${name}.
func (p Parameter) AttributeRef() (string, bool) {
	return ParseAttributeRef(p.Value)
}

// ParseAttributeRef extracts the attribute name from a ${name} reference.
func ParseAttributeRef(value string) (string, bool) {
	v := strings.TrimSpace(value)
	if !strings.HasPrefix(v, "${") || !strings.HasSuffix(v, "}") {
		return "", false
	}
	name := strings.TrimSpace(v[2 : len(v)-1])
	if name == "" {
		return "", false
	}
	return name, true
}

// AttributeValue formats an attribute reference for name.
func AttributeValue(name string) string {
	return "${" + name + "}"
}

// Task is a named binding of a task type to concrete parameter values.
// A task is owned by exactly one Configuration.
type Task struct {
	Name       string               `json:"name" yaml:"name" msgpack:"name"`
	Type       string               `json:"type" yaml:"type" msgpack:"type"`
	Parameters map[string]Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty" msgpack:"parameters,omitempty"`
}

// SetParameter assigns a literal or reference value to a parameter.
func (t *Task) SetParameter(name, value string) {
	if t.Parameters == nil {
		t.Parameters = make(map[string]Parameter)
	}
	t.Parameters[name] = Parameter{Name: name, Value: value}
}

// ParameterNames returns the assigned parameter names in sorted order.
func (t *Task) ParameterNames() []string {
	names := make([]string, 0, len(t.Parameters))
	for name := range t.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configuration is a named collection of tasks plus the attribute table
// their parameters may reference.
type Configuration struct {
	Name        string               `json:"name" yaml:"name" msgpack:"name"`
	Workspace   string               `json:"workspace,omitempty" yaml:"workspace,omitempty" msgpack:"workspace,omitempty"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty" msgpack:"description,omitempty"`
	Template    bool                 `json:"template,omitempty" yaml:"template,omitempty" msgpack:"template,omitempty"`
	Attributes  map[string]Attribute `json:"attributes,omitempty" yaml:"attributes,omitempty" msgpack:"attributes,omitempty"`
	Tasks       map[string]*Task     `json:"tasks,omitempty" yaml:"tasks,omitempty" msgpack:"tasks,omitempty"`
}

// Attribute returns the attribute with the given name.
func (c *Configuration) Attribute(name string) (Attribute, bool) {
	a, ok := c.Attributes[name]
	return a, ok
}

// SetAttribute sets an attribute value, creating the table if needed.
func (c *Configuration) SetAttribute(name, value string) {
	if c.Attributes == nil {
		c.Attributes = make(map[string]Attribute)
	}
	c.Attributes[name] = Attribute{Name: name, Value: value}
}

// AddTask adds a task to the configuration, replacing any task with the same name.
func (c *Configuration) AddTask(t *Task) {
	if c.Tasks == nil {
		c.Tasks = make(map[string]*Task)
	}
	c.Tasks[t.Name] = t
}

// TaskNames returns task names in sorted order.
func (c *Configuration) TaskNames() []string {
	names := make([]string, 0, len(c.Tasks))
	for name := range c.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the configuration under a new name.
// Template is cleared on the copy.
func (c *Configuration) Clone(name string) *Configuration {
	out := &Configuration{
		Name:        name,
		Workspace:   c.Workspace,
		Description: c.Description,
	}
	for k, a := range c.Attributes {
		out.SetAttribute(k, a.Value)
	}
	for _, t := range c.Tasks {
		nt := &Task{Name: t.Name, Type: t.Type}
		for _, p := range t.Parameters {
			nt.SetParameter(p.Name, p.Value)
		}
		out.AddTask(nt)
	}
	return out
}

// TaskRef identifies a task by owning configuration and task name.
type TaskRef struct {
	Configuration string `json:"configuration" yaml:"configuration" msgpack:"configuration"`
	Task          string `json:"task" yaml:"task" msgpack:"task"`
}

// String returns "configuration/task".
func (r TaskRef) String() string {
	return r.Configuration + "/" + r.Task
}

// ParseTaskRef parses "configuration/task".
func ParseTaskRef(s string) (TaskRef, error) {
	cfg, task, ok := strings.Cut(s, "/")
	if !ok || cfg == "" || task == "" {
		return TaskRef{}, fmt.Errorf("invalid task reference %q (want configuration/task)", s)
	}
	return TaskRef{Configuration: cfg, Task: task}, nil
}

// BatchElement places one task at a position in a batch.
type BatchElement struct {
	Task  TaskRef `json:"task" yaml:"task" msgpack:"task"`
	Index int     `json:"index" yaml:"index" msgpack:"index"`
}

// Batch is a named ordered sequence of batch elements.
// Order defines both execution order and, reversed, rollback order.
type Batch struct {
	Name string `json:"name" yaml:"name" msgpack:"name"`
	// Workspace groups batches for bulk operations.
	Workspace string `json:"workspace,omitempty" yaml:"workspace,omitempty" msgpack:"workspace,omitempty"`
	// Configuration is the owning configuration, if any.
	// Batches owned by a template configuration are never scheduled.
	Configuration string `json:"configuration,omitempty" yaml:"configuration,omitempty" msgpack:"configuration,omitempty"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty" msgpack:"description,omitempty"`
	// Frequency is a cron expression. Empty means manual execution only.
	Frequency string         `json:"frequency,omitempty" yaml:"frequency,omitempty" msgpack:"frequency,omitempty"`
	Enabled   bool           `json:"enabled" yaml:"enabled" msgpack:"enabled"`
	Elements  []BatchElement `json:"elements,omitempty" yaml:"elements,omitempty" msgpack:"elements,omitempty"`
}

// AddElement appends a task at the next position.
func (b *Batch) AddElement(ref TaskRef) {
	next := 0
	for _, e := range b.Elements {
		if e.Index >= next {
			next = e.Index + 1
		}
	}
	b.Elements = append(b.Elements, BatchElement{Task: ref, Index: next})
}

// Ordered returns the elements sorted by ascending index.
// Ties keep their declaration order.
func (b *Batch) Ordered() []BatchElement {
	out := make([]BatchElement, len(b.Elements))
	copy(out, b.Elements)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Clone returns a deep copy of the batch.
func (b *Batch) Clone() *Batch {
	out := *b
	out.Elements = make([]BatchElement, len(b.Elements))
	copy(out.Elements, b.Elements)
	return &out
}
