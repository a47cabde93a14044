// Package task defines the task type plugin boundary and the registry that
// resolves task types by name.
//
// A task type performs one unit of work in two phases. Run performs the side
// effect and returns a Result; the engine later finalizes the effect with
// either Result.Commit or Result.Rollback. Cleanup releases resources held by
// the task and is always invoked exactly once per batch run.
package task

import (
	"context"
	"sort"

	"github.com/pithecene-io/taskmanager/types"
)

// Type is a pluggable unit-of-work implementation.
//
// Implementations are stateless across runs. Configuration fields are
// supplied at construction time; per-run state lives in the Result.
type Type interface {
	// Name is unique and stable across process restarts.
	Name() string
	// ParameterInfo maps parameter name to descriptor.
	ParameterInfo() map[string]types.ParameterInfo
	// Run performs the task's side effect.
	Run(ctx context.Context, tc *Context) (Result, error)
	// Cleanup releases resources held for this batch run.
	Cleanup(ctx context.Context, tc *Context) error
}

// Result finalizes the effect of a successful Run.
//
// Implementations capture enough prior state during Run for Rollback to be
// fully reversible.
type Result interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// NopResult is a Result whose commit and rollback do nothing.
type NopResult struct{}

// Commit implements Result.
func (NopResult) Commit(context.Context) error { return nil }

// Rollback implements Result.
func (NopResult) Rollback(context.Context) error { return nil }

// Context is the read-only view a task type receives for one run.
type Context struct {
	// BatchRunID identifies the owning batch run.
	BatchRunID string
	// Task identifies the task being executed.
	Task types.TaskRef
	// TypeName is the task type name.
	TypeName string
	// Batch is shared by all tasks of the same batch run.
	Batch *BatchContext

	params map[string]any
	raw    map[string]string
}

// NewContext creates a task context from parsed and raw resolved values.
// The maps are copied.
func NewContext(batchRunID string, ref types.TaskRef, typeName string, params map[string]any, raw map[string]string, batch *BatchContext) *Context {
	tc := &Context{
		BatchRunID: batchRunID,
		Task:       ref,
		TypeName:   typeName,
		Batch:      batch,
		params:     make(map[string]any, len(params)),
		raw:        make(map[string]string, len(raw)),
	}
	for k, v := range params {
		tc.params[k] = v
	}
	for k, v := range raw {
		tc.raw[k] = v
	}
	if tc.Batch == nil {
		tc.Batch = NewBatchContext()
	}
	return tc
}

// Param returns the parsed value of a parameter.
func (c *Context) Param(name string) (any, bool) {
	v, ok := c.params[name]
	return v, ok
}

// Raw returns the resolved string value of a parameter, or "".
func (c *Context) Raw(name string) string {
	return c.raw[name]
}

// Names returns the names of parameters with a value, sorted.
func (c *Context) Names() []string {
	names := make([]string, 0, len(c.params))
	for k := range c.params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// BatchContext holds values that tasks of one batch run hand to later
// tasks of the same run. Tasks within a batch run execute sequentially,
// so BatchContext is not synchronized.
type BatchContext struct {
	values map[string]any
}

// NewBatchContext creates an empty batch context.
func NewBatchContext() *BatchContext {
	return &BatchContext{values: make(map[string]any)}
}

// Put stores a value under key.
func (b *BatchContext) Put(key string, value any) {
	b.values[key] = value
}

// Get returns the value stored under key.
func (b *BatchContext) Get(key string) (any, bool) {
	v, ok := b.values[key]
	return v, ok
}
