// Package timestamp provides the TimeStamp task type, which records the
// time of a batch run on a catalog layer.
package timestamp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/taskmanager/catalog"
	"github.com/pithecene-io/taskmanager/param"
	"github.com/pithecene-io/taskmanager/task"
	"github.com/pithecene-io/taskmanager/types"
)

// Name is the registered task type name.
const Name = "TimeStamp"

// Parameter names.
const (
	ParamWorkspace = "workspace"
	ParamLayer     = "layer"
)

// Type writes the current time to the data and metadata timestamp
// properties of a layer. A property with an empty name is not written.
// Rollback restores the previous values.
type Type struct {
	cat              *catalog.Catalog
	dataProperty     string
	metadataProperty string
	now              func() time.Time
}

var _ task.Type = (*Type)(nil)

// Option configures a Type.
type Option func(*Type)

// WithDataProperty sets the property receiving the data timestamp.
func WithDataProperty(key string) Option {
	return func(t *Type) { t.dataProperty = key }
}

// WithMetadataProperty sets the property receiving the metadata timestamp.
func WithMetadataProperty(key string) Option {
	return func(t *Type) { t.metadataProperty = key }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Type) { t.now = now }
}

// New creates the task type over cat.
func New(cat *catalog.Catalog, opts ...Option) *Type {
	t := &Type{cat: cat, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements task.Type.
func (t *Type) Name() string { return Name }

// ParameterInfo implements task.Type.
func (t *Type) ParameterInfo() map[string]types.ParameterInfo {
	return map[string]types.ParameterInfo{
		ParamWorkspace: types.NewParameterInfo(ParamWorkspace, param.NewWorkspace(t.cat), false),
		ParamLayer: types.NewParameterInfo(ParamLayer, param.NewLayer(t.cat), true).
			WithDependsOn(false, ParamWorkspace),
	}
}

// Run implements task.Type.
func (t *Type) Run(_ context.Context, tc *task.Context) (task.Result, error) {
	v, ok := tc.Param(ParamLayer)
	if !ok {
		return nil, errors.New("layer parameter has no value")
	}
	res, ok := v.(catalog.Resource)
	if !ok {
		return nil, fmt.Errorf("layer parameter is %T, want a catalog resource", v)
	}

	stamp := t.now().UTC().Format(time.RFC3339)
	r := &result{resource: res}
	for _, key := range []string{t.dataProperty, t.metadataProperty} {
		if key == "" {
			continue
		}
		old, had := res.Get(key)
		r.previous = append(r.previous, previous{key: key, value: old, had: had})
		res.Set(key, stamp)
	}
	return r, nil
}

// Cleanup implements task.Type.
func (t *Type) Cleanup(context.Context, *task.Context) error { return nil }

type previous struct {
	key   string
	value string
	had   bool
}

type result struct {
	resource catalog.Resource
	previous []previous
}

func (r *result) Commit(context.Context) error { return nil }

// Rollback puts back the values seen before Run, removing properties that
// did not exist.
func (r *result) Rollback(context.Context) error {
	for i := len(r.previous) - 1; i >= 0; i-- {
		p := r.previous[i]
		if p.had {
			r.resource.Set(p.key, p.value)
		} else {
			r.resource.Unset(p.key)
		}
	}
	return nil
}
