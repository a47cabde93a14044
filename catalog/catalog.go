// Package catalog holds the layer catalog that task types read and mutate.
//
// Catalog objects expose their properties through the Resource capability
// interface so task types can read and write properties by key without
// knowing the concrete resource kind.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Resource kinds.
const (
	KindWorkspace = "workspace"
	KindLayer     = "layer"
)

// ErrNotFound is returned when a workspace or layer does not exist.
var ErrNotFound = errors.New("catalog resource not found")

// Resource is the property capability of a catalog object.
type Resource interface {
	// Kind is the resource kind (workspace, layer).
	Kind() string
	// Name is the qualified resource name.
	Name() string
	Get(key string) (string, bool)
	Set(key, value string)
	Unset(key string)
}

// properties is a synchronized property table shared by resource kinds.
type properties struct {
	mu    sync.RWMutex
	props map[string]string
}

func copyProps(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Get returns a property value.
func (p *properties) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.props[key]
	return v, ok
}

// Set assigns a property value.
func (p *properties) Set(key, value string) {
	p.mu.Lock()
	p.props[key] = value
	p.mu.Unlock()
}

// Unset removes a property.
func (p *properties) Unset(key string) {
	p.mu.Lock()
	delete(p.props, key)
	p.mu.Unlock()
}

// Properties returns a copy of all properties.
func (p *properties) Properties() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copyProps(p.props)
}

// Workspace groups layers.
type Workspace struct {
	properties
	name   string
	layers map[string]*Layer
}

// Kind implements Resource.
func (w *Workspace) Kind() string { return KindWorkspace }

// Name implements Resource.
func (w *Workspace) Name() string { return w.name }

// Layer is a published dataset within a workspace.
type Layer struct {
	properties
	workspace string
	name      string
}

// Kind implements Resource.
func (l *Layer) Kind() string { return KindLayer }

// Name implements Resource. Layers are qualified as workspace:layer.
func (l *Layer) Name() string { return Qualify(l.workspace, l.name) }

// Workspace returns the owning workspace name.
func (l *Layer) Workspace() string { return l.workspace }

// LocalName returns the unqualified layer name.
func (l *Layer) LocalName() string { return l.name }

var (
	_ Resource = (*Workspace)(nil)
	_ Resource = (*Layer)(nil)
)

// Qualify returns workspace:name.
func Qualify(workspace, name string) string {
	return workspace + ":" + name
}

// SplitQualified splits workspace:name. A name without a workspace returns
// an empty workspace.
func SplitQualified(qualified string) (workspace, name string) {
	if ws, n, ok := strings.Cut(qualified, ":"); ok {
		return ws, n
	}
	return "", qualified
}

// Catalog is an in-memory workspace and layer catalog.
// Safe for concurrent use.
type Catalog struct {
	mu         sync.RWMutex
	workspaces map[string]*Workspace
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{workspaces: make(map[string]*Workspace)}
}

// AddWorkspace creates a workspace, or returns the existing one.
func (c *Catalog) AddWorkspace(name string, props map[string]string) *Workspace {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ws, ok := c.workspaces[name]; ok {
		return ws
	}
	ws := &Workspace{name: name, layers: make(map[string]*Layer)}
	ws.props = copyProps(props)
	c.workspaces[name] = ws
	return ws
}

// AddLayer creates a layer in an existing workspace, replacing any layer
// with the same name.
func (c *Catalog) AddLayer(workspace, name string, props map[string]string) (*Layer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws, ok := c.workspaces[workspace]
	if !ok {
		return nil, fmt.Errorf("%w: workspace %s", ErrNotFound, workspace)
	}
	l := &Layer{workspace: workspace, name: name}
	l.props = copyProps(props)
	ws.layers[name] = l
	return l, nil
}

// Workspace returns a workspace by name.
func (c *Catalog) Workspace(name string) (*Workspace, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ws, ok := c.workspaces[name]
	return ws, ok
}

// Workspaces returns workspace names in sorted order.
func (c *Catalog) Workspaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.workspaces))
	for name := range c.workspaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Layer finds a layer. name may be qualified, in which case the workspace
// argument may be empty; a qualified name must agree with a non-empty
// workspace argument.
func (c *Catalog) Layer(workspace, name string) (*Layer, bool) {
	ws, local := SplitQualified(name)
	if ws == "" {
		ws = workspace
	} else if workspace != "" && workspace != ws {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.workspaces[ws]
	if !ok {
		return nil, false
	}
	l, ok := w.layers[local]
	return l, ok
}

// Layers lists layer names. With a workspace the names are local to it;
// without one every layer is listed qualified. Sorted.
func (c *Catalog) Layers(workspace string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	if workspace != "" {
		ws, ok := c.workspaces[workspace]
		if !ok {
			return nil
		}
		for name := range ws.layers {
			names = append(names, name)
		}
	} else {
		for wsName, ws := range c.workspaces {
			for name := range ws.layers {
				names = append(names, Qualify(wsName, name))
			}
		}
	}
	sort.Strings(names)
	return names
}

// Resolve returns the resource of the given kind and qualified name.
func (c *Catalog) Resolve(kind, name string) (Resource, error) {
	switch kind {
	case KindWorkspace:
		if ws, ok := c.Workspace(name); ok {
			return ws, nil
		}
	case KindLayer:
		if l, ok := c.Layer("", name); ok {
			return l, nil
		}
	default:
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}
	return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, name)
}
