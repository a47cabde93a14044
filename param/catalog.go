package param

import (
	"fmt"

	"github.com/pithecene-io/taskmanager/catalog"
	"github.com/pithecene-io/taskmanager/types"
)

// Workspace accepts the name of a catalog workspace.
type Workspace struct {
	cat *catalog.Catalog
}

var _ types.ParameterType = Workspace{}

// NewWorkspace creates a workspace type over cat.
func NewWorkspace(cat *catalog.Catalog) Workspace {
	return Workspace{cat: cat}
}

// Name implements types.ParameterType.
func (Workspace) Name() string { return NameWorkspace }

// Domain implements types.ParameterType.
func (w Workspace) Domain([]string) []string { return w.cat.Workspaces() }

// Validate implements types.ParameterType.
func (w Workspace) Validate(value string, _ []string) bool {
	_, ok := w.cat.Workspace(value)
	return ok
}

// Parse implements types.ParameterType. Returns *catalog.Workspace.
func (w Workspace) Parse(value string, _ []string) (any, error) {
	ws, ok := w.cat.Workspace(value)
	if !ok {
		return nil, fmt.Errorf("%w: workspace %s", catalog.ErrNotFound, value)
	}
	return ws, nil
}

// Layer accepts the name of a catalog layer. When the descriptor depends on
// a workspace parameter, the layer must belong to that workspace and may be
// given unqualified; otherwise it must be qualified as workspace:layer.
type Layer struct {
	cat *catalog.Catalog
}

var _ types.ParameterType = Layer{}

// NewLayer creates a layer type over cat.
func NewLayer(cat *catalog.Catalog) Layer {
	return Layer{cat: cat}
}

// Name implements types.ParameterType.
func (Layer) Name() string { return NameLayer }

// Domain implements types.ParameterType.
func (l Layer) Domain(deps []string) []string { return l.cat.Layers(first(deps)) }

// Validate implements types.ParameterType.
func (l Layer) Validate(value string, deps []string) bool {
	_, ok := l.cat.Layer(first(deps), value)
	return ok
}

// Parse implements types.ParameterType. Returns *catalog.Layer.
func (l Layer) Parse(value string, deps []string) (any, error) {
	layer, ok := l.cat.Layer(first(deps), value)
	if !ok {
		return nil, fmt.Errorf("%w: layer %s", catalog.ErrNotFound, value)
	}
	return layer, nil
}
