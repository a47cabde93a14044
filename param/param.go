// Package param provides the built-in semantic parameter types.
//
// Each type validates and parses raw string values. Types that depend on
// other parameters (a layer depends on its workspace, a file on its file
// service) receive the resolved values of those parameters in the order
// the descriptor declares them.
package param

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/pithecene-io/taskmanager/types"
)

// Type names.
const (
	NameString      = "string"
	NameInteger     = "integer"
	NameBoolean     = "boolean"
	NameURI         = "uri"
	NameEnum        = "enum"
	NameWorkspace   = "workspace"
	NameLayer       = "layer"
	NameFileService = "file_service"
	NameFile        = "file"
)

// first returns the first dependency value, or "".
func first(dependsOn []string) string {
	if len(dependsOn) == 0 {
		return ""
	}
	return dependsOn[0]
}

// String accepts any value.
type String struct{}

var _ types.ParameterType = String{}

// Name implements types.ParameterType.
func (String) Name() string { return NameString }

// Domain implements types.ParameterType.
func (String) Domain([]string) []string { return nil }

// Validate implements types.ParameterType.
func (String) Validate(string, []string) bool { return true }

// Parse implements types.ParameterType.
func (String) Parse(value string, _ []string) (any, error) { return value, nil }

// Integer accepts base 10 integers.
type Integer struct{}

// Name implements types.ParameterType.
func (Integer) Name() string { return NameInteger }

// Domain implements types.ParameterType.
func (Integer) Domain([]string) []string { return nil }

// Validate implements types.ParameterType.
func (i Integer) Validate(value string, deps []string) bool {
	_, err := i.Parse(value, deps)
	return err == nil
}

// Parse implements types.ParameterType. Returns int.
func (Integer) Parse(value string, _ []string) (any, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("not an integer: %q", value)
	}
	return n, nil
}

// Boolean accepts true and false.
type Boolean struct{}

// Name implements types.ParameterType.
func (Boolean) Name() string { return NameBoolean }

// Domain implements types.ParameterType.
func (Boolean) Domain([]string) []string { return []string{"true", "false"} }

// Validate implements types.ParameterType.
func (b Boolean) Validate(value string, deps []string) bool {
	_, err := b.Parse(value, deps)
	return err == nil
}

// Parse implements types.ParameterType. Returns bool.
func (Boolean) Parse(value string, _ []string) (any, error) {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("not a boolean: %q", value)
	}
	return v, nil
}

// URI accepts absolute URIs.
type URI struct{}

// Name implements types.ParameterType.
func (URI) Name() string { return NameURI }

// Domain implements types.ParameterType.
func (URI) Domain([]string) []string { return nil }

// Validate implements types.ParameterType.
func (u URI) Validate(value string, deps []string) bool {
	_, err := u.Parse(value, deps)
	return err == nil
}

// Parse implements types.ParameterType. Returns *url.URL.
func (URI) Parse(value string, _ []string) (any, error) {
	parsed, err := url.Parse(value)
	if err != nil {
		return nil, err
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("not an absolute uri: %q", value)
	}
	return parsed, nil
}

// Enum accepts one of a fixed set of values.
type Enum struct {
	values []string
}

// NewEnum creates an enum type over values.
func NewEnum(values ...string) Enum {
	return Enum{values: slices.Clone(values)}
}

// Name implements types.ParameterType.
func (Enum) Name() string { return NameEnum }

// Domain implements types.ParameterType.
func (e Enum) Domain([]string) []string { return slices.Clone(e.values) }

// Validate implements types.ParameterType.
func (e Enum) Validate(value string, _ []string) bool {
	return slices.Contains(e.values, value)
}

// Parse implements types.ParameterType.
func (e Enum) Parse(value string, deps []string) (any, error) {
	if !e.Validate(value, deps) {
		return nil, fmt.Errorf("%q is not one of %v", value, e.values)
	}
	return value, nil
}
