package types

// ParameterType is the semantic type tag of a task parameter.
// Implementations validate and parse raw string values, optionally in
// light of the raw values of the parameters they depend on.
type ParameterType interface {
	// Name is the stable tag of the type (e.g. "workspace", "layer").
	Name() string
	// Domain lists acceptable values, or nil when the domain is open.
	Domain(dependsOn []string) []string
	// Validate reports whether value is acceptable.
	Validate(value string, dependsOn []string) bool
	// Parse converts value into the object handed to the task at run time.
	Parse(value string, dependsOn []string) (any, error)
}

// Dependency names another parameter of the same task type that must be
// resolved before the dependent parameter is validated.
type Dependency struct {
	// Param is the name of the parameter depended upon.
	Param string
	// Required forces the dependency to be present whenever the
	// dependent parameter has a value, even if the dependency itself
	// is optional.
	Required bool
}

// ParameterInfo describes one declared parameter of a task type.
type ParameterInfo struct {
	Name      string
	Type      ParameterType
	Required  bool
	DependsOn []Dependency
}

// NewParameterInfo creates a parameter descriptor.
func NewParameterInfo(name string, typ ParameterType, required bool) ParameterInfo {
	return ParameterInfo{Name: name, Type: typ, Required: required}
}

// WithDependsOn returns a copy of the descriptor that depends on params.
func (p ParameterInfo) WithDependsOn(required bool, params ...string) ParameterInfo {
	deps := make([]Dependency, 0, len(p.DependsOn)+len(params))
	deps = append(deps, p.DependsOn...)
	for _, name := range params {
		deps = append(deps, Dependency{Param: name, Required: required})
	}
	p.DependsOn = deps
	return p
}

// TypeName returns the semantic type tag, or "" when the type is unset.
func (p ParameterInfo) TypeName() string {
	if p.Type == nil {
		return ""
	}
	return p.Type.Name()
}
