package types

import "fmt"

// ValidationErrorKind classifies a validation error.
type ValidationErrorKind string

const (
	// ValidationMissing indicates a required parameter has no value.
	ValidationMissing ValidationErrorKind = "MISSING"
	// ValidationInvalidParam indicates an assigned parameter is not declared
	// by the task type.
	ValidationInvalidParam ValidationErrorKind = "INVALID_PARAM"
	// ValidationInvalidValue indicates a parameter value was rejected.
	ValidationInvalidValue ValidationErrorKind = "INVALID_VALUE"
)

// Pseudo parameter names for errors not tied to a declared parameter.
const (
	// TypeParam reports a task whose type is not registered.
	TypeParam = "type"
	// TaskParam reports a batch element whose task does not exist.
	TaskParam = "task"
)

// ValidationError describes one rejected parameter assignment.
// It is a value, never a Go error: validation returns a list of these.
type ValidationError struct {
	Kind       ValidationErrorKind `json:"kind"`
	ParamName  string              `json:"param_name"`
	ParamValue string              `json:"param_value,omitempty"`
	TaskType   string              `json:"task_type"`
	// Task is the offending task, when known.
	Task TaskRef `json:"task"`
}

// String renders the error for run messages and CLI output.
func (e ValidationError) String() string {
	switch e.Kind {
	case ValidationMissing:
		return fmt.Sprintf("%s is missing but required for task type %s", e.ParamName, e.TaskType)
	case ValidationInvalidParam:
		return fmt.Sprintf("%s is not a valid parameter for task type %s", e.ParamName, e.TaskType)
	case ValidationInvalidValue:
		return fmt.Sprintf("%s is not a valid parameter value for parameter %s in task type %s",
			e.ParamValue, e.ParamName, e.TaskType)
	default:
		return "validation error"
	}
}
