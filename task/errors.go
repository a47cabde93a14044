package task

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/taskmanager/types"
)

// Registry errors.
var (
	// ErrTypeNotFound is returned when a task type name is not registered.
	ErrTypeNotFound = errors.New("task type not found")
	// ErrDuplicateType is returned when a task type name is registered twice.
	ErrDuplicateType = errors.New("task type already registered")
	// ErrInvalidDescriptor is returned when a task type's parameter
	// descriptors are malformed or cyclic.
	ErrInvalidDescriptor = errors.New("invalid parameter descriptor")
)

// Op names a task type operation.
type Op string

// Task type operations.
const (
	OpRun      Op = "run"
	OpCommit   Op = "commit"
	OpRollback Op = "rollback"
	OpCleanup  Op = "cleanup"
)

// Error is a failure raised by a task type operation.
// The engine records it on the run and never lets it escape.
type Error struct {
	Op       Op
	Task     types.TaskRef
	TypeName string
	Err      error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("task %s (%s) %s failed: %v", e.Task, e.TypeName, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking task operation.
type PanicError struct {
	Value any
}

// Error implements error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Invoke calls fn as operation op of a task. A returned error or a panic
// is converted to *Error. A nil fn result yields nil.
func Invoke(op Op, ref types.TaskRef, typeName string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Op: op, Task: ref, TypeName: typeName, Err: &PanicError{Value: r}}
		}
	}()
	if ferr := fn(); ferr != nil {
		var te *Error
		if errors.As(ferr, &te) && te.Op == op && te.Task == ref {
			return te
		}
		return &Error{Op: op, Task: ref, TypeName: typeName, Err: ferr}
	}
	return nil
}
