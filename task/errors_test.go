package task

import (
	"errors"
	"strings"
	"testing"

	"github.com/pithecene-io/taskmanager/types"
)

func TestInvoke(t *testing.T) {
	ref := types.TaskRef{Configuration: "cfg", Task: "copy"}
	cause := errors.New("disk full")

	t.Run("success", func(t *testing.T) {
		if err := Invoke(OpRun, ref, "CopyFile", func() error { return nil }); err != nil {
			t.Errorf("Invoke() = %v, want nil", err)
		}
	})

	t.Run("error is wrapped", func(t *testing.T) {
		err := Invoke(OpCommit, ref, "CopyFile", func() error { return cause })
		var te *Error
		if !errors.As(err, &te) {
			t.Fatalf("Invoke() = %T, want *Error", err)
		}
		if te.Op != OpCommit || te.Task != ref || te.TypeName != "CopyFile" {
			t.Errorf("Error fields = %+v", te)
		}
		if !errors.Is(err, cause) {
			t.Error("errors.Is(err, cause) = false")
		}
		if !strings.Contains(err.Error(), "cfg/copy") || !strings.Contains(err.Error(), "commit") {
			t.Errorf("Error() = %q, want task and op", err.Error())
		}
	})

	t.Run("panic is recovered", func(t *testing.T) {
		err := Invoke(OpRollback, ref, "CopyFile", func() error { panic("boom") })
		var te *Error
		if !errors.As(err, &te) {
			t.Fatalf("Invoke() = %T, want *Error", err)
		}
		var pe *PanicError
		if !errors.As(err, &pe) {
			t.Fatalf("cause = %T, want *PanicError", te.Err)
		}
		if pe.Value != "boom" {
			t.Errorf("panic value = %v, want boom", pe.Value)
		}
	})

	t.Run("existing task error is not double wrapped", func(t *testing.T) {
		inner := &Error{Op: OpCleanup, Task: ref, TypeName: "CopyFile", Err: cause}
		err := Invoke(OpCleanup, ref, "CopyFile", func() error { return inner })
		if err != inner {
			t.Errorf("Invoke() = %v, want the original *Error", err)
		}
	})
}

func TestContext(t *testing.T) {
	params := map[string]any{"count": 3, "name": "x"}
	raw := map[string]string{"count": "3", "name": "x"}
	tc := NewContext("br-1", types.TaskRef{Configuration: "c", Task: "t"}, "T", params, raw, nil)

	// Mutating the inputs must not leak into the context.
	params["count"] = 99
	raw["name"] = "y"

	if v, ok := tc.Param("count"); !ok || v != 3 {
		t.Errorf("Param(count) = %v, %v; want 3, true", v, ok)
	}
	if tc.Raw("name") != "x" {
		t.Errorf("Raw(name) = %q, want x", tc.Raw("name"))
	}
	if _, ok := tc.Param("missing"); ok {
		t.Error("Param(missing) should not be found")
	}
	if names := tc.Names(); len(names) != 2 || names[0] != "count" {
		t.Errorf("Names() = %v", names)
	}
	if tc.Batch == nil {
		t.Fatal("Batch context should default to non-nil")
	}
	tc.Batch.Put("k", "v")
	if v, _ := tc.Batch.Get("k"); v != "v" {
		t.Errorf("Batch.Get(k) = %v, want v", v)
	}
}
