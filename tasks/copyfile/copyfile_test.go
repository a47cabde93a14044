package copyfile

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/pithecene-io/taskmanager/fileservice"
	"github.com/pithecene-io/taskmanager/lode"
	"github.com/pithecene-io/taskmanager/param"
	"github.com/pithecene-io/taskmanager/runtime"
	"github.com/pithecene-io/taskmanager/store"
	"github.com/pithecene-io/taskmanager/task"
	"github.com/pithecene-io/taskmanager/types"
	"github.com/pithecene-io/taskmanager/validation"
)

type failingType struct{}

func (failingType) Name() string { return "Failing" }

func (failingType) ParameterInfo() map[string]types.ParameterInfo { return nil }

func (failingType) Run(context.Context, *task.Context) (task.Result, error) {
	return nil, errors.New("boom")
}

func (failingType) Cleanup(context.Context, *task.Context) error { return nil }

type testEnv struct {
	src, dst fileservice.Service
	registry *task.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	services := fileservice.NewRegistry()
	src := fileservice.NewMemoryService("incoming", "incoming files")
	dst, err := fileservice.NewFSService("published", "published files", t.TempDir())
	if err != nil {
		t.Fatalf("NewFSService: %v", err)
	}
	services.Add(src)
	services.Add(dst)
	if err := src.Create(t.Context(), "roads.csv", strings.NewReader("new")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	reg := task.NewRegistry()
	reg.MustRegister(New(services))
	reg.MustRegister(failingType{})
	return &testEnv{src: src, dst: dst, registry: reg}
}

func (env *testEnv) configuration() *types.Configuration {
	cfg := &types.Configuration{Name: "roads"}
	tk := &types.Task{Name: "copy", Type: Name}
	tk.SetParameter(ParamSourceService, "incoming")
	tk.SetParameter(ParamSourcePath, "roads.csv")
	tk.SetParameter(ParamTargetService, "published")
	tk.SetParameter(ParamTargetPath, "data/roads.csv")
	cfg.AddTask(tk)
	return cfg
}

// run executes the copy task through the engine, followed by a failing
// task when fail is set.
func (env *testEnv) run(t *testing.T, fail bool) *types.BatchRun {
	t.Helper()
	st := store.NewMemory()
	cfg := env.configuration()
	b := &types.Batch{Name: "publish", Enabled: true}
	b.AddElement(types.TaskRef{Configuration: "roads", Task: "copy"})
	if fail {
		cfg.AddTask(&types.Task{Name: "fail", Type: "Failing"})
		b.AddElement(types.TaskRef{Configuration: "roads", Task: "fail"})
	}
	if err := st.SaveConfiguration(t.Context(), cfg); err != nil {
		t.Fatalf("SaveConfiguration: %v", err)
	}
	if err := st.SaveBatch(t.Context(), b); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	engine, err := runtime.NewEngine(runtime.EngineConfig{
		Registry:  env.registry,
		Store:     st,
		Journal:   lode.NewStubJournal(),
		LogOutput: io.Discard,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	br, err := engine.Execute(t.Context(), "publish")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return br
}

func content(t *testing.T, s fileservice.Service, p string) string {
	t.Helper()
	rc, err := s.Read(t.Context(), p)
	if err != nil {
		t.Fatalf("Read(%s): %v", p, err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return string(b)
}

func TestCopyFile_Commit(t *testing.T) {
	env := newTestEnv(t)
	br := env.run(t, false)
	if br.Status() != types.StatusCommitted {
		t.Fatalf("status = %s (%s), want committed", br.Status(), br.Message())
	}
	if got := content(t, env.dst, "data/roads.csv"); got != "new" {
		t.Errorf("target = %q, want new", got)
	}
}

func TestCopyFile_RollbackDeletesCreatedFile(t *testing.T) {
	env := newTestEnv(t)
	br := env.run(t, true)
	if br.Status() != types.StatusFailed {
		t.Fatalf("status = %s, want failed", br.Status())
	}
	ok, err := env.dst.Exists(t.Context(), "data/roads.csv")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("target still exists after rollback")
	}
}

func TestCopyFile_RollbackRestoresOverwrittenFile(t *testing.T) {
	env := newTestEnv(t)
	if err := env.dst.Create(t.Context(), "data/roads.csv", strings.NewReader("old")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	br := env.run(t, true)
	if br.Status() != types.StatusFailed {
		t.Fatalf("status = %s, want failed", br.Status())
	}
	if got := content(t, env.dst, "data/roads.csv"); got != "old" {
		t.Errorf("target = %q, want old content restored", got)
	}
}

func assertNoBackups(t *testing.T, s fileservice.Service) {
	t.Helper()
	paths, err := s.List(t.Context(), "data")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, p := range paths {
		if strings.HasSuffix(p, ".bak") {
			t.Errorf("backup %s left behind", p)
		}
	}
}

func TestCopyFile_BackupRemoved(t *testing.T) {
	tests := []struct {
		name string
		fail bool
		want types.Status
		body string
	}{
		{name: "commit", want: types.StatusCommitted, body: "new"},
		{name: "rollback", fail: true, want: types.StatusFailed, body: "old"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if err := env.dst.Create(t.Context(), "data/roads.csv", strings.NewReader("old")); err != nil {
				t.Fatalf("Create: %v", err)
			}
			br := env.run(t, tt.fail)
			if br.Status() != tt.want {
				t.Fatalf("status = %s (%s), want %s", br.Status(), br.Message(), tt.want)
			}
			if got := content(t, env.dst, "data/roads.csv"); got != tt.body {
				t.Errorf("target = %q, want %q", got, tt.body)
			}
			assertNoBackups(t, env.dst)
		})
	}
}

func TestResult_RollbackIdempotent(t *testing.T) {
	env := newTestEnv(t)
	target := param.FileRef{Service: env.dst, Path: "data/roads.csv"}
	if err := env.dst.Create(t.Context(), target.Path, strings.NewReader("new")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	r := &result{target: target}
	for i := range 2 {
		if err := r.Rollback(t.Context()); err != nil {
			t.Fatalf("Rollback #%d: %v", i+1, err)
		}
	}
	ok, err := env.dst.Exists(t.Context(), target.Path)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("target still exists after rollback")
	}
}

func TestCopyFile_Validation(t *testing.T) {
	tests := []struct {
		name     string
		param    string
		value    string
		wantKind types.ValidationErrorKind
	}{
		{name: "unknown service", param: ParamTargetService, value: "nowhere", wantKind: types.ValidationInvalidValue},
		{name: "missing source file", param: ParamSourcePath, value: "rivers.csv", wantKind: types.ValidationInvalidValue},
		{name: "empty target path", param: ParamTargetPath, value: "", wantKind: types.ValidationMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			cfg := env.configuration()
			cfg.Tasks["copy"].SetParameter(tt.param, tt.value)

			errs := validation.ValidateTask(env.registry, cfg, "copy")
			if len(errs) == 0 {
				t.Fatal("expected validation errors")
			}
			if errs[0].Kind != tt.wantKind || errs[0].ParamName != tt.param {
				t.Errorf("first error = %s %s, want %s %s", errs[0].Kind, errs[0].ParamName, tt.wantKind, tt.param)
			}
		})
	}
}

func TestCopyFile_ValidConfiguration(t *testing.T) {
	env := newTestEnv(t)
	if errs := validation.ValidateTask(env.registry, env.configuration(), "copy"); len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
}
