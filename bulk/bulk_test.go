package bulk

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/taskmanager/param"
	"github.com/pithecene-io/taskmanager/store"
	"github.com/pithecene-io/taskmanager/task"
	"github.com/pithecene-io/taskmanager/types"
)

type stampType struct{}

func (stampType) Name() string { return "Stamp" }

func (stampType) ParameterInfo() map[string]types.ParameterInfo {
	return map[string]types.ParameterInfo{
		"layer": types.NewParameterInfo("layer", param.String{}, true),
		"mode":  types.NewParameterInfo("mode", param.NewEnum("data", "metadata"), false),
	}
}

func (stampType) Run(context.Context, *task.Context) (task.Result, error) {
	return task.NopResult{}, nil
}

func (stampType) Cleanup(context.Context, *task.Context) error { return nil }

type dispatch struct {
	batch string
	delay time.Duration
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatch
	err   error
}

func (d *fakeDispatcher) RunAfter(batch string, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, dispatch{batch: batch, delay: delay})
	return nil
}

func newTestService(t *testing.T, opts ...Option) (*Service, *store.Memory) {
	t.Helper()
	reg := task.NewRegistry()
	reg.MustRegister(stampType{})
	st := store.NewMemory()
	opts = append([]Option{WithLogOutput(io.Discard)}, opts...)
	return New(st, reg, opts...), st
}

func stampConfiguration(name, workspace string, template bool) *types.Configuration {
	cfg := &types.Configuration{Name: name, Workspace: workspace, Template: template}
	cfg.SetAttribute("layer", "roads")
	tk := &types.Task{Name: "stamp", Type: "Stamp"}
	tk.SetParameter("layer", types.AttributeValue("layer"))
	cfg.AddTask(tk)
	return cfg
}

func ownedBatch(name, cfg, workspace string) *types.Batch {
	b := &types.Batch{Name: name, Configuration: cfg, Workspace: workspace, Enabled: true}
	b.AddElement(types.TaskRef{Configuration: cfg, Task: "stamp"})
	return b
}

func mustSaveConfiguration(t *testing.T, st store.Store, cfg *types.Configuration) {
	t.Helper()
	if err := st.SaveConfiguration(t.Context(), cfg); err != nil {
		t.Fatalf("SaveConfiguration(%s): %v", cfg.Name, err)
	}
}

func mustSaveBatch(t *testing.T, st store.Store, b *types.Batch) {
	t.Helper()
	if err := st.SaveBatch(t.Context(), b); err != nil {
		t.Fatalf("SaveBatch(%s): %v", b.Name, err)
	}
}

func configurationNames(t *testing.T, st store.Store) []string {
	t.Helper()
	cfgs, err := st.ListConfigurations(t.Context())
	if err != nil {
		t.Fatalf("ListConfigurations: %v", err)
	}
	var names []string
	for _, c := range cfgs {
		names = append(names, c.Name)
	}
	slices.Sort(names)
	return names
}

func batchNames(t *testing.T, st store.Store) []string {
	t.Helper()
	batches, err := st.ListBatches(t.Context())
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	var names []string
	for _, b := range batches {
		names = append(names, b.Name)
	}
	return names
}

func seedClear(t *testing.T, st store.Store) {
	t.Helper()
	mustSaveConfiguration(t, st, stampConfiguration("tpl", "topp", true))
	mustSaveConfiguration(t, st, stampConfiguration("roads", "topp", false))
	mustSaveBatch(t, st, ownedBatch("tpl:nightly", "tpl", "topp"))
	mustSaveBatch(t, st, ownedBatch("roads:nightly", "roads", "topp"))
	mustSaveBatch(t, st, &types.Batch{Name: "standalone"})
}

func TestClearAll_KeepsTemplates(t *testing.T) {
	svc, st := newTestService(t)
	seedClear(t, st)

	res, err := svc.ClearAll(t.Context(), false)
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if res.Configurations != 1 || res.Batches != 2 {
		t.Errorf("ClearAll = %+v, want 1 configuration, 2 batches", res)
	}
	if got := configurationNames(t, st); !reflect.DeepEqual(got, []string{"tpl"}) {
		t.Errorf("configurations = %v, want [tpl]", got)
	}
	if got := batchNames(t, st); !reflect.DeepEqual(got, []string{"tpl:nightly"}) {
		t.Errorf("batches = %v, want [tpl:nightly]", got)
	}
}

func TestClearAll_IncludeTemplates(t *testing.T) {
	svc, st := newTestService(t)
	seedClear(t, st)

	res, err := svc.ClearAll(t.Context(), true)
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if res.Configurations != 2 || res.Batches != 3 {
		t.Errorf("ClearAll = %+v, want 2 configurations, 3 batches", res)
	}
	if got := configurationNames(t, st); len(got) != 0 {
		t.Errorf("configurations = %v, want none", got)
	}
	if got := batchNames(t, st); len(got) != 0 {
		t.Errorf("batches = %v, want none", got)
	}
}

func TestFixAll(t *testing.T) {
	svc, st := newTestService(t)

	cfg := &types.Configuration{Name: "roads"}
	cfg.SetAttribute("layer", "roads")
	// Undeclared parameter, dangling reference, unassigned required parameter.
	a := &types.Task{Name: "a", Type: "Stamp"}
	a.SetParameter("colour", "red")
	a.SetParameter("mode", types.AttributeValue("stamp_mode"))
	cfg.AddTask(a)
	cfg.AddTask(&types.Task{Name: "b", Type: "Stamp"})
	mustSaveConfiguration(t, st, cfg)

	b := &types.Batch{Name: "nightly"}
	b.AddElement(types.TaskRef{Configuration: "roads", Task: "a"})
	b.AddElement(types.TaskRef{Configuration: "roads", Task: "gone"})
	b.AddElement(types.TaskRef{Configuration: "missing", Task: "a"})
	mustSaveBatch(t, st, b)

	res, err := svc.FixAll(t.Context())
	if err != nil {
		t.Fatalf("FixAll: %v", err)
	}

	if want := []string{"roads/a.colour"}; !reflect.DeepEqual(res.RemovedParameters, want) {
		t.Errorf("RemovedParameters = %v, want %v", res.RemovedParameters, want)
	}
	if want := []string{"roads.stamp_mode"}; !reflect.DeepEqual(res.AddedAttributes, want) {
		t.Errorf("AddedAttributes = %v, want %v", res.AddedAttributes, want)
	}
	if want := []string{"roads/a.layer", "roads/b.layer"}; !reflect.DeepEqual(res.BoundParameters, want) {
		t.Errorf("BoundParameters = %v, want %v", res.BoundParameters, want)
	}
	if want := []string{"nightly:roads/gone", "nightly:missing/a"}; !reflect.DeepEqual(res.RemovedElements, want) {
		t.Errorf("RemovedElements = %v, want %v", res.RemovedElements, want)
	}
	if res.Configurations != 1 || res.Batches != 1 {
		t.Errorf("saved %d configurations, %d batches; want 1, 1", res.Configurations, res.Batches)
	}
	if len(res.Remaining) != 0 {
		t.Errorf("Remaining = %v, want none", res.Remaining)
	}

	got, err := st.GetConfiguration(t.Context(), "roads")
	if err != nil {
		t.Fatalf("GetConfiguration: %v", err)
	}
	if _, ok := got.Tasks["a"].Parameters["colour"]; ok {
		t.Error("undeclared parameter colour still assigned")
	}
	if p := got.Tasks["b"].Parameters["layer"]; p.Value != "${layer}" {
		t.Errorf("b.layer = %q, want ${layer}", p.Value)
	}
	fixed, err := st.GetBatch(t.Context(), "nightly")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(fixed.Elements) != 1 || fixed.Elements[0].Task.Task != "a" {
		t.Errorf("batch elements = %+v, want only roads/a", fixed.Elements)
	}
}

func TestFixAll_ReportsUnfixable(t *testing.T) {
	svc, st := newTestService(t)

	cfg := &types.Configuration{Name: "roads"}
	cfg.AddTask(&types.Task{Name: "a", Type: "Stamp"})
	mustSaveConfiguration(t, st, cfg)

	res, err := svc.FixAll(t.Context())
	if err != nil {
		t.Fatalf("FixAll: %v", err)
	}
	if res.Configurations != 0 {
		t.Errorf("Configurations = %d, want 0", res.Configurations)
	}
	if len(res.Remaining) != 1 || res.Remaining[0].Kind != types.ValidationMissing {
		t.Fatalf("Remaining = %v, want one MISSING error", res.Remaining)
	}
	if res.Remaining[0].ParamName != "layer" {
		t.Errorf("Remaining parameter = %q, want layer", res.Remaining[0].ParamName)
	}
}

const importCSV = `name;description;layer
roads_a;Roads A;roads_a
roads_b;Roads B;roads_b
`

func seedTemplate(t *testing.T, st store.Store) {
	t.Helper()
	mustSaveConfiguration(t, st, stampConfiguration("tpl", "topp", true))
	mustSaveBatch(t, st, ownedBatch("tpl:nightly", "tpl", "topp"))
}

func TestImportConfigurations(t *testing.T) {
	svc, st := newTestService(t)
	seedTemplate(t, st)

	names, err := svc.ImportConfigurations(t.Context(), strings.NewReader(importCSV), ImportOptions{Template: "tpl", Validate: true})
	if err != nil {
		t.Fatalf("ImportConfigurations: %v", err)
	}
	if want := []string{"roads_a", "roads_b"}; !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}

	cfg, err := st.GetConfiguration(t.Context(), "roads_b")
	if err != nil {
		t.Fatalf("GetConfiguration: %v", err)
	}
	if cfg.Template {
		t.Error("imported configuration is a template")
	}
	if cfg.Description != "Roads B" || cfg.Workspace != "topp" {
		t.Errorf("configuration metadata = %q/%q", cfg.Description, cfg.Workspace)
	}
	if attr, _ := cfg.Attribute("layer"); attr.Value != "roads_b" {
		t.Errorf("layer attribute = %q, want roads_b", attr.Value)
	}
	if _, ok := cfg.Tasks["stamp"]; !ok {
		t.Error("task stamp not copied")
	}

	b, err := st.GetBatch(t.Context(), "roads_b:nightly")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if b.Configuration != "roads_b" || b.Elements[0].Task.Configuration != "roads_b" {
		t.Errorf("copied batch = %+v, want owned by and pointing at roads_b", b)
	}
	if _, err := st.GetBatch(t.Context(), "tpl:nightly"); err != nil {
		t.Errorf("template batch: %v", err)
	}
}

func TestImportConfigurations_ValidationRejectsAll(t *testing.T) {
	svc, st := newTestService(t)
	seedTemplate(t, st)

	csv := "name;layer\nok;roads\nbad;\n"
	_, err := svc.ImportConfigurations(t.Context(), strings.NewReader(csv), ImportOptions{Template: "tpl", Validate: true})
	var rowErr *RowError
	if !errors.As(err, &rowErr) {
		t.Fatalf("error = %v, want *RowError", err)
	}
	if rowErr.Line != 3 || rowErr.Name != "bad" {
		t.Errorf("row error = line %d (%s), want line 3 (bad)", rowErr.Line, rowErr.Name)
	}
	if got := configurationNames(t, st); !reflect.DeepEqual(got, []string{"tpl"}) {
		t.Errorf("configurations = %v, want only the template", got)
	}
}

func TestImportConfigurations_WithoutValidation(t *testing.T) {
	svc, st := newTestService(t)
	seedTemplate(t, st)

	csv := "name;layer\nbad;\n"
	names, err := svc.ImportConfigurations(t.Context(), strings.NewReader(csv), ImportOptions{Template: "tpl"})
	if err != nil {
		t.Fatalf("ImportConfigurations: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"bad"}) {
		t.Errorf("names = %v, want [bad]", names)
	}
}

func TestImportConfigurations_Errors(t *testing.T) {
	tests := []struct {
		name     string
		template string
		csv      string
		wantErr  error
	}{
		{name: "not a template", template: "plain", csv: importCSV, wantErr: ErrNoTemplate},
		{name: "unknown template", template: "nope", csv: importCSV, wantErr: store.ErrNotFound},
		{name: "existing name", template: "tpl", csv: "name\nplain\n", wantErr: store.ErrExists},
		{name: "no name column", template: "tpl", csv: "layer\nroads\n"},
		{name: "empty file", template: "tpl", csv: ""},
		{name: "duplicate row", template: "tpl", csv: "name\nx\nx\n"},
		{name: "empty name", template: "tpl", csv: "name;layer\n;roads\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := newTestService(t)
			seedTemplate(t, st)
			mustSaveConfiguration(t, st, stampConfiguration("plain", "topp", false))

			_, err := svc.ImportConfigurations(t.Context(), strings.NewReader(tt.csv), ImportOptions{Template: tt.template})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if got := configurationNames(t, st); !reflect.DeepEqual(got, []string{"plain", "tpl"}) {
				t.Errorf("configurations = %v, want unchanged", got)
			}
		})
	}
}

func seedRun(t *testing.T, st store.Store) {
	t.Helper()
	mustSaveConfiguration(t, st, stampConfiguration("tpl", "topp", true))
	mustSaveConfiguration(t, st, stampConfiguration("roads", "topp", false))
	mustSaveConfiguration(t, st, stampConfiguration("rivers", "hydro", false))
	mustSaveBatch(t, st, ownedBatch("tpl:nightly", "tpl", "topp"))
	mustSaveBatch(t, st, ownedBatch("roads:nightly", "roads", "topp"))
	mustSaveBatch(t, st, ownedBatch("roads:weekly", "roads", "topp"))
	mustSaveBatch(t, st, ownedBatch("rivers:nightly", "rivers", "hydro"))
}

func TestMatch(t *testing.T) {
	svc, st := newTestService(t)
	seedRun(t, st)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "empty matches all but templates", filter: Filter{}, want: []string{"rivers:nightly", "roads:nightly", "roads:weekly"}},
		{name: "workspace", filter: Filter{Workspace: "topp"}, want: []string{"roads:nightly", "roads:weekly"}},
		{name: "name suffix", filter: Filter{Name: "%:nightly"}, want: []string{"rivers:nightly", "roads:nightly"}},
		{name: "configuration prefix", filter: Filter{Configuration: "ro%"}, want: []string{"roads:nightly", "roads:weekly"}},
		{name: "combined", filter: Filter{Workspace: "topp", Name: "%weekly"}, want: []string{"roads:weekly"}},
		{name: "exact", filter: Filter{Name: "roads"}, want: nil},
		{name: "meta characters are literal", filter: Filter{Name: "roads.nightly"}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Match(t.Context(), tt.filter)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			var names []string
			for _, b := range got {
				names = append(names, b.Name)
			}
			if !reflect.DeepEqual(names, tt.want) {
				t.Errorf("Match(%+v) = %v, want %v", tt.filter, names, tt.want)
			}
		})
	}
}

func TestRunBatches(t *testing.T) {
	d := &fakeDispatcher{}
	svc, st := newTestService(t, WithDispatcher(d))
	seedRun(t, st)

	n, err := svc.RunBatches(t.Context(), Filter{}, 10*time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("RunBatches: %v", err)
	}
	if n != 3 {
		t.Errorf("dispatched %d, want 3", n)
	}
	want := []dispatch{
		{batch: "rivers:nightly", delay: 10 * time.Second},
		{batch: "roads:nightly", delay: 15 * time.Second},
		{batch: "roads:weekly", delay: 20 * time.Second},
	}
	if !reflect.DeepEqual(d.calls, want) {
		t.Errorf("dispatches = %+v, want %+v", d.calls, want)
	}
}

func TestRunBatches_Errors(t *testing.T) {
	svc, st := newTestService(t)
	seedRun(t, st)
	if _, err := svc.RunBatches(t.Context(), Filter{}, 0, 0); err == nil {
		t.Error("RunBatches without dispatcher: expected error")
	}

	boom := errors.New("boom")
	svc, st = newTestService(t, WithDispatcher(&fakeDispatcher{err: boom}))
	seedRun(t, st)
	n, err := svc.RunBatches(t.Context(), Filter{}, 0, 0)
	if !errors.Is(err, boom) || n != 0 {
		t.Errorf("RunBatches = %d, %v; want 0, boom", n, err)
	}
	if _, err := svc.RunBatches(t.Context(), Filter{}, -time.Second, 0); err == nil {
		t.Error("negative delay: expected error")
	}
}

func TestMinimumDuration(t *testing.T) {
	tests := []struct {
		n              int
		start, between time.Duration
		want           time.Duration
	}{
		{n: 0, start: time.Minute, between: time.Second, want: 0},
		{n: 1, start: time.Minute, between: time.Second, want: time.Minute},
		{n: 4, start: time.Minute, between: 10 * time.Second, want: 90 * time.Second},
	}
	for _, tt := range tests {
		if got := MinimumDuration(tt.n, tt.start, tt.between); got != tt.want {
			t.Errorf("MinimumDuration(%d, %v, %v) = %v, want %v", tt.n, tt.start, tt.between, got, tt.want)
		}
	}
}

func TestExportImport(t *testing.T) {
	at := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	src, st := newTestService(t, WithClock(func() time.Time { return at }))
	seedRun(t, st)

	var buf bytes.Buffer
	exported, err := src.Export(t.Context(), &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if exported.Configurations != 3 || exported.Batches != 4 {
		t.Errorf("Export = %+v, want 3 configurations, 4 batches", exported)
	}

	dst, dstStore := newTestService(t)
	imported, err := dst.Import(t.Context(), &buf)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported != exported {
		t.Errorf("Import = %+v, want %+v", imported, exported)
	}
	if got, want := configurationNames(t, dstStore), configurationNames(t, st); !reflect.DeepEqual(got, want) {
		t.Errorf("configurations = %v, want %v", got, want)
	}
	if got, want := batchNames(t, dstStore), batchNames(t, st); !reflect.DeepEqual(got, want) {
		t.Errorf("batches = %v, want %v", got, want)
	}
	cfg, err := dstStore.GetConfiguration(t.Context(), "tpl")
	if err != nil {
		t.Fatalf("GetConfiguration: %v", err)
	}
	if !cfg.Template {
		t.Error("template flag lost in archive")
	}
}

func TestImport_RejectsCorruptArchive(t *testing.T) {
	svc, st := newTestService(t)
	if _, err := svc.Import(t.Context(), strings.NewReader("garbage")); err == nil {
		t.Fatal("expected error")
	}
	if got := configurationNames(t, st); len(got) != 0 {
		t.Errorf("configurations = %v, want none", got)
	}
}
