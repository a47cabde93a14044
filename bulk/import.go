package bulk

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pithecene-io/taskmanager/store"
	"github.com/pithecene-io/taskmanager/types"
	"github.com/pithecene-io/taskmanager/validation"
)

// CSV columns mapped to configuration fields. Every other column sets the
// attribute of the same name.
const (
	ColumnName        = "name"
	ColumnDescription = "description"
	ColumnWorkspace   = "workspace"
)

// RowError reports a rejected import row. Line is 1-based and counts the
// header.
type RowError struct {
	Line int
	Name string
	Err  error
}

func (e *RowError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("line %d (%s): %v", e.Line, e.Name, e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ImportOptions configures ImportConfigurations.
type ImportOptions struct {
	// Template names the template configuration every row is copied from.
	Template string
	// Validate rejects the whole import when any row yields an invalid
	// configuration. Nothing is saved in that case.
	Validate bool
}

// ImportConfigurations creates one configuration per CSV row by copying the
// template. The CSV is ';' separated with a header row. The batches owned by
// the template are copied along with it, renamed with the new configuration
// name and pointed at the copy.
//
// Rows are applied only after every row has been parsed (and validated, if
// requested). The names of the created configurations are returned.
func (s *Service) ImportConfigurations(ctx context.Context, src io.Reader, opts ImportOptions) ([]string, error) {
	tpl, err := s.store.GetConfiguration(ctx, opts.Template)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", opts.Template, err)
	}
	if !tpl.Template {
		return nil, fmt.Errorf("%w: %s", ErrNoTemplate, opts.Template)
	}
	owned, err := s.ownedBatches(ctx, tpl.Name)
	if err != nil {
		return nil, err
	}

	rows, err := readRows(src)
	if err != nil {
		return nil, err
	}

	var (
		cfgs    []*types.Configuration
		batches []*types.Batch
		errs    []error
	)
	seen := make(map[string]bool)
	for _, row := range rows {
		cfg, err := s.configurationFromRow(ctx, tpl, row, seen)
		if err == nil && opts.Validate {
			if verrs := validation.ValidateConfiguration(s.registry, cfg); len(verrs) > 0 {
				err = validation.Errors(verrs)
			}
		}
		if err != nil {
			errs = append(errs, &RowError{Line: row.line, Name: row.values[ColumnName], Err: err})
			continue
		}
		cfgs = append(cfgs, cfg)
		for _, b := range owned {
			batches = append(batches, copyBatch(b, tpl.Name, cfg.Name))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	names := make([]string, 0, len(cfgs))
	for _, cfg := range cfgs {
		if err := s.store.CreateConfiguration(ctx, cfg); err != nil {
			return names, fmt.Errorf("create configuration %s: %w", cfg.Name, err)
		}
		names = append(names, cfg.Name)
	}
	for _, b := range batches {
		if err := s.store.SaveBatch(ctx, b); err != nil {
			return names, fmt.Errorf("save batch %s: %w", b.Name, err)
		}
	}

	s.logger.Info("imported configurations", map[string]any{
		"template":       tpl.Name,
		"configurations": len(names),
		"batches":        len(batches),
	})
	return names, nil
}

func (s *Service) configurationFromRow(ctx context.Context, tpl *types.Configuration, row csvRow, seen map[string]bool) (*types.Configuration, error) {
	name := row.values[ColumnName]
	if name == "" {
		return nil, errors.New("name is empty")
	}
	if seen[name] {
		return nil, fmt.Errorf("duplicate name %s", name)
	}
	seen[name] = true
	if _, err := s.store.GetConfiguration(ctx, name); err == nil {
		return nil, fmt.Errorf("configuration %s: %w", name, store.ErrExists)
	}

	cfg := tpl.Clone(name)
	for col, v := range row.values {
		switch col {
		case ColumnName:
		case ColumnDescription:
			cfg.Description = v
		case ColumnWorkspace:
			cfg.Workspace = v
		default:
			cfg.SetAttribute(col, v)
		}
	}
	return cfg, nil
}

func (s *Service) ownedBatches(ctx context.Context, cfgName string) ([]*types.Batch, error) {
	all, err := s.store.ListBatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	var out []*types.Batch
	for _, b := range all {
		if b.Configuration == cfgName {
			out = append(out, b)
		}
	}
	return out, nil
}

// copyBatch copies a template-owned batch to the configuration cfg.
// Elements referencing the template are redirected to the copy.
func copyBatch(b *types.Batch, template, cfg string) *types.Batch {
	out := b.Clone()
	out.Configuration = cfg
	local := strings.TrimPrefix(b.Name, template+":")
	out.Name = cfg + ":" + local
	for i := range out.Elements {
		if out.Elements[i].Task.Configuration == template {
			out.Elements[i].Task.Configuration = cfg
		}
	}
	return out
}

type csvRow struct {
	line   int
	values map[string]string
}

func readRows(src io.Reader) ([]csvRow, error) {
	r := csv.NewReader(src)
	r.Comma = ';'
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("import file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	hasName := false
	for _, h := range header {
		if h == ColumnName {
			hasName = true
		}
	}
	if !hasName {
		return nil, fmt.Errorf("header has no %q column", ColumnName)
	}

	var rows []csvRow
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		values := make(map[string]string, len(header))
		for i, h := range header {
			values[h] = strings.TrimSpace(record[i])
		}
		rows = append(rows, csvRow{line: line, values: values})
	}
}
