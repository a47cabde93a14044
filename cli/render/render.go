// Package render writes command results as json, yaml or aligned tables.
//
// Without --format, results are tables on a terminal and json otherwise.
// --no-color only affects tables; TUI views keep their own styling.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/taskmanager/cli/tui"
	"github.com/pithecene-io/taskmanager/types"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

var (
	statusType = reflect.TypeOf(types.Status(""))
	timeType   = reflect.TypeOf(time.Time{})
)

// ParseFormat parses a format name. The empty string selects the default.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from CLI context.
// Output goes to the app writer, or stdout when the app has none.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stdout
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}
	if format == "" {
		format = FormatJSON
		if f, ok := out.(*os.File); ok && isTTY(f) {
			format = FormatTable
		}
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), out), nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// RenderTUI shows data in the TUI view named viewType.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return tui.Run(viewType, data)
}

// renderTable writes slices as one row per element and anything else as
// label/value pairs. Slice fields of a struct follow as their own tables.
func (r *Renderer) renderTable(data any) error {
	v := indirect(reflect.ValueOf(data))
	if !v.IsValid() {
		fmt.Fprintln(r.out, "(no results)")
		return nil
	}
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		return r.rowsTable(v)
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	var nested []reflect.Value
	var nestedNames []string
	switch v.Kind() {
	case reflect.Struct:
		for _, f := range visibleFields(v) {
			fv := v.Field(f.index)
			if isRowSlice(fv) {
				nested = append(nested, fv)
				nestedNames = append(nestedNames, f.name)
				continue
			}
			fmt.Fprintf(w, "%s:\t%s\n", f.name, r.cell(fv))
		}
	case reflect.Map:
		for _, k := range sortedKeys(v) {
			fmt.Fprintf(w, "%v:\t%s\n", k.Interface(), r.cell(v.MapIndex(k)))
		}
	default:
		fmt.Fprintf(w, "%v\n", v.Interface())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for i, fv := range nested {
		fmt.Fprintf(r.out, "\n%s:\n", nestedNames[i])
		if err := r.rowsTable(fv); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) rowsTable(v reflect.Value) error {
	if v.Len() == 0 {
		fmt.Fprintln(r.out, "(no results)")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	first := indirect(v.Index(0))
	if first.Kind() != reflect.Struct {
		for i := 0; i < v.Len(); i++ {
			fmt.Fprintln(w, r.cell(v.Index(i)))
		}
		return w.Flush()
	}

	fields := typeFields(first.Type())
	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = strings.ToUpper(f.name)
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for i := 0; i < v.Len(); i++ {
		row := indirect(v.Index(i))
		cells := make([]string, len(fields))
		for j, f := range fields {
			if row.IsValid() {
				cells[j] = r.cell(row.Field(f.index))
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	return w.Flush()
}

// cell formats one value for a table cell.
func (r *Renderer) cell(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return "-"
	}
	switch {
	case v.Type() == timeType:
		return v.Interface().(time.Time).UTC().Format(time.RFC3339)
	case v.Type() == statusType:
		s := v.Interface().(types.Status)
		if r.noColor {
			return string(s)
		}
		return tui.StatusStyle(s).Render(string(s))
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "-"
		}
		if v.Type().Elem().Kind() == reflect.String {
			parts := make([]string, v.Len())
			for i := range parts {
				parts[i] = v.Index(i).String()
			}
			return strings.Join(parts, ",")
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

type tableField struct {
	name      string
	index     int
	omitEmpty bool
}

// typeFields lists the exported fields of t named by their json tags.
func typeFields(t reflect.Type) []tableField {
	var out []tableField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		out = append(out, tableField{name: name, index: i, omitEmpty: strings.Contains(opts, "omitempty")})
	}
	return out
}

// visibleFields is typeFields without empty omitempty fields of v.
func visibleFields(v reflect.Value) []tableField {
	all := typeFields(v.Type())
	out := all[:0]
	for _, f := range all {
		if f.omitEmpty && v.Field(f.index).IsZero() {
			continue
		}
		out = append(out, f)
	}
	return out
}

// isRowSlice reports whether v is a non-empty slice of structs.
func isRowSlice(v reflect.Value) bool {
	if v.Kind() != reflect.Slice || v.Len() == 0 {
		return false
	}
	elem := v.Type().Elem()
	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	return elem.Kind() == reflect.Struct && elem != timeType
}

func sortedKeys(v reflect.Value) []reflect.Value {
	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	return keys
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// isTTY returns true if the writer is a TTY.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
