package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/taskmanager/cli/reader"
)

const timeLayout = "2006-01-02 15:04:05Z07:00"

// detail accumulates a labelled detail view.
type detail struct {
	b strings.Builder
}

func (d *detail) title(s string) {
	if d.b.Len() > 0 {
		d.b.WriteString("\n")
	}
	d.b.WriteString(TitleStyle.Render(s))
	d.b.WriteString("\n\n")
}

func (d *detail) field(label, value string, style lipgloss.Style) {
	fmt.Fprintf(&d.b, "%s %s\n", LabelStyle.Render(label), style.Render(value))
}

// optional writes the field only when value is set.
func (d *detail) optional(label, value string) {
	if value != "" {
		d.field(label, value, ValueStyle)
	}
}

func (d *detail) line(s string) {
	d.b.WriteString(s)
	d.b.WriteString("\n")
}

func (d *detail) String() string {
	return PanelStyle.Render(strings.TrimRight(d.b.String(), "\n"))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

func viewBatchRun(data any) (string, bool) {
	v, ok := data.(*reader.BatchRunView)
	if !ok {
		return "", false
	}
	var d detail
	d.title("Batch Run " + v.BatchRunID)
	d.field("Batch", v.Batch, ValueStyle)
	d.field("Attempt", strconv.Itoa(v.Attempt), ValueStyle)
	d.field("Status", string(v.Status), StatusStyle(v.Status))
	d.field("Started", formatTime(v.StartedAt), ValueStyle)
	d.field("Ended", formatTime(v.EndedAt), ValueStyle)
	d.optional("Message", v.Message)
	if v.NeedsIntervention {
		d.line(AlertStyle.Render("A commit or rollback failed: operator intervention required"))
	}

	if len(v.Runs) > 0 {
		d.title("Runs")
		for _, r := range v.Runs {
			d.line(fmt.Sprintf("%3d  %-32s %s", r.Index, r.Task, StatusStyle(r.Status).Render(string(r.Status))))
			if r.Message != "" {
				d.line("     " + HelpStyle.Render(r.Message))
			}
		}
	}
	if len(v.History) > 0 {
		d.line("")
		d.line(HelpStyle.Render(fmt.Sprintf("%d runs recorded over %d attempts", len(v.History), v.Attempt)))
	}
	return d.String(), true
}

func viewBatch(data any) (string, bool) {
	v, ok := data.(*reader.BatchView)
	if !ok {
		return "", false
	}
	var d detail
	d.title("Batch " + v.Name)
	d.optional("Workspace", v.Workspace)
	d.optional("Configuration", v.Configuration)
	d.optional("Description", v.Description)
	frequency := v.Frequency
	if frequency == "" {
		frequency = "manual"
	}
	d.field("Frequency", frequency, ValueStyle)
	d.field("Enabled", strconv.FormatBool(v.Enabled), EnabledStyle(v.Enabled))

	if len(v.Elements) > 0 {
		d.title("Tasks")
		for _, el := range v.Elements {
			typ := ValueStyle.Render(el.TaskType)
			if el.TaskType == "" {
				typ = AlertStyle.Render("missing task")
			}
			d.line(fmt.Sprintf("%3d  %-32s %s", el.Index, el.Task, typ))
		}
	}
	return d.String(), true
}
