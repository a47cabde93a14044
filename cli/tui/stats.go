package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/taskmanager/cli/reader"
)

// counter is one boxed number of a stats view.
type counter struct {
	label string
	value int64
	color lipgloss.TerminalColor
}

func (c counter) render() string {
	value := lipgloss.NewStyle().Bold(true).Foreground(c.color).Render(fmt.Sprintf("%d", c.value))
	label := HelpStyle.Render(c.label)
	return CounterStyle.BorderForeground(c.color).Render(lipgloss.JoinVertical(lipgloss.Center, value, label))
}

func counterRow(cs ...counter) string {
	boxes := make([]string, 0, len(cs))
	for _, c := range cs {
		boxes = append(boxes, c.render())
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func viewBatchRunStats(data any) (string, bool) {
	v, ok := data.(*reader.BatchRunStats)
	if !ok {
		return "", false
	}
	title := "Batch Runs"
	if v.Batch != "" {
		title += " of " + v.Batch
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n\n")
	b.WriteString(counterRow(
		counter{"total", int64(v.Total), accentColor},
		counter{"running", int64(v.Running), pendingColor},
		counter{"committed", int64(v.Committed), okColor},
		counter{"failed", int64(v.Failed), badColor},
	))
	if v.NeedsIntervention > 0 {
		b.WriteString("\n")
		b.WriteString(AlertStyle.Render(fmt.Sprintf("%d batch runs need operator intervention", v.NeedsIntervention)))
	}
	return b.String(), true
}

func viewMetrics(data any) (string, bool) {
	v, ok := data.(*reader.MetricsSnapshot)
	if !ok {
		return "", false
	}

	var d detail
	d.title("Engine Metrics")
	d.field("Recorded", v.Ts, ValueStyle)
	d.field("Batch Run", v.BatchRunID, ValueStyle)
	d.optional("Batch", v.Batch)
	d.field("Storage", v.StorageBackend, ValueStyle)
	d.optional("Adapter", v.Adapter)

	var b strings.Builder
	b.WriteString(d.String())
	b.WriteString("\n")
	b.WriteString(counterRow(
		counter{"batch runs", v.BatchRunsStarted, accentColor},
		counter{"committed", v.BatchRunsCommitted, okColor},
		counter{"rolled back", v.BatchRunsRolledBack, pendingColor},
		counter{"invalid", v.ValidationFailures, pendingColor},
	))
	b.WriteString("\n")
	b.WriteString(counterRow(
		counter{"task runs", v.TaskRuns, accentColor},
		counter{"run failures", v.TaskRunFailures, badColor},
		counter{"commit failures", v.TaskCommitFailures, badColor},
		counter{"rollback failures", v.TaskRollbackFailures, badColor},
	))
	if v.JournalWriteFailure > 0 {
		b.WriteString("\n")
		b.WriteString(AlertStyle.Render(fmt.Sprintf("%d journal writes failed", v.JournalWriteFailure)))
	}
	return b.String(), true
}
