// Package tui provides Bubble Tea views for the taskmanager CLI.
//
// Views are opt-in (--tui), read-only and render the same payloads as the
// json, table and yaml formats.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/taskmanager/types"
)

var (
	accentColor  = lipgloss.Color("#2563EB")
	okColor      = lipgloss.Color("#16A34A")
	pendingColor = lipgloss.Color("#D97706")
	badColor     = lipgloss.Color("#DC2626")
	dimColor     = lipgloss.Color("#64748B")
	textColor    = lipgloss.AdaptiveColor{Light: "#0F172A", Dark: "#F8FAFC"}
)

var (
	// TitleStyle renders section headings.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor)

	// LabelStyle renders the fixed-width label column of detail views.
	LabelStyle = lipgloss.NewStyle().Foreground(dimColor).Width(16)

	// ValueStyle renders plain values.
	ValueStyle = lipgloss.NewStyle().Foreground(textColor)

	// AlertStyle flags batch runs that need operator intervention.
	AlertStyle = lipgloss.NewStyle().Bold(true).Foreground(badColor)

	// HelpStyle renders key hints and footnotes.
	HelpStyle = lipgloss.NewStyle().Foreground(dimColor)

	// PanelStyle frames a detail view.
	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dimColor).
			Padding(1, 2)

	// CounterStyle frames one counter of a stats view.
	CounterStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2).
			Width(18).
			Align(lipgloss.Center)
)

// statusColors groups run statuses by how an operator should read them.
var statusColors = map[types.Status]lipgloss.TerminalColor{
	types.StatusCommitted:     okColor,
	types.StatusPending:       pendingColor,
	types.StatusRunning:       pendingColor,
	types.StatusCommittable:   pendingColor,
	types.StatusRolledBack:    pendingColor,
	types.StatusFailed:        badColor,
	types.StatusNotCommitted:  badColor,
	types.StatusNotRolledBack: badColor,
}

// StatusStyle returns the style of a run status. Unknown statuses render
// as plain values.
func StatusStyle(s types.Status) lipgloss.Style {
	if c, ok := statusColors[s]; ok {
		return lipgloss.NewStyle().Foreground(c)
	}
	return ValueStyle
}

// EnabledStyle returns the style of a batch enabled flag.
func EnabledStyle(enabled bool) lipgloss.Style {
	if enabled {
		return lipgloss.NewStyle().Foreground(okColor)
	}
	return lipgloss.NewStyle().Foreground(pendingColor)
}
