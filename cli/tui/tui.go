package tui

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// viewFunc renders one payload to a string. It reports false when the
// payload has the wrong type for the view.
type viewFunc func(data any) (string, bool)

var views = map[string]viewFunc{
	"inspect_batch_run": viewBatchRun,
	"inspect_batch":     viewBatch,
	"stats_batch_runs":  viewBatchRunStats,
	"stats_metrics":     viewMetrics,
}

var quitKey = key.NewBinding(
	key.WithKeys("q", "esc", "ctrl+c"),
	key.WithHelp("q", "quit"),
)

// Run shows the view until the user quits.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	_, err := tea.NewProgram(newModel(viewType, data), tea.WithAltScreen()).Run()
	return err
}

// RenderStatic renders the view once without starting a program.
func RenderStatic(viewType string, data any) string {
	return lipgloss.NewStyle().Padding(1, 2).Render(newModel(viewType, data).View())
}

// IsTUISupported reports whether viewType has a TUI view.
func IsTUISupported(viewType string) bool {
	_, ok := views[viewType]
	return ok
}

// SupportedTUIViews lists the view types with a TUI view in name order.
func SupportedTUIViews() []string {
	out := make([]string, 0, len(views))
	for name := range views {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// model is the read-only Bubble Tea model shared by every view. The body is
// rendered once since payloads never change while the program runs.
type model struct {
	body     string
	quitting bool
}

func newModel(viewType string, data any) model {
	fn, ok := views[viewType]
	if !ok {
		return model{body: fmt.Sprintf("Unknown view type: %s", viewType)}
	}
	body, ok := fn(data)
	if !ok {
		body = fmt.Sprintf("Invalid data type %T for %s", data, viewType)
	}
	return model{body: body}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, quitKey) {
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	return m.body + "\n" + HelpStyle.Render("q to quit")
}
