package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/memtrace/cli/reader"
)

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_file":
		content = m.renderInspectFile()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectFile() string {
	data, ok := m.data.(*reader.FileSummary)
	if !ok {
		return ErrorStyle.Render("Invalid data type for inspect_file")
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Export File"))
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render(label+":"),
			ValueStyle.Render(value)))
	}
	row("Path", data.Path)
	row("Format version", fmt.Sprintf("%d", data.FormatVersion))
	row("Compression", data.CompressionFormat)
	row("Created", data.CreatedAt.Format("2006-01-02 15:04:05"))
	row("Allocations", fmt.Sprintf("%d", data.AllocationCount))
	row("Tracked bytes", fmt.Sprintf("%d", data.TotalMemoryBytes))
	row("Chunks", fmt.Sprintf("%d", data.Chunks))
	row("Indexed", fmt.Sprintf("%v", data.Indexed))
	row("Interned strings", fmt.Sprintf("%d", data.InternedStrings))
	row("Task profiles", fmt.Sprintf("%d", data.TaskProfiles))

	return BoxStyle.Render(b.String())
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for
// fallback and tests).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
