package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dalog/dalog/internal/engine"
	"github.com/dalog/dalog/internal/render"
	"github.com/dalog/dalog/internal/view"
)

// Mode represents the current UI mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
	ModeExclude
)

// updateMsg carries one engine refresh result into the tea loop
type updateMsg struct {
	res engine.RefreshResult
}

// Model is the main application model
type Model struct {
	eng      *engine.Engine
	handle   *engine.Handle
	viewport *view.Viewport
	input    textinput.Model

	mode   Mode
	width  int
	height int

	// Search state
	searchTerm  string
	searchIndex int // current visible index, -1 when no match

	// Status
	title  string
	notice string
	err    error
}

// NewModel creates a model over an already opened handle
func NewModel(eng *engine.Engine, handle *engine.Handle, renderer render.Renderer, showLineNumbers bool) *Model {
	viewport := view.NewViewport(80, 24)
	viewport.SetProvider(handle.Provider())
	viewport.SetRenderer(renderer)
	viewport.SetShowLineNumbers(showLineNumbers)
	viewport.Refresh()

	ti := textinput.New()
	ti.Placeholder = "Search..."
	ti.CharLimit = 256

	return &Model{
		eng:         eng,
		handle:      handle,
		viewport:    viewport,
		input:       ti,
		mode:        ModeNormal,
		title:       handle.Descriptor().String(),
		searchIndex: -1,
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return m.waitUpdate()
}

// waitUpdate blocks on the handle's update channel; each delivery feeds
// the next wait back into the loop
func (m *Model) waitUpdate() tea.Cmd {
	return func() tea.Msg {
		return updateMsg{res: <-m.handle.Updates()}
	}
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Reserve 2 lines for status bar and help
		m.viewport.SetSize(msg.Width, msg.Height-2)
		m.viewport.Refresh()
		return m, nil

	case updateMsg:
		if msg.res.Notice != nil {
			m.notice = msg.res.Notice.String()
		}
		if msg.res.Truncated {
			m.viewport.ClearHighlight()
			m.searchIndex = -1
		}
		m.viewport.Refresh()
		return m, m.waitUpdate()
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode == ModeSearch || m.mode == ModeExclude {
		return m.handlePromptKey(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "j", "down":
		m.viewport.ScrollDown(1)
	case "k", "up":
		m.viewport.ScrollUp(1)

	case "d", "ctrl+d":
		m.viewport.PageDown()
	case "u", "ctrl+u":
		m.viewport.PageUp()

	case "f", "pgdown", " ":
		m.viewport.PageDown()
	case "b", "pgup":
		m.viewport.PageUp()

	case "g", "home":
		m.viewport.GotoTop()
	case "G", "end":
		m.viewport.GotoBottom()

	case "/":
		m.mode = ModeSearch
		m.input.SetValue("")
		m.input.Placeholder = "Search..."
		m.input.Focus()
		return m, textinput.Blink

	case "e":
		m.mode = ModeExclude
		m.input.SetValue("")
		m.input.Placeholder = "Exclude (re: prefix for regex)..."
		m.input.Focus()
		return m, textinput.Blink

	case "n":
		m.nextSearchResult()
	case "N":
		m.prevSearchResult()

	case "esc":
		m.notice = ""
		m.viewport.ClearHighlight()
	}

	return m, nil
}

func (m *Model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		value := m.input.Value()
		if m.mode == ModeSearch {
			m.searchTerm = value
			m.searchIndex = -1
			m.nextSearchResult()
		} else if value != "" {
			m.addExclusion(value)
		}
		m.mode = ModeNormal
		m.input.Blur()
		return m, nil

	case "esc":
		m.mode = ModeNormal
		m.input.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// addExclusion registers a live exclusion rule; a "re:" prefix switches
// from literal to regex matching
func (m *Model) addExclusion(value string) {
	pat, isRegex := strings.CutPrefix(value, "re:")
	if err := m.eng.AddExclusion(pat, isRegex, false); err != nil {
		m.notice = fmt.Sprintf("exclusion rejected: %v", err)
		return
	}
	m.notice = fmt.Sprintf("excluding %q", pat)
}

func (m *Model) nextSearchResult() {
	if m.searchTerm == "" {
		return
	}
	hit := m.handle.Search(m.searchTerm, m.searchIndex+1)
	if hit < 0 && m.searchIndex >= 0 {
		// Wrap to the top.
		hit = m.handle.Search(m.searchTerm, 0)
	}
	m.jumpTo(hit)
}

func (m *Model) prevSearchResult() {
	if m.searchTerm == "" || m.searchIndex <= 0 {
		return
	}
	// Walk from the top to the last hit before the current one.
	prev := -1
	for i := m.handle.Search(m.searchTerm, 0); i >= 0 && i < m.searchIndex; i = m.handle.Search(m.searchTerm, i+1) {
		prev = i
	}
	m.jumpTo(prev)
}

func (m *Model) jumpTo(index int) {
	if index < 0 {
		m.notice = fmt.Sprintf("no match for %q", m.searchTerm)
		return
	}
	m.searchIndex = index
	m.viewport.SetHighlightedLine(index)
	m.viewport.GotoLine(index)
	m.notice = ""
}

// View implements tea.Model
func (m *Model) View() string {
	var builder strings.Builder

	builder.WriteString(m.viewport.Render())
	builder.WriteString("\n")

	statusStyle := lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("252")).
		Width(m.width)

	var status string
	switch m.mode {
	case ModeSearch:
		status = "/" + m.input.View()
	case ModeExclude:
		status = "!" + m.input.View()
	default:
		count := m.handle.Provider().Count()
		lineInfo := fmt.Sprintf("L%d/%d", m.viewport.CurrentLine()+1, count)
		percent := fmt.Sprintf("%.0f%%", m.viewport.PercentScrolled())

		follow := ""
		if m.viewport.Following() {
			follow = " [follow]"
		}
		noticeInfo := ""
		if m.notice != "" {
			noticeInfo = "  " + m.notice
		}

		status = fmt.Sprintf(" %s  %s  %s%s%s",
			m.title, lineInfo, percent, follow, noticeInfo)
	}

	builder.WriteString(statusStyle.Render(status))
	builder.WriteString("\n")

	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	help := "j/k:scroll  f/b:page  g/G:top/bottom  /:search  n/N:next/prev  e:exclude  q:quit"
	builder.WriteString(helpStyle.Render(help))

	return builder.String()
}

// Close releases the handle
func (m *Model) Close() {
	m.eng.Close(m.handle)
}
