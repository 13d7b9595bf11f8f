package view

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dalog/dalog/internal/engine"
	"github.com/dalog/dalog/internal/render"
)

// Viewport manages the visible portion of content.
// It knows nothing about sources, watchers, or filters; it only displays
// lines from a LineProvider
type Viewport struct {
	provider engine.LineProvider
	renderer render.Renderer

	// Dimensions
	width  int
	height int

	// Scroll position
	scrollOffset int

	// Follow keeps the view pinned to the newest lines until the user
	// scrolls up
	follow bool

	// Styling
	lineNumberStyle lipgloss.Style
	highlightStyle  lipgloss.Style

	// Options
	showLineNumbers bool

	// Highlighted line (visible index, -1 for none)
	highlightedLine int
}

// NewViewport creates a new viewport
func NewViewport(width, height int) *Viewport {
	return &Viewport{
		width:           width,
		height:          height,
		follow:          true,
		showLineNumbers: true,
		lineNumberStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		highlightStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true),
		renderer:        render.NewPlainRenderer(),
		highlightedLine: -1,
	}
}

// SetHighlightedLine marks a visible line index (-1 for none)
func (v *Viewport) SetHighlightedLine(index int) {
	v.highlightedLine = index
}

// ClearHighlight removes any line highlight
func (v *Viewport) ClearHighlight() {
	v.highlightedLine = -1
}

// SetRenderer sets the line renderer
func (v *Viewport) SetRenderer(r render.Renderer) {
	v.renderer = r
}

// SetProvider sets the line provider
func (v *Viewport) SetProvider(provider engine.LineProvider) {
	v.provider = provider
	v.scrollOffset = 0
	v.follow = true
}

// SetSize updates viewport dimensions
func (v *Viewport) SetSize(width, height int) {
	v.width = width
	v.height = height
	v.clampScroll()
}

// Following reports whether the view is pinned to the newest lines
func (v *Viewport) Following() bool {
	return v.follow
}

// Refresh re-clamps after the provider changed underneath; in follow mode
// the view jumps to the newest lines
func (v *Viewport) Refresh() {
	if v.follow {
		v.GotoBottom()
		return
	}
	v.clampScroll()
}

// ScrollDown scrolls down by n lines
func (v *Viewport) ScrollDown(n int) {
	v.scrollOffset += n
	v.clampScroll()
	v.follow = v.atBottom()
}

// ScrollUp scrolls up by n lines and unpins follow mode
func (v *Viewport) ScrollUp(n int) {
	v.scrollOffset -= n
	v.clampScroll()
	v.follow = false
}

// PageDown scrolls down by one page
func (v *Viewport) PageDown() {
	v.ScrollDown(v.height - 1)
}

// PageUp scrolls up by one page
func (v *Viewport) PageUp() {
	v.ScrollUp(v.height - 1)
}

// GotoTop scrolls to the beginning
func (v *Viewport) GotoTop() {
	v.scrollOffset = 0
	v.follow = false
}

// GotoBottom scrolls to the end and re-pins follow mode
func (v *Viewport) GotoBottom() {
	if v.provider == nil {
		return
	}
	v.scrollOffset = v.provider.Count() - v.height
	v.clampScroll()
	v.follow = true
}

// GotoLine scrolls so the given visible index is at the top
func (v *Viewport) GotoLine(line int) {
	v.scrollOffset = line
	v.clampScroll()
	v.follow = v.atBottom()
}

// CurrentLine returns the current top visible index
func (v *Viewport) CurrentLine() int {
	return v.scrollOffset
}

func (v *Viewport) atBottom() bool {
	if v.provider == nil {
		return true
	}
	return v.scrollOffset >= v.provider.Count()-v.height
}

// clampScroll ensures scroll offset is within valid bounds
func (v *Viewport) clampScroll() {
	if v.provider == nil {
		v.scrollOffset = 0
		return
	}

	maxScroll := v.provider.Count() - v.height
	if maxScroll < 0 {
		maxScroll = 0
	}

	if v.scrollOffset > maxScroll {
		v.scrollOffset = maxScroll
	}
	if v.scrollOffset < 0 {
		v.scrollOffset = 0
	}
}

// Render returns the viewport content as a string
func (v *Viewport) Render() string {
	if v.provider == nil {
		return ""
	}

	count := v.provider.Count()
	lineNumWidth := len(fmt.Sprintf("%d", maxInt(count, 1)))

	var builder strings.Builder
	rows := 0
	for i := v.scrollOffset; i < count && rows < v.height; i++ {
		line, ok := v.provider.Line(i)
		if !ok {
			break
		}
		if rows > 0 {
			builder.WriteString("\n")
		}

		if v.showLineNumbers {
			// Source ordinals, not visible positions, so excluded
			// lines leave visible gaps.
			numStr := fmt.Sprintf("%*d ", lineNumWidth, line.Number)
			if i == v.highlightedLine {
				builder.WriteString(v.highlightStyle.Render(numStr))
			} else {
				builder.WriteString(v.lineNumberStyle.Render(numStr))
			}
		}

		builder.WriteString(v.renderer.Render(line))
		rows++
	}

	// Pad with empty lines if needed
	for ; rows < v.height; rows++ {
		if rows > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("~")
	}

	return builder.String()
}

// PercentScrolled returns how far through the content the view is
func (v *Viewport) PercentScrolled() float64 {
	if v.provider == nil || v.provider.Count() == 0 {
		return 0
	}

	total := v.provider.Count()
	if total <= v.height {
		return 100
	}

	return float64(v.scrollOffset) / float64(total-v.height) * 100
}

// SetShowLineNumbers toggles line numbers
func (v *Viewport) SetShowLineNumbers(show bool) {
	v.showLineNumbers = show
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
