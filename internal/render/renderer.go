package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dalog/dalog/internal/engine"
	"github.com/dalog/dalog/internal/pattern"
)

// Renderer turns a processed line into styled terminal output
type Renderer interface {
	Render(line engine.ProcessedLine) string
}

// SpanRenderer applies the line's style spans with lipgloss. Bytes outside
// any span pass through unstyled
type SpanRenderer struct {
	cache map[pattern.Attrs]lipgloss.Style
}

// NewSpanRenderer creates a span renderer
func NewSpanRenderer() *SpanRenderer {
	return &SpanRenderer{cache: make(map[pattern.Attrs]lipgloss.Style)}
}

// Render applies span styling to a line
func (r *SpanRenderer) Render(line engine.ProcessedLine) string {
	content := line.Content
	if len(line.Spans) == 0 {
		return content
	}

	var b strings.Builder
	pos := 0
	for _, span := range line.Spans {
		if span.Start > pos {
			b.WriteString(content[pos:span.Start])
		}
		b.WriteString(r.style(span.Attrs).Render(content[span.Start:span.End]))
		pos = span.End
	}
	if pos < len(content) {
		b.WriteString(content[pos:])
	}
	return b.String()
}

func (r *SpanRenderer) style(attrs pattern.Attrs) lipgloss.Style {
	if s, ok := r.cache[attrs]; ok {
		return s
	}
	s := lipgloss.NewStyle()
	if attrs.Foreground != "" {
		s = s.Foreground(lipgloss.Color(attrs.Foreground))
	}
	if attrs.Background != "" {
		s = s.Background(lipgloss.Color(attrs.Background))
	}
	if attrs.Bold {
		s = s.Bold(true)
	}
	if attrs.Underline {
		s = s.Underline(true)
	}
	if attrs.Italic {
		s = s.Italic(true)
	}
	r.cache[attrs] = s
	return s
}

// PlainRenderer renders without styling
type PlainRenderer struct{}

// NewPlainRenderer creates a plain renderer
func NewPlainRenderer() *PlainRenderer {
	return &PlainRenderer{}
}

// Render returns the line content as-is
func (r *PlainRenderer) Render(line engine.ProcessedLine) string {
	return line.Content
}
