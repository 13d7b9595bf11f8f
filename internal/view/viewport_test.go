package view

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalog/dalog/internal/engine"
	"github.com/dalog/dalog/internal/source"
)

type sliceProvider []engine.ProcessedLine

func (p sliceProvider) Count() int { return len(p) }

func (p sliceProvider) Line(i int) (engine.ProcessedLine, bool) {
	if i < 0 || i >= len(p) {
		return engine.ProcessedLine{}, false
	}
	return p[i], true
}

func provider(contents ...string) sliceProvider {
	p := make(sliceProvider, len(contents))
	for i, c := range contents {
		p[i] = engine.ProcessedLine{LogLine: source.LogLine{Content: c, Number: i + 1}}
	}
	return p
}

func TestViewportFollowsBottomOnRefresh(t *testing.T) {
	v := NewViewport(40, 2)
	v.SetProvider(provider("a", "b", "c", "d"))
	v.Refresh()

	assert.True(t, v.Following())
	assert.Equal(t, 2, v.CurrentLine())
}

func TestViewportScrollUpUnpinsFollow(t *testing.T) {
	v := NewViewport(40, 2)
	v.SetProvider(provider("a", "b", "c", "d"))
	v.Refresh()

	v.ScrollUp(1)
	assert.False(t, v.Following())
	top := v.CurrentLine()

	// New content must not yank the view while unpinned.
	v.Refresh()
	assert.Equal(t, top, v.CurrentLine())

	v.GotoBottom()
	assert.True(t, v.Following())
}

func TestViewportRenderShowsOrdinalsWithGaps(t *testing.T) {
	v := NewViewport(40, 3)
	p := sliceProvider{
		{LogLine: source.LogLine{Content: "first", Number: 1}},
		// Line 2 was excluded upstream.
		{LogLine: source.LogLine{Content: "third", Number: 3}},
	}
	v.SetProvider(p)

	out := v.Render()
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "1")
	assert.Contains(t, lines[0], "first")
	assert.Contains(t, lines[1], "3")
	assert.Contains(t, lines[1], "third")
	assert.Equal(t, "~", lines[2])
}

func TestViewportClampsScroll(t *testing.T) {
	v := NewViewport(40, 5)
	v.SetProvider(provider("a", "b"))

	v.GotoLine(100)
	assert.Equal(t, 0, v.CurrentLine())
	v.ScrollUp(10)
	assert.Equal(t, 0, v.CurrentLine())
}

func TestViewportPercentScrolled(t *testing.T) {
	v := NewViewport(40, 2)
	v.SetProvider(provider("a", "b", "c", "d"))

	v.GotoTop()
	assert.Equal(t, 0.0, v.PercentScrolled())
	v.GotoBottom()
	assert.Equal(t, 100.0, v.PercentScrolled())
}
