package engine

import (
	"strings"
	"sync"

	"github.com/dalog/dalog/internal/pattern"
	"github.com/dalog/dalog/internal/source"
)

// ProcessedLine is a log line after the pattern stage: exclusions already
// applied upstream, style spans computed.
type ProcessedLine struct {
	source.LogLine
	Spans []pattern.Span
}

// LineProvider is the read surface the viewer renders from.
type LineProvider interface {
	Count() int
	Line(i int) (ProcessedLine, bool)
}

// processFunc maps a raw line to its processed form; ok=false means the
// line is excluded.
type processFunc func(source.LogLine) (ProcessedLine, bool)

// Buffer holds the lines read so far. Raw lines are retained up to a cap so
// exclusion or style rule changes can reprocess content already on screen;
// the visible slice is what the provider exposes.
type Buffer struct {
	mu      sync.RWMutex
	raw     []source.LogLine
	visible []ProcessedLine
	max     int
}

// NewBuffer creates a buffer retaining at most max raw lines. max <= 0
// means unbounded.
func NewBuffer(max int) *Buffer {
	return &Buffer{max: max}
}

// Append stores lines and returns the ones that survived processing, in
// order. Oldest lines are dropped once the cap is exceeded.
func (b *Buffer) Append(lines []source.LogLine, process processFunc) []ProcessedLine {
	b.mu.Lock()
	defer b.mu.Unlock()

	var added []ProcessedLine
	for _, ln := range lines {
		b.raw = append(b.raw, ln)
		if pl, ok := process(ln); ok {
			b.visible = append(b.visible, pl)
			added = append(added, pl)
		}
	}
	b.trimLocked()
	return added
}

// Reset drops everything, for truncation restarts.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raw = nil
	b.visible = nil
}

// Rebuild reprocesses all retained raw lines, e.g. after a rule change.
func (b *Buffer) Rebuild(process processFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.visible = b.visible[:0]
	for _, ln := range b.raw {
		if pl, ok := process(ln); ok {
			b.visible = append(b.visible, pl)
		}
	}
}

func (b *Buffer) trimLocked() {
	if b.max <= 0 || len(b.raw) <= b.max {
		return
	}
	drop := len(b.raw) - b.max
	oldest := b.raw[drop].Number
	b.raw = append(b.raw[:0:0], b.raw[drop:]...)

	cut := 0
	for cut < len(b.visible) && b.visible[cut].Number < oldest {
		cut++
	}
	b.visible = append(b.visible[:0:0], b.visible[cut:]...)
}

// Count reports the number of visible lines.
func (b *Buffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.visible)
}

// Line returns the i-th visible line.
func (b *Buffer) Line(i int) (ProcessedLine, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= len(b.visible) {
		return ProcessedLine{}, false
	}
	return b.visible[i], true
}

// Visible returns a snapshot copy of the visible lines.
func (b *Buffer) Visible() []ProcessedLine {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ProcessedLine, len(b.visible))
	copy(out, b.visible)
	return out
}

// Search finds the next visible line at or after index from whose content
// contains term. It returns -1 when nothing matches.
func (b *Buffer) Search(term string, from int, caseSensitive bool) int {
	if term == "" {
		return -1
	}
	needle := term
	if !caseSensitive {
		needle = strings.ToLower(term)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if from < 0 {
		from = 0
	}
	for i := from; i < len(b.visible); i++ {
		content := b.visible[i].Content
		if !caseSensitive {
			content = strings.ToLower(content)
		}
		if strings.Contains(content, needle) {
			return i
		}
	}
	return -1
}
