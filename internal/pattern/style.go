package pattern

import (
	"sync"

	"github.com/dalog/dalog/internal/security"
)

// Attrs are the display attributes a style rule applies to matched spans.
// Colors are lipgloss-compatible strings (ANSI index, hex, or name).
type Attrs struct {
	Foreground string
	Background string
	Bold       bool
	Underline  bool
	Italic     bool
}

// StyleRule highlights every match of its pattern.
type StyleRule struct {
	Name    string
	Pattern string
	Attrs   Attrs

	compiled *security.SafePattern
}

// Span is a styled byte range of a line.
type Span struct {
	Start int
	End   int
	Attrs Attrs
}

// StyleSet is an ordered set of style rules. Declaration order matters:
// when spans overlap, the later-declared rule wins. Safe for concurrent use.
type StyleSet struct {
	mu    sync.RWMutex
	rules []StyleRule
}

// NewStyleSet returns an empty set.
func NewStyleSet() *StyleSet {
	return &StyleSet{}
}

// Add registers a style rule. A rule with the same name replaces the
// existing one in place, keeping its declaration order.
func (s *StyleSet) Add(name, pattern string, attrs Attrs) error {
	compiled, err := security.CompileSafe(pattern, true)
	if err != nil {
		return err
	}
	rule := StyleRule{Name: name, Pattern: pattern, Attrs: attrs, compiled: compiled}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].Name == name {
			s.rules[i] = rule
			return nil
		}
	}
	s.rules = append(s.rules, rule)
	return nil
}

// Remove deletes the named rule.
func (s *StyleSet) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rule := range s.rules {
		if rule.Name == name {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return
		}
	}
}

// Names returns rule names in declaration order.
func (s *StyleSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.rules))
	for i, rule := range s.rules {
		out[i] = rule.Name
	}
	return out
}

// Len returns the number of registered rules.
func (s *StyleSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Spans evaluates every rule against line and returns the styled spans in
// left-to-right order. Overlaps resolve to the last-declared rule per byte.
// A rule whose budget is exhausted simply contributes no spans.
func (s *StyleSet) Spans(line string) []Span {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.rules) == 0 || line == "" {
		return nil
	}

	// owner[i] is the index of the rule styling byte i, -1 for none.
	// Filling in declaration order makes later rules overwrite earlier
	// ones, which is exactly the override semantics we want.
	owner := make([]int, len(line))
	for i := range owner {
		owner[i] = -1
	}
	any := false
	for ri := range s.rules {
		for _, match := range s.rules[ri].compiled.FindAllStringIndex(line) {
			for b := match[0]; b < match[1] && b < len(owner); b++ {
				owner[b] = ri
			}
			any = true
		}
	}
	if !any {
		return nil
	}

	var spans []Span
	start := 0
	for i := 1; i <= len(owner); i++ {
		if i == len(owner) || owner[i] != owner[start] {
			if owner[start] >= 0 {
				spans = append(spans, Span{
					Start: start,
					End:   i,
					Attrs: s.rules[owner[start]].Attrs,
				})
			}
			start = i
		}
	}
	return spans
}
