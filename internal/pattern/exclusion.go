package pattern

import (
	"strings"
	"sync"

	"github.com/dalog/dalog/internal/security"
)

// ExclusionRule drops matching lines from view. Literal rules use plain
// substring search, regex rules go through the safe compiler.
type ExclusionRule struct {
	Pattern       string
	IsRegex       bool
	CaseSensitive bool

	compiled *security.SafePattern // nil for literal rules
	folded   string                // lowercased literal for insensitive search
}

func (r *ExclusionRule) matches(line string) bool {
	if r.IsRegex {
		return r.compiled.MatchString(line)
	}
	if r.CaseSensitive {
		return strings.Contains(line, r.Pattern)
	}
	return strings.Contains(strings.ToLower(line), r.folded)
}

// ExclusionSet is an ordered set of exclusion rules. Matching is
// order-independent: a line matching any rule is excluded. Safe for
// concurrent use.
type ExclusionSet struct {
	mu    sync.RWMutex
	rules []ExclusionRule
}

// NewExclusionSet returns an empty set.
func NewExclusionSet() *ExclusionSet {
	return &ExclusionSet{}
}

// Add registers an exclusion rule. Regex patterns are screened and compiled
// by the security validator; a duplicate pattern is ignored.
func (s *ExclusionSet) Add(pattern string, isRegex, caseSensitive bool) error {
	rule := ExclusionRule{
		Pattern:       pattern,
		IsRegex:       isRegex,
		CaseSensitive: caseSensitive,
	}
	if isRegex {
		compiled, err := security.CompileSafe(pattern, caseSensitive)
		if err != nil {
			return err
		}
		rule.compiled = compiled
	} else if !caseSensitive {
		rule.folded = strings.ToLower(pattern)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rules {
		if existing.Pattern == pattern && existing.IsRegex == isRegex {
			return nil
		}
	}
	s.rules = append(s.rules, rule)
	return nil
}

// Remove deletes the rule with the given pattern text. Removing an unknown
// pattern is a no-op.
func (s *ExclusionSet) Remove(pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rule := range s.rules {
		if rule.Pattern == pattern {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return
		}
	}
}

// Clear removes every rule.
func (s *ExclusionSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = nil
}

// Patterns returns the rule pattern texts in registration order.
func (s *ExclusionSet) Patterns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.rules))
	for i, rule := range s.rules {
		out[i] = rule.Pattern
	}
	return out
}

// Len returns the number of registered rules.
func (s *ExclusionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Exclude reports whether line matches any rule. A rule whose match budget
// is exhausted counts as not matching, so a pathological pattern can never
// hide the whole file.
func (s *ExclusionSet) Exclude(line string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.rules {
		if s.rules[i].matches(line) {
			return true
		}
	}
	return false
}
