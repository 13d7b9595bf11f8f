package security

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"time"
)

// PatternErrorKind classifies why a pattern was refused.
type PatternErrorKind int

const (
	ErrPatternSyntax PatternErrorKind = iota
	ErrPatternComplexity
	ErrPatternTooLong
)

// PatternError reports a refused pattern along with the reason.
type PatternError struct {
	Kind    PatternErrorKind
	Pattern string
	Reason  string
}

func (e *PatternError) Error() string {
	switch e.Kind {
	case ErrPatternComplexity:
		return fmt.Sprintf("unsafe pattern %q: %s", e.Pattern, e.Reason)
	case ErrPatternTooLong:
		return fmt.Sprintf("pattern too long %q: %s", e.Pattern, e.Reason)
	default:
		return fmt.Sprintf("invalid pattern %q: %s", e.Pattern, e.Reason)
	}
}

const (
	// MaxPatternLength bounds the source text of a user pattern.
	MaxPatternLength = 1024

	// DefaultMatchBudget is the wall-clock allowance for one match call.
	DefaultMatchBudget = 50 * time.Millisecond

	// DefaultMatchWindow bounds how many bytes of a line are scanned.
	DefaultMatchWindow = 64 * 1024

	// maxQuantifierNesting is the permitted depth of unbounded
	// quantifiers wrapping each other. (a+)+ has depth 2.
	maxQuantifierNesting = 1
)

// SafePattern is a compiled regular expression with a bounded evaluation
// budget. The zero budget falls back to DefaultMatchBudget. A SafePattern is
// immutable after construction and safe for concurrent use.
type SafePattern struct {
	re     *regexp.Regexp
	expr   string
	budget time.Duration
	window int
}

// CompileSafe statically screens pattern for catastrophic backtracking shapes
// and wraps the accepted expression with a match budget. Go's regexp engine
// is linear-time, but the screen keeps config files portable to backtracking
// engines and the budget caps cost on oversized lines.
func CompileSafe(pattern string, caseSensitive bool) (*SafePattern, error) {
	if len(pattern) > MaxPatternLength {
		return nil, &PatternError{
			Kind:    ErrPatternTooLong,
			Pattern: pattern[:64] + "...",
			Reason:  fmt.Sprintf("%d bytes exceeds limit of %d", len(pattern), MaxPatternLength),
		}
	}

	flags := syntax.Perl
	if !caseSensitive {
		flags |= syntax.FoldCase
	}
	tree, err := syntax.Parse(pattern, flags)
	if err != nil {
		return nil, &PatternError{Kind: ErrPatternSyntax, Pattern: pattern, Reason: err.Error()}
	}
	if reason := classifyComplexity(tree, 0); reason != "" {
		return nil, &PatternError{Kind: ErrPatternComplexity, Pattern: pattern, Reason: reason}
	}
	// The parser factors common alternation prefixes, so (a|a)* has to be
	// caught on the source text before factoring erases the overlap.
	if reason := overlappingAlternationText(pattern); reason != "" {
		return nil, &PatternError{Kind: ErrPatternComplexity, Pattern: pattern, Reason: reason}
	}

	expr := pattern
	if !caseSensitive {
		expr = "(?i)" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, &PatternError{Kind: ErrPatternSyntax, Pattern: pattern, Reason: err.Error()}
	}

	return &SafePattern{
		re:     re,
		expr:   pattern,
		budget: DefaultMatchBudget,
		window: DefaultMatchWindow,
	}, nil
}

// String returns the original pattern source.
func (p *SafePattern) String() string {
	return p.expr
}

// MatchString reports whether the pattern matches s within its budget.
// Crossing the budget counts as no match, never as a failure.
func (p *SafePattern) MatchString(s string) bool {
	s = p.clip(s)
	start := time.Now()
	matched := p.re.MatchString(s)
	if time.Since(start) > p.budget {
		return false
	}
	return matched
}

// FindAllStringIndex returns every match span within the budget. A budget
// overrun yields nil, the caller treats it as an unstyled line.
func (p *SafePattern) FindAllStringIndex(s string) [][]int {
	s = p.clip(s)
	start := time.Now()
	spans := p.re.FindAllStringIndex(s, -1)
	if time.Since(start) > p.budget {
		return nil
	}
	return spans
}

func (p *SafePattern) clip(s string) string {
	if len(s) > p.window {
		return s[:p.window]
	}
	return s
}

// classifyComplexity walks the parse tree and returns a non-empty reason for
// shapes with exponential worst-case backtracking: unbounded quantifiers
// nested beyond maxQuantifierNesting, and alternations with overlapping
// branches under an unbounded quantifier.
func classifyComplexity(re *syntax.Regexp, quantDepth int) string {
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus:
		quantDepth++
		if quantDepth > maxQuantifierNesting {
			return "nested unbounded quantifiers"
		}
	case syntax.OpRepeat:
		if re.Max < 0 {
			quantDepth++
			if quantDepth > maxQuantifierNesting {
				return "nested unbounded quantifiers"
			}
		}
	}
	for _, sub := range re.Sub {
		if reason := classifyComplexity(sub, quantDepth); reason != "" {
			return reason
		}
	}
	return ""
}

// overlappingAlternationText scans the pattern source for a group of
// alternation branches that start with the same byte and sit directly under
// an unbounded quantifier. Conservative: a false positive costs the user a
// rewrite, a false negative costs a hung match on a backtracking engine.
func overlappingAlternationText(pattern string) string {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '(' || (i > 0 && pattern[i-1] == '\\') {
			continue
		}
		end := matchingParen(pattern, i)
		if end < 0 || end+1 >= len(pattern) {
			continue
		}
		if pattern[end+1] != '*' && pattern[end+1] != '+' {
			continue
		}
		branches := splitTopLevel(pattern[i+1 : end])
		if len(branches) < 2 {
			continue
		}
		seen := make(map[byte]bool)
		for _, b := range branches {
			if b == "" {
				continue
			}
			first := b[0]
			if first == '\\' || first == '(' || first == '[' {
				continue
			}
			if seen[first] {
				return "overlapping alternation under quantifier"
			}
			seen[first] = true
		}
	}
	return ""
}

// matchingParen returns the index of the parenthesis closing the one at
// open, or -1 when unbalanced.
func matchingParen(pattern string, open int) int {
	depth := 0
	for i := open; i < len(pattern); i++ {
		if i > 0 && pattern[i-1] == '\\' {
			continue
		}
		switch pattern[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel splits an alternation body on '|' at nesting depth zero.
func splitTopLevel(body string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(body); i++ {
		if i > 0 && body[i-1] == '\\' {
			continue
		}
		switch body[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case '|':
			if depth == 0 {
				parts = append(parts, body[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, body[start:])
	return parts
}
