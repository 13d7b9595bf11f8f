package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSafeAcceptsOrdinaryPatterns(t *testing.T) {
	patterns := []string{
		`ERROR`,
		`\bWARNING\b`,
		`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`,
		`a+b`,
		`test.*content`,
		`(foo|bar) baz`,
	}
	for _, expr := range patterns {
		_, err := CompileSafe(expr, true)
		assert.NoError(t, err, "pattern %q", expr)
	}
}

func TestCompileSafeRejectsDangerousPatterns(t *testing.T) {
	patterns := []string{
		`(a+)+`,
		`(a+)+$`,
		`(a*)*b`,
		`([a-zA-Z]+)*`,
		`(a|a)*`,
		`(.*)*`,
		`([0-9]+)*end`,
	}
	for _, expr := range patterns {
		_, err := CompileSafe(expr, true)
		require.Error(t, err, "pattern %q", expr)

		var perr *PatternError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ErrPatternComplexity, perr.Kind, "pattern %q", expr)
	}
}

func TestCompileSafeRejectsSyntaxErrors(t *testing.T) {
	_, err := CompileSafe(`[invalid regex`, true)
	require.Error(t, err)

	var perr *PatternError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrPatternSyntax, perr.Kind)
}

func TestCompileSafeRejectsOversizedPattern(t *testing.T) {
	_, err := CompileSafe(strings.Repeat("a", MaxPatternLength+1), true)
	require.Error(t, err)

	var perr *PatternError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrPatternTooLong, perr.Kind)
}

func TestSafePatternCaseSensitivity(t *testing.T) {
	sensitive, err := CompileSafe("error", true)
	require.NoError(t, err)
	insensitive, err := CompileSafe("error", false)
	require.NoError(t, err)

	assert.False(t, sensitive.MatchString("an ERROR happened"))
	assert.True(t, insensitive.MatchString("an ERROR happened"))
}

func TestSafePatternMatchTerminatesOnPathologicalInput(t *testing.T) {
	// A pattern that passes the static screen but is fed adversarial
	// input must still return promptly.
	p, err := CompileSafe(`a+b`, true)
	require.NoError(t, err)

	input := strings.Repeat("a", 10*1024*1024)
	start := time.Now()
	matched := p.MatchString(input)
	elapsed := time.Since(start)

	assert.False(t, matched)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestSafePatternFindAllStringIndex(t *testing.T) {
	p, err := CompileSafe("ERROR", true)
	require.NoError(t, err)

	spans := p.FindAllStringIndex("ERROR then ERROR again")
	require.Len(t, spans, 2)
	assert.Equal(t, []int{0, 5}, spans[0])
	assert.Equal(t, []int{11, 16}, spans[1])
}
