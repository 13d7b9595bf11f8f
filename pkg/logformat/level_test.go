package logformat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalog/dalog/internal/pattern"
	"github.com/dalog/dalog/internal/security"
)

func TestDetectLevels(t *testing.T) {
	cases := []struct {
		line string
		want Level
	}{
		{"2024-01-15 10:30:45 INFO started", LevelInfo},
		{"[ERR] connection refused", LevelError},
		{"FATAL ERROR: out of memory", LevelFatal},
		{"[WARNING] disk almost full", LevelWarn},
		{"TRACE entering handler", LevelTrace},
		{"plain text line", LevelUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Detect(tc.line), tc.line)
	}
}

func TestDefaultRulesCompileSafely(t *testing.T) {
	for _, rule := range DefaultRules(DefaultColors()) {
		_, err := security.CompileSafe(rule.Pattern, true)
		require.NoError(t, err, rule.Name)
	}
	_, err := security.CompileSafe(TimestampRule().Pattern, true)
	require.NoError(t, err)
}

func TestDefaultRulesMatchTokens(t *testing.T) {
	rules := DefaultRules(DefaultColors())

	set := pattern.NewStyleSet()
	for _, r := range rules {
		require.NoError(t, set.Add(r.Name, r.Pattern, r.Attrs))
	}

	spans := set.Spans("2024-01-15 ERROR boom")
	require.Len(t, spans, 1)
	assert.Equal(t, DefaultColors().Error, spans[0].Attrs.Foreground)
	assert.True(t, spans[0].Attrs.Bold)
}

func TestTimestampParse(t *testing.T) {
	p := NewTimestampParser()

	ts, ok := p.Parse("2024-01-15T10:30:45Z request served")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC), ts.UTC())

	ts, ok = p.Parse("2024-01-15 10:30:45.123 request served")
	require.True(t, ok)
	assert.Equal(t, 123000000, ts.Nanosecond())

	ts, ok = p.Parse("1705315845 worker exit")
	require.True(t, ok)
	assert.Equal(t, int64(1705315845), ts.Unix())

	_, ok = p.Parse("no timestamp here")
	assert.False(t, ok)
}
