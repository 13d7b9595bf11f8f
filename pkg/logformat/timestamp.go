package logformat

import (
	"regexp"
	"strconv"
	"time"

	"github.com/dalog/dalog/internal/pattern"
)

// TimestampParser detects and parses timestamps from log lines
type TimestampParser struct {
	patterns []timestampPattern
}

type timestampPattern struct {
	regex  *regexp.Regexp
	layout string
}

const (
	layoutUnix   = "unix"
	layoutUnixMS = "unix_ms"
)

// NewTimestampParser creates a parser with common timestamp formats
func NewTimestampParser() *TimestampParser {
	return &TimestampParser{
		patterns: []timestampPattern{
			// 2024-01-15T10:30:45.123Z, 2024-01-15T10:30:45+00:00
			{
				regex:  regexp.MustCompile(`(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d{3})?(?:Z|[+-]\d{2}:\d{2})?)`),
				layout: time.RFC3339,
			},
			// 2024-01-15 10:30:45.123
			{
				regex:  regexp.MustCompile(`(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3})`),
				layout: "2006-01-02 15:04:05.000",
			},
			// 2024-01-15 10:30:45
			{
				regex:  regexp.MustCompile(`(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`),
				layout: "2006-01-02 15:04:05",
			},
			// Syslog: Jan 15 10:30:45
			{
				regex:  regexp.MustCompile(`([A-Z][a-z]{2} \d{1,2} \d{2}:\d{2}:\d{2})`),
				layout: "Jan 2 15:04:05",
			},
			// Apache/nginx: 15/Jan/2024:10:30:45 +0000
			{
				regex:  regexp.MustCompile(`(\d{2}/[A-Z][a-z]{2}/\d{4}:\d{2}:\d{2}:\d{2} [+-]\d{4})`),
				layout: "02/Jan/2006:15:04:05 -0700",
			},
			// Unix seconds at line start
			{
				regex:  regexp.MustCompile(`^(\d{10})(?:\D|$)`),
				layout: layoutUnix,
			},
			// Unix milliseconds at line start
			{
				regex:  regexp.MustCompile(`^(\d{13})(?:\D|$)`),
				layout: layoutUnixMS,
			},
		},
	}
}

// Parse attempts to extract a timestamp from a log line
func (p *TimestampParser) Parse(line string) (time.Time, bool) {
	for _, tp := range p.patterns {
		matches := tp.regex.FindStringSubmatch(line)
		if len(matches) < 2 {
			continue
		}
		timeStr := matches[1]

		switch tp.layout {
		case layoutUnix:
			if n, err := strconv.ParseInt(timeStr, 10, 64); err == nil {
				return time.Unix(n, 0), true
			}
			continue
		case layoutUnixMS:
			if n, err := strconv.ParseInt(timeStr, 10, 64); err == nil {
				return time.UnixMilli(n), true
			}
			continue
		}

		layouts := []string{tp.layout}
		if tp.layout == "2006-01-02 15:04:05.000" {
			layouts = append(layouts, "2006-01-02 15:04:05")
		}

		for _, layout := range layouts {
			t, err := time.Parse(layout, timeStr)
			if err != nil {
				continue
			}
			// Syslog format carries no year; assume the current one.
			if layout == "Jan 2 15:04:05" {
				t = time.Date(time.Now().Year(), t.Month(), t.Day(),
					t.Hour(), t.Minute(), t.Second(), 0, time.Local)
			}
			return t, true
		}
	}

	return time.Time{}, false
}

// FormatTime formats a timestamp for status display
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("15:04:05")
}

// TimestampRule returns a style rule dimming ISO-ish timestamps
func TimestampRule() Rule {
	return Rule{
		Name:    "timestamp",
		Pattern: `\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d{1,6})?(?:Z|[+-]\d{2}:\d{2})?`,
		Attrs:   pattern.Attrs{Foreground: "244"},
	}
}
