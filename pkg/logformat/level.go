package logformat

import (
	"regexp"
	"strings"

	"github.com/dalog/dalog/internal/pattern"
)

// Level is a detected log severity
type Level int

const (
	LevelUnknown Level = iota
	LevelTrace
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// LevelColors maps each level to a terminal color
type LevelColors struct {
	Trace string
	Debug string
	Info  string
	Warn  string
	Error string
	Fatal string
}

// DefaultColors returns the built-in subtle palette
func DefaultColors() LevelColors {
	return LevelColors{
		Trace: "240", // Dark gray
		Debug: "244", // Medium gray
		Info:  "250", // Light gray
		Warn:  "214", // Orange
		Error: "167", // Soft red
		Fatal: "196", // Bright red
	}
}

// levelTokens are the markers looked for in lines, most severe first.
// The same tokens drive both Detect and the generated style rules.
var levelTokens = []struct {
	level  Level
	tokens []string
}{
	{LevelFatal, []string{"[FTL]", "[FATAL]", "[CRIT]", "FATAL", "CRITICAL", "FTL"}},
	{LevelError, []string{"[ERR]", "[ERROR]", "ERROR", "ERR"}},
	{LevelWarn, []string{"[WRN]", "[WARN]", "[WARNING]", "WARNING", "WARN", "WRN"}},
	{LevelInfo, []string{"[INF]", "[INFO]", "INFO", "INF"}},
	{LevelDebug, []string{"[DBG]", "[DEBUG]", "DEBUG", "DBG"}},
	{LevelTrace, []string{"[TRC]", "[TRACE]", "TRACE", "TRC"}},
}

// Detect returns the severity of a line, checking the most severe
// markers first so "FATAL ERROR" reports fatal
func Detect(line string) Level {
	for _, lt := range levelTokens {
		for _, tok := range lt.tokens {
			if strings.Contains(line, tok) {
				return lt.level
			}
		}
	}
	return LevelUnknown
}

// Rule is a ready-made highlight rule
type Rule struct {
	Name    string
	Pattern string
	Attrs   pattern.Attrs
}

// DefaultRules returns highlight rules for the level markers, one rule per
// level. Rules are ordered least severe first so a fatal marker overrides
// an error marker on the same span
func DefaultRules(colors LevelColors) []Rule {
	color := map[Level]string{
		LevelTrace: colors.Trace,
		LevelDebug: colors.Debug,
		LevelInfo:  colors.Info,
		LevelWarn:  colors.Warn,
		LevelError: colors.Error,
		LevelFatal: colors.Fatal,
	}

	rules := make([]Rule, 0, len(levelTokens))
	for i := len(levelTokens) - 1; i >= 0; i-- {
		lt := levelTokens[i]
		rules = append(rules, Rule{
			Name:    "level." + lt.level.String(),
			Pattern: tokenAlternation(lt.tokens),
			Attrs: pattern.Attrs{
				Foreground: color[lt.level],
				Bold:       lt.level >= LevelError,
			},
		})
	}
	return rules
}

func tokenAlternation(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = regexp.QuoteMeta(tok)
	}
	return strings.Join(quoted, "|")
}
