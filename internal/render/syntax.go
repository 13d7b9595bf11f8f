package render

import (
	"bytes"
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/quick"

	"github.com/dalog/dalog/internal/engine"
)

// SyntaxRenderer highlights lines with chroma when no style span claimed
// them, useful for structured logs (JSON lines, access logs). Lines with
// spans fall through to the span renderer so rule highlights always win
type SyntaxRenderer struct {
	spans     *SpanRenderer
	lexerName string
	theme     string
}

// NewSyntaxRenderer creates a renderer for the given filename. The lexer
// is matched once by name; unrecognized files get plaintext
func NewSyntaxRenderer(filename string) *SyntaxRenderer {
	lexerName := "plaintext"
	if lexer := lexers.Match(filename); lexer != nil {
		lexerName = lexer.Config().Name
	}
	return &SyntaxRenderer{
		spans:     NewSpanRenderer(),
		lexerName: lexerName,
		theme:     "monokai",
	}
}

// Render highlights an unstyled line, or defers to span styling
func (r *SyntaxRenderer) Render(line engine.ProcessedLine) string {
	if len(line.Spans) > 0 {
		return r.spans.Render(line)
	}
	if line.Content == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := quick.Highlight(&buf, line.Content, r.lexerName, "terminal16m", r.theme); err != nil {
		return line.Content
	}

	// quick.Highlight appends a newline; the viewport adds its own.
	out := strings.TrimRight(buf.String(), "\r\n")
	return out
}
