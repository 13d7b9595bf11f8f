package source

import (
	"context"
	"os"
	"strings"
	"syscall"
	"time"
)

// LogLine is one line of source text with its 1-based ordinal position in
// the source at read time. Immutable once produced.
type LogLine struct {
	Content string
	Number  int
}

// FileIdent identifies a local file across renames, for rotation detection.
type FileIdent struct {
	Dev uint64
	Ino uint64
}

// Cursor tracks how much of a source has been consumed. Owned by the
// facade; readers treat it as a value.
type Cursor struct {
	// Offset is the byte offset just past the last complete line consumed.
	Offset int64
	// Size is the source size observed at the last successful read.
	Size int64
	// ModTime is the local modification time (zero for remote sources).
	ModTime time.Time
	// Ident is the local file identity (zero for remote sources).
	Ident FileIdent
	// Lines is the total number of complete lines consumed so far.
	Lines int
}

// Signature is the cheap change probe: current size and existence.
type Signature struct {
	Size   int64
	Exists bool
}

// Delta is the result of an incremental read.
type Delta struct {
	Lines     []LogLine
	Cursor    Cursor
	Truncated bool
}

// Reader abstracts a log source. Exactly two implementations exist:
// LocalReader and RemoteReader.
type Reader interface {
	// Tail reads at most maxLines of the newest complete lines and
	// returns a cursor positioned at end of consumed content.
	Tail(ctx context.Context, maxLines int) ([]LogLine, Cursor, error)

	// ReadFrom returns lines appended since cur. When the source shrank
	// or changed identity the delta is marked truncated and restarts
	// from the beginning with ordinals from 1.
	ReadFrom(ctx context.Context, cur Cursor) (Delta, error)

	// Probe cheaply reports the current source signature.
	Probe(ctx context.Context) (Signature, error)

	Close() error
}

func identOf(info os.FileInfo) FileIdent {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return FileIdent{Dev: uint64(st.Dev), Ino: uint64(st.Ino)}
	}
	return FileIdent{}
}

// decodeLine makes a line safe to hand to the UI: invalid byte sequences
// are replaced, never fatal.
func decodeLine(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
