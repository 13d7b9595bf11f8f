package source

import (
	"context"
	"os"
)

// LocalReader reads a local log file through a memory map with an
// incremental line index. Not safe for concurrent use; the facade
// serializes access per handle.
type LocalReader struct {
	path      string
	tailLimit int
	file      *mappedFile
	index     *lineIndex
}

// NewLocalReader opens path. The caller is expected to have validated the
// path already. tailLimit bounds how many lines a truncation restart emits.
func NewLocalReader(path string, tailLimit int) (*LocalReader, error) {
	file, err := openMapped(path)
	if err != nil {
		return nil, err
	}
	index, err := buildLineIndex(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &LocalReader{path: path, tailLimit: tailLimit, file: file, index: index}, nil
}

// Path returns the file path.
func (r *LocalReader) Path() string {
	return r.path
}

// Tail returns at most maxLines of the newest complete lines and a cursor
// positioned past them. The line index makes this a newline scan, not a
// full-file decode.
func (r *LocalReader) Tail(ctx context.Context, maxLines int) ([]LogLine, Cursor, error) {
	total := r.index.LineCount()
	first := 0
	if maxLines > 0 && total > maxLines {
		first = total - maxLines
	}

	lines, err := r.readLines(ctx, first, total)
	if err != nil {
		return nil, Cursor{}, err
	}
	return lines, r.cursor(), nil
}

// ReadFrom returns lines appended since cur. Shrinkage or an identity
// change (rotation) restarts from the beginning with Truncated set.
func (r *LocalReader) ReadFrom(ctx context.Context, cur Cursor) (Delta, error) {
	status, err := r.file.Refresh()
	if err != nil {
		return Delta{}, err
	}

	switch status {
	case FileTruncated, FileReplaced:
		if err := r.index.rebuild(); err != nil {
			return Delta{}, err
		}
		lines, cursor, err := r.Tail(ctx, r.tailLimit)
		if err != nil {
			return Delta{}, err
		}
		return Delta{Lines: lines, Cursor: cursor, Truncated: true}, nil

	case FileGrown:
		before := r.index.LineCount()
		if err := r.index.appendFrom(r.index.EndOffset()); err != nil {
			return Delta{}, err
		}
		lines, err := r.readLines(ctx, before, r.index.LineCount())
		if err != nil {
			return Delta{}, err
		}
		return Delta{Lines: lines, Cursor: r.cursor()}, nil

	default:
		cur.ModTime = r.file.ModTime()
		return Delta{Cursor: cur}, nil
	}
}

// Probe cheaply reports the file's current size.
func (r *LocalReader) Probe(ctx context.Context) (Signature, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Signature{}, nil
		}
		return Signature{}, err
	}
	return Signature{Size: info.Size(), Exists: true}, nil
}

// Close releases the memory map.
func (r *LocalReader) Close() error {
	return r.file.Close()
}

func (r *LocalReader) cursor() Cursor {
	return Cursor{
		Offset:  r.index.EndOffset(),
		Size:    r.file.Size(),
		ModTime: r.file.ModTime(),
		Ident:   r.file.Ident(),
		Lines:   r.index.LineCount(),
	}
}

// readLines materializes complete lines [first, last) with 1-based ordinals.
func (r *LocalReader) readLines(ctx context.Context, first, last int) ([]LogLine, error) {
	var lines []LogLine
	for i := first; i < last; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := r.index.Line(i)
		if err != nil {
			return nil, err
		}
		lines = append(lines, LogLine{Content: decodeLine(content), Number: i + 1})
	}
	return lines, nil
}
