package source

import "bytes"

// lineIndex stores the byte offset of every newline in a mapped file.
// Only complete lines (those ending in a newline) are indexed; a trailing
// partial line is left for a later read.
type lineIndex struct {
	newlines []int64
	file     *mappedFile
}

const indexChunkSize = 64 * 1024

func buildLineIndex(file *mappedFile) (*lineIndex, error) {
	idx := &lineIndex{file: file}
	if err := idx.scan(0); err != nil {
		return nil, err
	}
	return idx, nil
}

// scan indexes newlines from byte offset from to the end of the file.
func (idx *lineIndex) scan(from int64) error {
	size := idx.file.Size()

	pos := from
	for pos < size {
		end := pos + indexChunkSize
		if end > size {
			end = size
		}
		chunk, err := idx.file.ReadRange(pos, end)
		if err != nil {
			return err
		}

		offset := 0
		for {
			i := bytes.IndexByte(chunk[offset:], '\n')
			if i == -1 {
				break
			}
			idx.newlines = append(idx.newlines, pos+int64(offset)+int64(i))
			offset += i + 1
		}
		pos = end
	}
	return nil
}

// rebuild discards the index and scans the whole file again.
func (idx *lineIndex) rebuild() error {
	idx.newlines = idx.newlines[:0]
	return idx.scan(0)
}

// appendFrom indexes lines added after a growth, starting at the previous
// end-of-consumed-content offset.
func (idx *lineIndex) appendFrom(oldEnd int64) error {
	return idx.scan(oldEnd)
}

// LineCount returns the number of complete lines.
func (idx *lineIndex) LineCount() int {
	return len(idx.newlines)
}

// EndOffset returns the byte offset just past the last complete line.
func (idx *lineIndex) EndOffset() int64 {
	if len(idx.newlines) == 0 {
		return 0
	}
	return idx.newlines[len(idx.newlines)-1] + 1
}

// Line returns the content of the 0-based complete line n, without its
// line terminator.
func (idx *lineIndex) Line(n int) ([]byte, error) {
	if n < 0 || n >= len(idx.newlines) {
		return nil, nil
	}
	var start int64
	if n > 0 {
		start = idx.newlines[n-1] + 1
	}
	content, err := idx.file.ReadRange(start, idx.newlines[n])
	if err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(content, []byte("\r")), nil
}
