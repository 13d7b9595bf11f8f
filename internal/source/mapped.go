package source

import (
	"os"
	"time"

	"golang.org/x/exp/mmap"
)

// RefreshStatus reports what happened to a mapped file since last observed.
type RefreshStatus int

const (
	FileUnchanged RefreshStatus = iota
	FileGrown
	FileTruncated
	FileReplaced
)

// mappedFile provides memory-mapped read access to a local log file and
// tracks its identity so rotation is detectable.
type mappedFile struct {
	reader  *mmap.ReaderAt
	size    int64
	modTime time.Time
	ident   FileIdent
	path    string
}

func openMapped(path string) (*mappedFile, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		reader.Close()
		return nil, err
	}
	return &mappedFile{
		reader:  reader,
		size:    info.Size(),
		modTime: info.ModTime(),
		ident:   identOf(info),
		path:    path,
	}, nil
}

func (m *mappedFile) Size() int64        { return m.size }
func (m *mappedFile) ModTime() time.Time { return m.modTime }
func (m *mappedFile) Ident() FileIdent   { return m.ident }

func (m *mappedFile) Close() error {
	return m.reader.Close()
}

// ReadRange reads bytes in [start, end), clamped to the mapped size.
func (m *mappedFile) ReadRange(start, end int64) ([]byte, error) {
	if end > m.size {
		end = m.size
	}
	if start >= end {
		return nil, nil
	}
	buf := make([]byte, end-start)
	if _, err := m.reader.ReadAt(buf, start); err != nil {
		return nil, err
	}
	return buf, nil
}

// Refresh re-stats the file and remaps it when it changed. It classifies
// the change so the caller can distinguish growth from rotation.
func (m *mappedFile) Refresh() (RefreshStatus, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return FileUnchanged, err
	}

	status := FileUnchanged
	ident := identOf(info)
	switch {
	case ident != m.ident:
		status = FileReplaced
	case info.Size() < m.size:
		status = FileTruncated
	case info.Size() > m.size:
		status = FileGrown
	default:
		m.modTime = info.ModTime()
		return FileUnchanged, nil
	}

	m.reader.Close()
	reader, err := mmap.Open(m.path)
	if err != nil {
		return status, err
	}
	m.reader = reader
	m.size = info.Size()
	m.modTime = info.ModTime()
	m.ident = ident
	return status, nil
}
