package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathErrorKind classifies why a path was refused.
type PathErrorKind int

const (
	ErrPathTraversal PathErrorKind = iota
	ErrSymlinkEscape
	ErrFileTooLarge
	ErrNotRegular
)

// PathError reports a refused path along with the reason.
type PathError struct {
	Kind   PathErrorKind
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	switch e.Kind {
	case ErrPathTraversal:
		return fmt.Sprintf("path traversal refused: %s: %s", e.Path, e.Reason)
	case ErrSymlinkEscape:
		return fmt.Sprintf("symlink escape refused: %s: %s", e.Path, e.Reason)
	case ErrFileTooLarge:
		return fmt.Sprintf("file too large: %s: %s", e.Path, e.Reason)
	default:
		return fmt.Sprintf("path refused: %s: %s", e.Path, e.Reason)
	}
}

// PathConfig holds the limits applied when validating a local path.
type PathConfig struct {
	// AllowedRoot confines canonicalized paths to a directory tree.
	// Empty means no confinement beyond symlink consistency.
	AllowedRoot string

	// MaxFileSize rejects files larger than this many bytes before any
	// read is attempted. Zero means DefaultMaxFileSize.
	MaxFileSize int64
}

// DefaultMaxFileSize caps local reads at 100 MiB.
const DefaultMaxFileSize = 100 * 1024 * 1024

// ValidatePath canonicalizes path and rejects traversal outside the allowed
// root, symlinks that escape it, and files over the size limit. It returns
// the canonical absolute path. Safe for concurrent use.
func ValidatePath(path string, cfg PathConfig) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &PathError{Kind: ErrPathTraversal, Path: path, Reason: err.Error()}
	}
	abs = filepath.Clean(abs)

	root := cfg.AllowedRoot
	if root != "" {
		root, err = filepath.Abs(root)
		if err != nil {
			return "", &PathError{Kind: ErrPathTraversal, Path: path, Reason: err.Error()}
		}
		// Resolve the root itself so the containment check compares
		// canonical forms on both sides.
		if resolved, rerr := filepath.EvalSymlinks(root); rerr == nil {
			root = resolved
		}
		if !within(abs, root) {
			return "", &PathError{Kind: ErrPathTraversal, Path: path, Reason: "outside allowed root " + root}
		}
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", err
		}
		return "", &PathError{Kind: ErrSymlinkEscape, Path: path, Reason: err.Error()}
	}
	if root != "" && !within(canonical, root) {
		return "", &PathError{Kind: ErrSymlinkEscape, Path: path, Reason: "resolves outside allowed root " + root}
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", &PathError{Kind: ErrNotRegular, Path: path, Reason: "not a regular file"}
	}

	max := cfg.MaxFileSize
	if max <= 0 {
		max = DefaultMaxFileSize
	}
	if info.Size() > max {
		return "", &PathError{
			Kind:   ErrFileTooLarge,
			Path:   path,
			Reason: fmt.Sprintf("%d bytes exceeds limit of %d", info.Size(), max),
		}
	}

	return canonical, nil
}

// within reports whether path sits at or below root.
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
