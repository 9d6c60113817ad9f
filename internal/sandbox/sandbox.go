// Package sandbox validates client-supplied paths against the configured
// media root. Every path entering a transform, the cache or the crawler
// must pass through a Guard first.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EntryType selects which filesystem entry kind a path must resolve to.
type EntryType string

const (
	TypeFile EntryType = "file"
	TypeDir  EntryType = "dir"
)

// Domain errors surfaced to the protocol and HTTP layers.
var (
	ErrOutsideSandbox = errors.New("path not in configured sandbox")
	ErrNotFound       = errors.New("not found")
	ErrPermission     = errors.New("permission denied")
	ErrWrongType      = errors.New("wrong object type")
)

// Guard validates relative paths against a single sandbox root.
type Guard struct {
	root string
}

// New creates a Guard for the given root directory. The root must exist.
func New(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat sandbox root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %s is not a directory", abs)
	}
	return &Guard{root: abs}, nil
}

// Root returns the absolute sandbox root.
func (g *Guard) Root() string {
	return g.root
}

// Normalize maps "/" to the root itself and strips a leading slash so the
// path is always interpreted as sandbox-relative.
func (g *Guard) Normalize(rel string) string {
	if rel == "/" {
		return ""
	}
	return strings.TrimPrefix(rel, "/")
}

// Resolve validates a sandbox-relative path and returns its absolute
// location and file info. Containment is checked on the cleaned absolute
// path component-wise, so sibling directories sharing a name prefix with
// the root are rejected.
func (g *Guard) Resolve(rel string, required EntryType) (string, fs.FileInfo, error) {
	abs := filepath.Join(g.root, filepath.FromSlash(g.Normalize(rel)))

	if !g.contains(abs) {
		return "", nil, fmt.Errorf("%w: %s", ErrOutsideSandbox, rel)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		if errors.Is(err, fs.ErrPermission) {
			return "", nil, fmt.Errorf("%w: %s", ErrPermission, rel)
		}
		return "", nil, err
	}

	if !readable(abs) {
		return "", nil, fmt.Errorf("%w: %s", ErrPermission, rel)
	}

	switch required {
	case TypeFile:
		if info.IsDir() {
			return "", nil, fmt.Errorf("%w: not a file: %s", ErrWrongType, rel)
		}
	case TypeDir:
		if !info.IsDir() {
			return "", nil, fmt.Errorf("%w: not a directory: %s", ErrWrongType, rel)
		}
	default:
		return "", nil, fmt.Errorf("%w: unknown required type %q", ErrWrongType, required)
	}

	return abs, info, nil
}

// Relative converts an absolute path below the root back to a slash-form
// sandbox-relative path.
func (g *Guard) Relative(abs string) (string, error) {
	rel, err := filepath.Rel(g.root, abs)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

func (g *Guard) contains(abs string) bool {
	if abs == g.root {
		return true
	}
	return strings.HasPrefix(abs, g.root+string(filepath.Separator))
}

func readable(abs string) bool {
	f, err := os.Open(abs)
	if err != nil {
		return !errors.Is(err, fs.ErrPermission)
	}
	f.Close()
	return true
}
