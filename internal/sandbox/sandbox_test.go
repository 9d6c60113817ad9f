package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestGuard(t *testing.T) (*Guard, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	g, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g, root
}

func TestResolveFile(t *testing.T) {
	g, root := newTestGuard(t)

	abs, info, err := g.Resolve("a.txt", TypeFile)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if abs != filepath.Join(root, "a.txt") {
		t.Errorf("unexpected abs path %q", abs)
	}
	if info.Size() != 5 {
		t.Errorf("expected size 5, got %d", info.Size())
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	g, _ := newTestGuard(t)

	for _, p := range []string{
		"..",
		"../outside.txt",
		"sub/../../outside.txt",
		"sub/../../../etc/passwd",
	} {
		if _, _, err := g.Resolve(p, TypeFile); !errors.Is(err, ErrOutsideSandbox) {
			t.Errorf("Resolve(%q): expected ErrOutsideSandbox, got %v", p, err)
		}
	}
}

func TestResolveRejectsSiblingWithRootPrefix(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "media")
	sibling := filepath.Join(parent, "media-secrets")
	for _, d := range []string{root, sibling} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(sibling, "key"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.Resolve("../media-secrets/key", TypeFile); !errors.Is(err, ErrOutsideSandbox) {
		t.Errorf("expected ErrOutsideSandbox, got %v", err)
	}
}

func TestResolveNotFound(t *testing.T) {
	g, _ := newTestGuard(t)

	if _, _, err := g.Resolve("missing.txt", TypeFile); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveWrongType(t *testing.T) {
	g, _ := newTestGuard(t)

	if _, _, err := g.Resolve("sub", TypeFile); !errors.Is(err, ErrWrongType) {
		t.Errorf("dir as file: expected ErrWrongType, got %v", err)
	}
	if _, _, err := g.Resolve("a.txt", TypeDir); !errors.Is(err, ErrWrongType) {
		t.Errorf("file as dir: expected ErrWrongType, got %v", err)
	}
}

func TestNormalizeRootSlash(t *testing.T) {
	g, root := newTestGuard(t)

	if got := g.Normalize("/"); got != "" {
		t.Errorf("Normalize(/) = %q, want empty", got)
	}
	abs, _, err := g.Resolve(g.Normalize("/"), TypeDir)
	if err != nil {
		t.Fatalf("Resolve root: %v", err)
	}
	if abs != root {
		t.Errorf("root resolved to %q", abs)
	}
	if got := g.Normalize("/sub"); got != "sub" {
		t.Errorf("Normalize(/sub) = %q, want sub", got)
	}
}

func TestRelativeRoundTrip(t *testing.T) {
	g, _ := newTestGuard(t)

	abs, _, err := g.Resolve("sub", TypeDir)
	if err != nil {
		t.Fatal(err)
	}
	rel, err := g.Relative(abs)
	if err != nil {
		t.Fatal(err)
	}
	if rel != "sub" {
		t.Errorf("Relative = %q, want sub", rel)
	}

	rootRel, err := g.Relative(g.Root())
	if err != nil {
		t.Fatal(err)
	}
	if rootRel != "" {
		t.Errorf("Relative(root) = %q, want empty", rootRel)
	}
}
