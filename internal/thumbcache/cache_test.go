package thumbcache

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestKeyLayout(t *testing.T) {
	rel := "folder1/chess.jpg"
	sum := md5.Sum([]byte(rel))
	want := hex.EncodeToString(sum[:])

	shard, name := Key(rel)
	if shard+name != want {
		t.Errorf("Key = %s%s, want %s", shard, name, want)
	}
	if len(shard) != 2 || len(name) != 30 {
		t.Errorf("shard/name lengths %d/%d, want 2/30", len(shard), len(name))
	}
	if got := RelativeKey(rel); got != shard+"/"+name {
		t.Errorf("RelativeKey = %q", got)
	}
}

func TestGetOrCreateIdempotent(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	generations := 0
	gen := func() ([]byte, error) {
		generations++
		return []byte("thumbnail-bytes"), nil
	}

	p1, created, err := c.GetOrCreate("a/b.jpg", gen)
	if err != nil {
		t.Fatalf("first GetOrCreate: %v", err)
	}
	if !created {
		t.Error("first call should create")
	}

	p2, created, err := c.GetOrCreate("a/b.jpg", gen)
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if created {
		t.Error("second call should not create")
	}
	if p1 != p2 {
		t.Errorf("paths differ: %q vs %q", p1, p2)
	}
	if generations != 1 {
		t.Errorf("generator ran %d times, want 1", generations)
	}

	data, err := os.ReadFile(p1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("thumbnail-bytes")) {
		t.Errorf("stored bytes %q", data)
	}

	shard, name := Key("a/b.jpg")
	if p1 != filepath.Join(c.Root(), shard, name) {
		t.Errorf("entry at %q, want shard layout", p1)
	}
}

func TestGetOrCreateGenerationFailure(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	genErr := errors.New("boom")
	if _, _, err := c.GetOrCreate("x.jpg", func() ([]byte, error) { return nil, genErr }); !errors.Is(err, genErr) {
		t.Fatalf("expected generation error, got %v", err)
	}
	// A failed generation must not leave an empty entry behind.
	if c.Has("x.jpg") {
		t.Error("failed generation left a cache entry")
	}
}

func TestEnsureShardDirs(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.EnsureShardDirs(); err != nil {
		t.Fatalf("EnsureShardDirs: %v", err)
	}

	entries, err := os.ReadDir(c.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 256 {
		t.Fatalf("expected 256 shard dirs, got %d", len(entries))
	}
	for _, i := range []int{0, 15, 171, 255} {
		name := fmt.Sprintf("%02x", i)
		if info, err := os.Stat(filepath.Join(c.Root(), name)); err != nil || !info.IsDir() {
			t.Errorf("shard %s missing", name)
		}
	}
}

func TestHas(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if c.Has("nope.jpg") {
		t.Error("Has on empty cache")
	}
	if _, _, err := c.GetOrCreate("nope.jpg", func() ([]byte, error) { return []byte("x"), nil }); err != nil {
		t.Fatal(err)
	}
	if !c.Has("nope.jpg") {
		t.Error("Has after create")
	}
}
