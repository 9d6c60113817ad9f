package search

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BlueBrain/veeone-veedrive/internal/sandbox"
)

func newTestCrawler(t *testing.T) (*Crawler, *sandbox.Guard, string) {
	t.Helper()
	root := t.TempDir()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(os.MkdirAll(filepath.Join(root, "movies", "bbb"), 0o755))
	must(os.WriteFile(filepath.Join(root, "movies", "bbb_vertical.mp4"), []byte("12345"), 0o644))
	must(os.WriteFile(filepath.Join(root, "movies", "bbb", "bbb_clip.avi"), []byte("123"), 0o644))
	must(os.WriteFile(filepath.Join(root, "movies", "bbb", "other.mp4"), []byte("123"), 0o644))
	must(os.WriteFile(filepath.Join(root, "chess.jpg"), []byte("1"), 0o644))

	g, err := sandbox.New(root)
	if err != nil {
		t.Fatal(err)
	}
	return New(g, time.Minute, time.Minute), g, root
}

func waitDone(t *testing.T, c *Crawler, id string) *Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, err := c.Fetch(id)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if res.Status == StatusDone {
			return res
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("search did not finish")
	return nil
}

func TestSearchFindsMatches(t *testing.T) {
	c, _, _ := newTestCrawler(t)

	id, err := c.Start(context.Background(), "bbb", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	res := waitDone(t, c, id)
	if len(res.Files) != 2 {
		t.Errorf("expected 2 matched files, got %v", res.Files)
	}
	if len(res.Directories) != 1 || res.Directories[0] != "movies/bbb" {
		t.Errorf("expected matched directory movies/bbb, got %v", res.Directories)
	}
	for _, f := range res.Files {
		if f.Size == 0 {
			t.Errorf("match %s has no size", f.Name)
		}
	}
}

func TestSearchIDFromStartingPath(t *testing.T) {
	c, _, root := newTestCrawler(t)

	id, err := c.Start(context.Background(), "chess", "")
	if err != nil {
		t.Fatal(err)
	}
	sum := md5.Sum([]byte(root))
	if want := hex.EncodeToString(sum[:]); id != want {
		t.Errorf("id = %s, want md5 of starting path %s", id, want)
	}

	// Repeating a search from the same root reuses the in-flight job.
	again, err := c.Start(context.Background(), "different-query", "")
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("expected same id for same root, got %s", again)
	}
}

func TestSearchReadAndClear(t *testing.T) {
	c, _, _ := newTestCrawler(t)

	id, err := c.Start(context.Background(), "chess", "")
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, c, id)

	if _, err := c.Fetch(id); !errors.Is(err, sandbox.ErrNotFound) {
		t.Errorf("second fetch after DONE: expected ErrNotFound, got %v", err)
	}
}

func TestSearchUnknownID(t *testing.T) {
	c, _, _ := newTestCrawler(t)

	if _, err := c.Fetch("deadbeef"); !errors.Is(err, sandbox.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchRejectsBadStartingPath(t *testing.T) {
	c, _, _ := newTestCrawler(t)

	if _, err := c.Start(context.Background(), "x", "no-such-dir"); !errors.Is(err, sandbox.ErrNotFound) {
		t.Errorf("missing dir: expected ErrNotFound, got %v", err)
	}
	if _, err := c.Start(context.Background(), "x", "chess.jpg"); !errors.Is(err, sandbox.ErrWrongType) {
		t.Errorf("file as starting path: expected ErrWrongType, got %v", err)
	}
	if _, err := c.Start(context.Background(), "x", "../elsewhere"); !errors.Is(err, sandbox.ErrOutsideSandbox) {
		t.Errorf("escape: expected ErrOutsideSandbox, got %v", err)
	}
}

func TestSearchScopedToStartingPath(t *testing.T) {
	c, _, _ := newTestCrawler(t)

	id, err := c.Start(context.Background(), "chess", "movies")
	if err != nil {
		t.Fatal(err)
	}
	res := waitDone(t, c, id)
	if len(res.Files) != 0 || len(res.Directories) != 0 {
		t.Errorf("chess must not match under movies/, got %v %v", res.Files, res.Directories)
	}
}

func TestPurgeExpiredResult(t *testing.T) {
	c, _, _ := newTestCrawler(t)
	c.keepFinished = time.Millisecond

	id, err := c.Start(context.Background(), "chess", "")
	if err != nil {
		t.Fatal(err)
	}

	// Wait for completion without fetching, then sweep.
	deadline := time.Now().Add(5 * time.Second)
	for {
		c.mu.Lock()
		status := c.jobs[id].status
		c.mu.Unlock()
		if status == StatusDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("search did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.purge(time.Now().Add(time.Hour))
	if _, err := c.Fetch(id); !errors.Is(err, sandbox.ErrNotFound) {
		t.Errorf("expected purged job, got %v", err)
	}
}

func TestPurgeRunawayWorker(t *testing.T) {
	c, _, _ := newTestCrawler(t)

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.jobs["stuck"] = &job{
		id:        "stuck",
		cancel:    cancel,
		status:    StatusRunning,
		startedAt: time.Now().Add(-2 * time.Minute),
	}
	c.mu.Unlock()

	c.purge(time.Now())

	if _, err := c.Fetch("stuck"); !errors.Is(err, sandbox.ErrNotFound) {
		t.Errorf("expected runaway job removed, got %v", err)
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("runaway worker was not canceled")
	}
}
