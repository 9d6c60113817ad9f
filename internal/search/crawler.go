// Package search runs background filename searches over the sandbox. A
// search is started once, polled by id while it walks the tree, and its
// result is handed over exactly once when done.
package search

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BlueBrain/veeone-veedrive/internal/logging"
	"github.com/BlueBrain/veeone-veedrive/internal/metrics"
	"github.com/BlueBrain/veeone-veedrive/internal/sandbox"
)

// Status of a search job as reported to clients.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
)

// FileMatch is a matched file, named by its sandbox-relative path.
type FileMatch struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Result is a point-in-time snapshot of a job. While the job is RUNNING the
// lists are partial; the DONE snapshot is final and returned only once.
type Result struct {
	Status      Status      `json:"status"`
	Files       []FileMatch `json:"files"`
	Directories []string    `json:"directories"`
}

type job struct {
	id         string
	cancel     context.CancelFunc
	status     Status
	files      []FileMatch
	dirs       []string
	startedAt  time.Time
	finishedAt time.Time
}

// Crawler owns the registry of search jobs. One mutex guards the registry
// and every job's fields; workers take it briefly per directory to publish
// their batch of matches.
type Crawler struct {
	guard         *sandbox.Guard
	keepFinished  time.Duration
	workerTimeout time.Duration

	mu   sync.Mutex
	jobs map[string]*job
}

func New(guard *sandbox.Guard, keepFinished, workerTimeout time.Duration) *Crawler {
	return &Crawler{
		guard:         guard,
		keepFinished:  keepFinished,
		workerTimeout: workerTimeout,
		jobs:          make(map[string]*job),
	}
}

// Start registers a search for name under startingPath and returns the
// search id. The id derives from the absolute starting path, so repeating a
// search over the same directory reuses the job already in flight.
func (c *Crawler) Start(ctx context.Context, name, startingPath string) (string, error) {
	abs, _, err := c.guard.Resolve(startingPath, sandbox.TypeDir)
	if err != nil {
		return "", err
	}

	re, err := regexp.Compile("(?i)" + name)
	if err != nil {
		// An invalid pattern still searches, as a literal.
		re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(name))
	}

	sum := md5.Sum([]byte(abs))
	id := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[id]; ok {
		return id, nil
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job{
		id:        id,
		cancel:    cancel,
		status:    StatusRunning,
		files:     []FileMatch{},
		dirs:      []string{},
		startedAt: time.Now(),
	}
	c.jobs[id] = j
	metrics.SetSearchesActive(len(c.jobs))

	go c.worker(jobCtx, j, abs, re)
	return id, nil
}

// Fetch returns the current snapshot for a search id. Fetching a DONE job
// removes it, so the final result is delivered exactly once.
func (c *Crawler) Fetch(id string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: search %s", sandbox.ErrNotFound, id)
	}

	res := &Result{
		Status:      j.status,
		Files:       append([]FileMatch{}, j.files...),
		Directories: append([]string{}, j.dirs...),
	}
	if j.status == StatusDone {
		delete(c.jobs, id)
		metrics.SetSearchesActive(len(c.jobs))
	}
	return res, nil
}

// RunPurgeLoop reclaims abandoned jobs until ctx is canceled: finished jobs
// nobody fetched within keepFinished, and runaway workers past
// workerTimeout.
func (c *Crawler) RunPurgeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.purge(now)
		}
	}
}

func (c *Crawler) purge(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, j := range c.jobs {
		switch {
		case j.status == StatusDone && now.Sub(j.finishedAt) > c.keepFinished:
			delete(c.jobs, id)
			metrics.RecordSearchPurged("expired")
			logging.Debug("purged finished search", zap.String("id", id))
		case j.status == StatusRunning && now.Sub(j.startedAt) > c.workerTimeout:
			j.cancel()
			delete(c.jobs, id)
			metrics.RecordSearchPurged("timeout")
			logging.Warn("canceled runaway search", zap.String("id", id))
		}
	}
	metrics.SetSearchesActive(len(c.jobs))
}

func (c *Crawler) worker(ctx context.Context, j *job, root string, re *regexp.Regexp) {
	err := c.crawl(ctx, j, root, re)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		// Canceled by the purge loop; the job entry is already gone.
		return
	}
	j.status = StatusDone
	j.finishedAt = time.Now()
}

// crawl visits one directory, publishes its matches and recurses.
// Cancellation is checked at directory boundaries, so a cancel takes effect
// before the next ReadDir rather than mid-listing.
func (c *Crawler) crawl(ctx context.Context, j *job, dir string, re *regexp.Regexp) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		// Unreadable directories are skipped, not fatal.
		logging.Debug("skipping unreadable directory", zap.String("dir", dir), zap.Error(err))
		return nil
	}

	var files []FileMatch
	var dirs []string
	var subdirs []string
	for _, e := range entries {
		abs := filepath.Join(dir, e.Name())
		if e.IsDir() {
			subdirs = append(subdirs, abs)
		}
		if !re.MatchString(e.Name()) {
			continue
		}
		rel, err := c.guard.Relative(abs)
		if err != nil {
			continue
		}
		if e.IsDir() {
			dirs = append(dirs, rel)
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileMatch{Name: rel, Size: info.Size()})
	}

	if len(files) > 0 || len(dirs) > 0 {
		c.mu.Lock()
		j.files = append(j.files, files...)
		j.dirs = append(j.dirs, dirs...)
		c.mu.Unlock()
	}

	for _, sub := range subdirs {
		if err := c.crawl(ctx, j, sub, re); err != nil {
			return err
		}
	}
	return nil
}
