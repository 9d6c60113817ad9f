// Package thumbcache stores generated thumbnails on disk, keyed by the MD5
// of the sandbox-relative path and sharded over 256 directories so a large
// media tree does not pile every entry into one folder.
package thumbcache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BlueBrain/veeone-veedrive/internal/metrics"
)

// Generator produces the thumbnail bytes for a cache miss.
type Generator func() ([]byte, error)

// Cache is safe for concurrent use. Writes go through a temp file and an
// atomic rename, so concurrent misses on the same key race harmlessly.
type Cache struct {
	root string
}

// New opens (creating if needed) a cache rooted at dir.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{root: dir}, nil
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	return c.root
}

// EnsureShardDirs pre-creates the 256 shard directories so request handlers
// never have to.
func (c *Cache) EnsureShardDirs() error {
	for i := 0; i < 256; i++ {
		if err := os.MkdirAll(filepath.Join(c.root, fmt.Sprintf("%02x", i)), 0o755); err != nil {
			return fmt.Errorf("create shard dir: %w", err)
		}
	}
	return nil
}

// Key returns the cache key for a sandbox-relative path, split into the
// shard directory (first two hex digits) and the file name (the rest).
func Key(relPath string) (shard, name string) {
	sum := md5.Sum([]byte(relPath))
	h := hex.EncodeToString(sum[:])
	return h[:2], h[2:]
}

// RelativeKey returns the key as a slash-joined path fragment, the form
// embedded in redirect URLs.
func RelativeKey(relPath string) string {
	shard, name := Key(relPath)
	return shard + "/" + name
}

// Path returns the on-disk location of the entry for relPath, whether or
// not it exists yet.
func (c *Cache) Path(relPath string) string {
	shard, name := Key(relPath)
	return filepath.Join(c.root, shard, name)
}

// Has reports whether an entry for relPath is already cached.
func (c *Cache) Has(relPath string) bool {
	_, err := os.Stat(c.Path(relPath))
	return err == nil
}

// GetOrCreate returns the on-disk path of the cached thumbnail for relPath,
// invoking gen to populate it on a miss. created reports whether gen ran.
func (c *Cache) GetOrCreate(relPath string, gen Generator) (path string, created bool, err error) {
	path = c.Path(relPath)
	if _, err := os.Stat(path); err == nil {
		metrics.RecordCacheLookup(true)
		return path, false, nil
	}
	metrics.RecordCacheLookup(false)

	data, err := gen()
	if err != nil {
		return "", false, err
	}
	if err := c.write(path, data); err != nil {
		return "", false, err
	}
	return path, true, nil
}

func (c *Cache) write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".thumb-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write thumbnail: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish thumbnail: %w", err)
	}
	return nil
}
