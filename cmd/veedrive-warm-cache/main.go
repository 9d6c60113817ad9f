// Command veedrive-warm-cache pre-populates a thumbnail cache for a media
// tree offline, writing the artifacts at the exact locations the live
// server computes.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/BlueBrain/veeone-veedrive/internal/config"
	"github.com/BlueBrain/veeone-veedrive/internal/content"
	"github.com/BlueBrain/veeone-veedrive/internal/logging"
	"github.com/BlueBrain/veeone-veedrive/internal/media"
	"github.com/BlueBrain/veeone-veedrive/internal/sandbox"
	"github.com/BlueBrain/veeone-veedrive/internal/thumbcache"
)

type outcome struct {
	path string
	err  error
	skip bool
}

func main() {
	source := flag.StringP("source", "s", "", "path to the media tree")
	destination := flag.StringP("destination", "d", "", "path to the thumbnail cache")
	workers := flag.IntP("workers", "w", runtime.NumCPU(), "number of concurrent generators")
	report := flag.IntP("report", "r", 0, "report detail: 0 summary, 1 errors, 2 everything")
	toolTimeout := flag.Duration("tool-timeout", 60*time.Second, "timeout per external tool invocation")
	flag.Parse()

	logging.InitDefault()
	defer logging.Sync()

	if *source == "" || *destination == "" {
		fmt.Fprintln(os.Stderr, "both --source and --destination are required")
		flag.Usage()
		os.Exit(2)
	}

	guard, err := sandbox.New(*source)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cache, err := thumbcache.New(*destination)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cache.EnsureShardDirs(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := &config.Config{
		SandboxPath:      guard.Root(),
		ToolTimeout:      *toolTimeout,
		TransformWorkers: *workers,
	}
	resolver := content.NewResolver(guard, cfg, media.NewRunner(*toolTimeout))

	files, err := supportedFiles(guard.Root())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("warming %d thumbnails into %s\n", len(files), cache.Root())

	start := time.Now()
	bar := progressbar.Default(int64(len(files)))

	jobs := make(chan string)
	results := make(chan outcome)
	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rel := range jobs {
				results <- warm(resolver, cache, rel)
			}
		}()
	}
	go func() {
		for _, f := range files {
			jobs <- f
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	var ok, skipped, errored []string
	failures := map[string]error{}
	for res := range results {
		bar.Add(1)
		switch {
		case res.err != nil:
			errored = append(errored, res.path)
			failures[res.path] = res.err
		case res.skip:
			skipped = append(skipped, res.path)
		default:
			ok = append(ok, res.path)
		}
	}

	printReport(*report, ok, skipped, errored, failures)
	fmt.Printf("success: %d, errors: %d, skipped: %d in %s\n",
		len(ok), len(errored), len(skipped), time.Since(start).Round(time.Millisecond))
	if len(errored) > 0 {
		os.Exit(1)
	}
}

func warm(resolver *content.Resolver, cache *thumbcache.Cache, rel string) outcome {
	if cache.Has(rel) {
		return outcome{path: rel, skip: true}
	}
	_, _, err := cache.GetOrCreate(rel, func() ([]byte, error) {
		return resolver.DefaultThumbnail(context.Background(), rel)
	})
	return outcome{path: rel, err: err}
}

// supportedFiles walks the media tree and returns the sandbox-relative
// paths of every file a thumbnail can be generated for.
func supportedFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !media.SupportsThumbnail(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan media tree: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func printReport(level int, ok, skipped, errored []string, failures map[string]error) {
	if level >= 1 && len(errored) > 0 {
		fmt.Println("errored:")
		for _, f := range errored {
			fmt.Printf("  %s: %v\n", f, failures[f])
		}
	}
	if level >= 2 {
		if len(skipped) > 0 {
			fmt.Println("skipped:")
			for _, f := range skipped {
				fmt.Printf("  %s\n", f)
			}
		}
		if len(ok) > 0 {
			fmt.Println("generated:")
			for _, f := range ok {
				fmt.Printf("  %s\n", f)
			}
		}
	}
}
