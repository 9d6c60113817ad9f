// Package content answers the protocol-level questions about files in the
// sandbox: how to describe them to clients and how to turn them into
// thumbnails and scaled renditions.
package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BlueBrain/veeone-veedrive/internal/config"
	"github.com/BlueBrain/veeone-veedrive/internal/media"
	"github.com/BlueBrain/veeone-veedrive/internal/metrics"
	"github.com/BlueBrain/veeone-veedrive/internal/sandbox"
)

var (
	// ErrBadRequest flags invalid transform parameters before any work
	// happens.
	ErrBadRequest = errors.New("invalid request parameter")
	// ErrUnsupportedType flags a transform request for a file type no
	// transformer handles.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Descriptor is the client-facing description of a sandbox file.
type Descriptor struct {
	URL       string  `json:"url"`
	Thumbnail *string `json:"thumbnail"`
	Size      int64   `json:"size"`
	Scaled    string  `json:"scaled,omitempty"`
}

// ClientSize is the optional display size a client announces when
// requesting an image, turned into a pre-scaled rendition URL.
type ClientSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DirListing holds the immediate children of a sandbox directory.
type DirListing struct {
	Directories []string    `json:"directories"`
	Files       []FileEntry `json:"files"`
}

type FileEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Resolver implements the content operations. Transform work is throttled
// through a fixed-size gate so a burst of thumbnail requests cannot occupy
// every core.
type Resolver struct {
	guard *sandbox.Guard
	cfg   *config.Config
	video *media.VideoTransformer
	doc   *media.DocumentTransformer
	gate  chan struct{}
}

func NewResolver(guard *sandbox.Guard, cfg *config.Config, run media.Runner) *Resolver {
	workers := cfg.TransformWorkers
	if workers < 1 {
		workers = 1
	}
	return &Resolver{
		guard: guard,
		cfg:   cfg,
		video: media.NewVideoTransformer(run),
		doc:   media.NewDocumentTransformer(run),
		gate:  make(chan struct{}, workers),
	}
}

// DescribeFile resolves path and returns its serving URLs and size.
func (r *Resolver) DescribeFile(path string) (*Descriptor, error) {
	rel := r.guard.Normalize(path)
	_, info, err := r.guard.Resolve(rel, sandbox.TypeFile)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		URL:  r.cfg.StaticContentURL + "/" + rel,
		Size: info.Size(),
	}
	if media.SupportsThumbnail(rel) {
		thumb := r.cfg.ContentURL + "/thumb/" + rel
		d.Thumbnail = &thumb
	}
	return d, nil
}

// DescribeImage is DescribeFile plus, when the client announced its display
// size, a URL for a server-side scaled rendition.
func (r *Resolver) DescribeImage(path string, size *ClientSize) (*Descriptor, error) {
	d, err := r.DescribeFile(path)
	if err != nil {
		return nil, err
	}
	if size != nil && size.Width > 0 && size.Height > 0 {
		rel := r.guard.Normalize(path)
		d.Scaled = fmt.Sprintf("%s/scaled/%s?width=%d&height=%d", r.cfg.ContentURL, rel, size.Width, size.Height)
	}
	return d, nil
}

// ListDirectory returns the immediate children of a sandbox directory,
// names sorted, subdirectories and files separately.
func (r *Resolver) ListDirectory(path string) (*DirListing, error) {
	abs, _, err := r.guard.Resolve(path, sandbox.TypeDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", sandbox.ErrPermission, path)
	}

	listing := &DirListing{Directories: []string{}, Files: []FileEntry{}}
	for _, e := range entries {
		if e.IsDir() {
			listing.Directories = append(listing.Directories, e.Name())
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		listing.Files = append(listing.Files, FileEntry{Name: e.Name(), Size: info.Size()})
	}
	sort.Strings(listing.Directories)
	sort.Slice(listing.Files, func(i, j int) bool { return listing.Files[i].Name < listing.Files[j].Name })
	return listing, nil
}

// Thumbnail renders a preview of the file at path into the given box. The
// output codec depends on the media kind: JPEG for images and documents,
// animated GIF for videos.
func (r *Resolver) Thumbnail(ctx context.Context, path string, boxWidth, boxHeight int, mode string) ([]byte, string, error) {
	if err := validateBox(boxWidth, boxHeight, mode); err != nil {
		return nil, "", err
	}
	abs, _, err := r.guard.Resolve(path, sandbox.TypeFile)
	if err != nil {
		return nil, "", err
	}

	kind := media.KindFor(abs)
	if kind == media.KindNone {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(path))
	}
	if err := r.acquire(ctx); err != nil {
		return nil, "", err
	}
	defer r.release()

	start := time.Now()
	var data []byte
	var contentType string
	switch kind {
	case media.KindImage:
		data, contentType, err = media.ResizeFile(abs, boxWidth, boxHeight, mode, ".jpg")
	case media.KindVideo:
		data, err = r.video.Thumbnail(ctx, abs, boxWidth, boxHeight, mode)
		contentType = "image/gif"
	case media.KindDocument:
		data, contentType, err = r.doc.Thumbnail(ctx, abs, boxWidth, boxHeight, mode)
	}
	metrics.RecordThumbnail(kind.String(), time.Since(start), err)
	return data, contentType, err
}

// ScaledImage renders the image at path scaled into the box, keeping the
// original encoding. Only still images are eligible.
func (r *Resolver) ScaledImage(ctx context.Context, path string, boxWidth, boxHeight int, mode string) ([]byte, string, error) {
	if err := validateBox(boxWidth, boxHeight, mode); err != nil {
		return nil, "", err
	}
	abs, _, err := r.guard.Resolve(path, sandbox.TypeFile)
	if err != nil {
		return nil, "", err
	}
	if media.KindFor(abs) != media.KindImage {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(path))
	}
	if err := r.acquire(ctx); err != nil {
		return nil, "", err
	}
	defer r.release()

	return media.ResizeFile(abs, boxWidth, boxHeight, mode, strings.ToLower(filepath.Ext(abs)))
}

// DefaultThumbnail renders the canonical cacheable preview, fixed at the
// default box in fit mode so every cache entry is reproducible from the
// path alone.
func (r *Resolver) DefaultThumbnail(ctx context.Context, path string) ([]byte, error) {
	data, _, err := r.Thumbnail(ctx, path, config.DefaultThumbnailWidth, config.DefaultThumbnailHeight, config.ScalingFit)
	return data, err
}

// Guard exposes the path guard for collaborators that resolve paths
// themselves.
func (r *Resolver) Guard() *sandbox.Guard {
	return r.guard
}

func (r *Resolver) acquire(ctx context.Context) error {
	select {
	case r.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Resolver) release() {
	<-r.gate
}

func validateBox(boxWidth, boxHeight int, mode string) error {
	if boxWidth <= 0 || boxHeight <= 0 {
		return fmt.Errorf("%w: box %dx%d", ErrBadRequest, boxWidth, boxHeight)
	}
	if mode != config.ScalingFit && mode != config.ScalingFill {
		return fmt.Errorf("%w: scaling mode %q", ErrBadRequest, mode)
	}
	return nil
}
