// Package media implements the thumbnail and scaling transforms for the
// supported media types. Images are processed in-process, videos and
// documents go through external tools behind a Runner.
package media

import (
	"errors"
	"path/filepath"
	"strings"
)

// Kind is the transform capability resolved once from a file extension.
type Kind int

const (
	KindNone Kind = iota
	KindImage
	KindVideo
	KindDocument
)

// Extension tables. These mirror the wire-level contract of the thumbnail
// endpoints and must not grow without coordinating with the clients.
var (
	imageExtensions = []string{".png", ".jpg", ".gif", ".tiff"}
	videoExtensions = []string{".avi", ".mp4"}

	jpegEncodeTargets = []string{".jpg", ".tiff"}
	pngEncodeTargets  = []string{".png"}
)

// Transform errors.
var (
	ErrUnsupportedEncoding = errors.New("unsupported target encoding")
	ErrBadScalingMode      = errors.New("unsupported scaling mode")
	ErrDecode              = errors.New("cannot decode media")
	ErrTool                = errors.New("external tool failed")
)

// KindFor resolves the transform capability for a path by extension.
func KindFor(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	if contains(imageExtensions, ext) {
		return KindImage
	}
	if contains(videoExtensions, ext) {
		return KindVideo
	}
	if ext == ".pdf" {
		return KindDocument
	}
	return KindNone
}

// SupportsThumbnail reports whether a preview can be generated for path.
func SupportsThumbnail(path string) bool {
	return KindFor(path) != KindNone
}

// String returns the metric label for a kind.
func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindDocument:
		return "document"
	default:
		return "none"
	}
}

func contains(list []string, ext string) bool {
	for _, e := range list {
		if e == ext {
			return true
		}
	}
	return false
}
