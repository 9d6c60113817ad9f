package media

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// DocumentTransformer renders the first page of a document with
// ImageMagick and reuses the image pipeline for scaling and encoding.
type DocumentTransformer struct {
	run Runner
}

func NewDocumentTransformer(run Runner) *DocumentTransformer {
	return &DocumentTransformer{run: run}
}

// Thumbnail rasterizes page one of the document at path and returns it as a
// JPEG scaled into the box.
func (d *DocumentTransformer) Thumbnail(ctx context.Context, path string, boxWidth, boxHeight int, mode string) ([]byte, string, error) {
	// [0] selects the first page; the white background flattens the
	// transparency PDFs usually carry.
	out, err := d.run.Run(ctx, "convert",
		"-background", "white",
		"-alpha", "remove",
		path+"[0]",
		"bmp:-",
	)
	if err != nil {
		return nil, "", err
	}

	img, err := imaging.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", ErrDecode, filepath.Base(path), err)
	}
	resized, err := Resize(img, boxWidth, boxHeight, mode)
	if err != nil {
		return nil, "", err
	}
	return Encode(resized, ".jpg")
}
