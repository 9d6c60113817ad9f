package media

import (
	"bytes"
	"context"
	"testing"

	"github.com/disintegration/imaging"
)

func TestDocumentThumbnail(t *testing.T) {
	var page bytes.Buffer
	if err := imaging.Encode(&page, testImage(1000, 1000), imaging.BMP); err != nil {
		t.Fatal(err)
	}
	run := &fakeRunner{gif: page.Bytes()}
	d := NewDocumentTransformer(run)

	data, contentType, err := d.Thumbnail(context.Background(), "/media/paper.pdf", 500, 100, "fit")
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if contentType != "image/jpeg" {
		t.Errorf("content type %q, want image/jpeg", contentType)
	}

	out, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Bounds().Dx() != 100 || out.Bounds().Dy() != 100 {
		t.Errorf("output %dx%d, want 100x100", out.Bounds().Dx(), out.Bounds().Dy())
	}

	call := run.lastCall()
	if call[0] != "convert" {
		t.Fatalf("expected convert, got %v", call)
	}
	if call[len(call)-2] != "/media/paper.pdf[0]" {
		t.Errorf("expected first-page selector, got %v", call)
	}
	if call[len(call)-1] != "bmp:-" {
		t.Errorf("expected bmp on stdout, got %v", call)
	}
}
