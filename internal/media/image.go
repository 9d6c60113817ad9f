package media

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/BlueBrain/veeone-veedrive/internal/config"
)

// ResizeFile loads the image at path, applies the EXIF orientation, scales
// it into the box and encodes it for targetExt. targetExt decides the output
// codec, not the input one: thumbnails of any supported image are encoded as
// JPEG, while scaled images keep their original extension.
func ResizeFile(path string, boxWidth, boxHeight int, mode, targetExt string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", ErrDecode, filepath.Base(path), err)
	}
	img = applyOrientation(img, orientationOf(data))

	resized, err := Resize(img, boxWidth, boxHeight, mode)
	if err != nil {
		return nil, "", err
	}
	return Encode(resized, targetExt)
}

// Resize scales img into the (boxWidth, boxHeight) box. Images already
// smaller than the box on either axis are returned untouched, never
// upscaled. Mode "fit" preserves the whole image inside the box, "fill"
// covers the box and center-crops the overflow.
func Resize(img image.Image, boxWidth, boxHeight int, mode string) (image.Image, error) {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	if boxHeight > h || boxWidth > w {
		return img, nil
	}

	switch mode {
	case config.ScalingFit:
		reqAspect := float64(boxWidth) / float64(boxHeight)
		imgAspect := float64(w) / float64(h)
		var tw, th int
		if reqAspect > imgAspect {
			tw = int(math.Round(float64(boxHeight) * imgAspect))
			th = boxHeight
		} else {
			tw = boxWidth
			th = int(math.Round(float64(boxWidth) / imgAspect))
		}
		return imaging.Resize(img, tw, th, imaging.Lanczos), nil
	case config.ScalingFill:
		ratio := math.Max(float64(boxWidth)/float64(w), float64(boxHeight)/float64(h))
		sw := int(math.Round(float64(w) * ratio))
		sh := int(math.Round(float64(h) * ratio))
		scaled := imaging.Resize(img, sw, sh, imaging.Lanczos)
		return imaging.CropCenter(scaled, boxWidth, boxHeight), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadScalingMode, mode)
	}
}

// Encode serializes img for the given file extension and returns the bytes
// together with the content type.
func Encode(img image.Image, targetExt string) ([]byte, string, error) {
	targetExt = strings.ToLower(targetExt)
	var buf bytes.Buffer
	switch {
	case contains(jpegEncodeTargets, targetExt):
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
			return nil, "", fmt.Errorf("encode jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	case contains(pngEncodeTargets, targetExt):
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, "", fmt.Errorf("encode png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, targetExt)
	}
}

// orientationOf extracts the EXIF orientation tag, defaulting to 1 (upright)
// when the image carries no EXIF block.
func orientationOf(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
