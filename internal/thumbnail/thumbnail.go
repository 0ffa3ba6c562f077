// Package thumbnail renders preview images for worker-produced media.
// Generation is strictly best-effort: callers log and count failures
// but never fail the owning job over them.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

const (
	maxWidth  = 300
	maxHeight = 300
	quality   = 80
)

// ContentType is the MIME type of every generated thumbnail.
const ContentType = "image/webp"

// SupportedMime reports whether the source MIME type can be thumbnailed.
func SupportedMime(mime string) bool {
	switch mime {
	case "image/jpeg", "image/png", "image/gif", "image/bmp", "image/tiff", "image/webp":
		return true
	default:
		return false
	}
}

// Generate decodes the source image and returns a WebP preview bounded
// by 300x300 with the aspect ratio preserved. Images already inside the
// bounds are re-encoded without scaling.
func Generate(src []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("thumbnail: decode: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxWidth || bounds.Dy() > maxHeight {
		img = imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)
	}

	return encode(img)
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("thumbnail: encode webp: %w", err)
	}
	return buf.Bytes(), nil
}
