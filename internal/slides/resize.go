package slides

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// maxSlideDimension bounds the longer edge of an uploaded slide image.
// Larger uploads cost more without improving extraction quality.
const maxSlideDimension = 1024

// encodePNG downscales img so that neither dimension exceeds
// maxSlideDimension and returns it PNG-encoded.
func encodePNG(img image.Image) ([]byte, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if w > maxSlideDimension || h > maxSlideDimension {
		scale := float64(maxSlideDimension) / float64(w)
		if h > w {
			scale = float64(maxSlideDimension) / float64(h)
		}
		dw := int(float64(w) * scale)
		dh := int(float64(h) * scale)
		if dw < 1 {
			dw = 1
		}
		if dh < 1 {
			dh = 1
		}

		dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode slide image: %w", err)
	}
	return buf.Bytes(), nil
}
