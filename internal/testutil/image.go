// Package testutil provides synthetic image generation for tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// NewGradientImage creates a deterministic test image of the given size.
// Pixel values derive from coordinates, so two images of equal size are
// always identical.
func NewGradientImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8((x * 255) / max(width, 1)),
				G: uint8((y * 255) / max(height, 1)),
				B: uint8(((x + y) * 255) / max(width+height, 1)),
				A: 255,
			})
		}
	}
	return img
}

// EncodePNG encodes an image to PNG bytes, failing the test on error.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// NewPNG creates a deterministic PNG byte buffer of the given size.
func NewPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	return EncodePNG(t, NewGradientImage(width, height))
}
