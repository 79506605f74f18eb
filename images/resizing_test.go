package images

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestImage() image.Image {
	// Create a simple 100x100 red image.
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 0, A: 255})
		}
	}

	return img
}

func TestDownscale(t *testing.T) {
	out := Downscale(getTestImage(), 16, 12)

	require.Equal(t, image.Rect(0, 0, 16, 12), out.Bounds())
	assert.Equal(t, color.RGBA{R: 255, A: 255}, out.RGBAAt(7, 5))
}

func TestDownscaleOffsetBounds(t *testing.T) {
	src := image.NewRGBA(image.Rect(50, 50, 150, 150))
	src.Set(50, 50, color.RGBA{G: 255, A: 255})

	out := Downscale(src, 10, 10)
	assert.Equal(t, color.RGBA{G: 255, A: 255}, out.RGBAAt(0, 0))
}

func BenchmarkDownscale(b *testing.B) {
	src := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Downscale(src, 160, 120)
	}
}
