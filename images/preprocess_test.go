package images

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocessLengthAndRange(t *testing.T) {
	sizes := []image.Rectangle{
		image.Rect(0, 0, 640, 480),
		image.Rect(0, 0, 1024, 1024),
		image.Rect(0, 0, 3, 2000),
	}

	for _, r := range sizes {
		img := image.NewRGBA(r)
		for i := range img.Pix {
			img.Pix[i] = uint8(i % 256)
		}

		data, err := Preprocess(img)
		require.NoError(t, err)
		require.Len(t, data, 3*EncoderSize*EncoderSize)
		for _, v := range data {
			if v < 0 || v > 1 {
				t.Fatalf("value %f out of range for %v", v, r)
			}
		}
	}
}

func TestPreprocessPlanarLayout(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 51, A: 255})
		}
	}

	data, err := Preprocess(img)
	require.NoError(t, err)

	plane := EncoderSize * EncoderSize
	for _, i := range []int{0, plane / 2, plane - 1} {
		assert.InDelta(t, 1.0, data[i], 0.01)
		assert.InDelta(t, 0.0, data[plane+i], 0.01)
		assert.InDelta(t, 0.2, data[2*plane+i], 0.01)
	}
}

func TestPreprocessIgnoresAlpha(t *testing.T) {
	translucent := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for i := 0; i < len(translucent.Pix); i += 4 {
		translucent.Pix[i], translucent.Pix[i+1], translucent.Pix[i+2], translucent.Pix[i+3] = 200, 100, 50, 64
	}

	data, err := Preprocess(translucent)
	require.NoError(t, err)

	plane := EncoderSize * EncoderSize
	for _, i := range []int{0, plane / 3, plane - 1} {
		assert.InDelta(t, 200.0/255, data[i], 1.0/255)
		assert.InDelta(t, 100.0/255, data[plane+i], 1.0/255)
		assert.InDelta(t, 50.0/255, data[2*plane+i], 1.0/255)
	}
}

func TestPreprocessSubImage(t *testing.T) {
	full := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			c := color.NRGBA{A: 255}
			if x >= 32 {
				c.G = 255
			}
			full.SetNRGBA(x, y, c)
		}
	}

	data, err := Preprocess(full.SubImage(image.Rect(32, 0, 64, 64)))
	require.NoError(t, err)

	plane := EncoderSize * EncoderSize
	assert.InDelta(t, 0.0, data[0], 0.01)
	assert.InDelta(t, 1.0, data[plane], 0.01)
	assert.InDelta(t, 1.0, data[2*plane-1], 0.01)
}

func TestPreprocessEmpty(t *testing.T) {
	_, err := Preprocess(image.NewRGBA(image.Rectangle{}))
	assert.Error(t, err)
}

func TestToTensorShape(t *testing.T) {
	dense, err := ToTensor(getTestImage())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, EncoderSize, EncoderSize}, []int(dense.Shape()))
}
