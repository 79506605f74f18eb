// Package images - Encoder input preparation.
package images

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"gorgonia.org/tensor"
)

// EncoderSize is the square side length the image encoder expects.
const EncoderSize = 1024

// Preprocess stretches img to EncoderSize x EncoderSize without preserving aspect ratio and writes
// it as planar CHW float32 in R, G, B order with every value scaled into [0, 1]. Values are the
// straight (non-premultiplied) color bytes divided by 255; alpha is ignored.
//
// Arguments:
//   - img: The image to prepare.
//
// Returns:
//   - []float32: A buffer of exactly 3*EncoderSize*EncoderSize values.
//   - error: An error if the image is empty.
func Preprocess(img image.Image) ([]float32, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("cannot preprocess an empty image")
	}

	data := make([]float32, 3*EncoderSize*EncoderSize)
	channelSize := EncoderSize * EncoderSize
	red := data[0:channelSize]
	green := data[channelSize : channelSize*2]
	blue := data[channelSize*2 : channelSize*3]

	resized := resize.Resize(EncoderSize, EncoderSize, opaqueNRGBA(img), resize.Bilinear)
	rgba, ok := resized.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(image.Rect(0, 0, EncoderSize, EncoderSize))
		draw.Draw(rgba, rgba.Bounds(), resized, resized.Bounds().Min, draw.Src)
	}

	i := 0
	for y := 0; y < EncoderSize; y++ {
		row := rgba.Pix[rgba.PixOffset(rgba.Rect.Min.X, rgba.Rect.Min.Y+y):]
		for x := 0; x < EncoderSize; x++ {
			red[i] = float32(row[4*x]) / 255.0
			green[i] = float32(row[4*x+1]) / 255.0
			blue[i] = float32(row[4*x+2]) / 255.0
			i++
		}
	}
	return data, nil
}

// opaqueNRGBA copies img into non-premultiplied RGBA with every alpha set to 255, so resizing
// keeps the straight color bytes of semi-transparent pixels.
func opaqueNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			start := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src.Pix[start:start+4*b.Dx()])
		}
	} else {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	}
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 255
	}
	return dst
}

// ToTensor preprocesses img and wraps the buffer as a [1, 3, EncoderSize, EncoderSize] tensor.
func ToTensor(img image.Image) (*tensor.Dense, error) {
	data, err := Preprocess(img)
	if err != nil {
		return nil, err
	}
	return tensor.New(
		tensor.WithShape(1, 3, EncoderSize, EncoderSize),
		tensor.WithBacking(data),
	), nil
}
