// Package masks converts decoder logits into binary masks and crops source images with them.
package masks

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// On is the value of a pixel inside a mask. Every other pixel is zero.
const On = 255

// Threshold is the logit above which a pixel belongs to the mask.
const Threshold = 0.0

// Binarize splits a [1, M, H, W] logit tensor into M binary masks. A pixel is On when its logit
// is strictly greater than Threshold.
//
// Arguments:
//   - logits: The decoder mask output.
//
// Returns:
//   - []*image.Gray: One mask per channel, in channel order.
//   - error: An error if the tensor is not a 4D float32 tensor with a batch of one.
func Binarize(logits *tensor.Dense) ([]*image.Gray, error) {
	shape := logits.Shape()
	if len(shape) != 4 || shape[0] != 1 {
		return nil, errors.Errorf("expected mask tensor of shape [1,M,H,W], got %v", shape)
	}
	data, ok := logits.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("expected float32 mask tensor, got %v", logits.Dtype())
	}

	count, height, width := shape[1], shape[2], shape[3]
	plane := height * width
	out := make([]*image.Gray, count)
	for m := 0; m < count; m++ {
		mask := image.NewGray(image.Rect(0, 0, width, height))
		channel := data[m*plane : (m+1)*plane]
		for i, v := range channel {
			if v > Threshold {
				mask.Pix[i] = On
			}
		}
		out[m] = mask
	}
	return out, nil
}

// Bounds returns the tight bounding box of the On pixels, in mask coordinates.
//
// Returns:
//   - image.Rectangle: The bounding box, Max exclusive.
//   - bool: False when the mask is empty.
func Bounds(mask *image.Gray) (image.Rectangle, bool) {
	b := mask.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1

	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := mask.Pix[(y-b.Min.Y)*mask.Stride:]
		for x := b.Min.X; x < b.Max.X; x++ {
			if row[x-b.Min.X] == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if maxX < minX {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// Area counts the On pixels of a mask.
func Area(mask *image.Gray) int {
	n := 0
	for _, v := range mask.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Crop cuts src down to the mask's bounding box, scaled from mask space to image space. Pixels
// outside the mask become fully transparent.
//
// Arguments:
//   - src: The source image the mask was predicted for.
//   - mask: The binary mask, possibly at a different resolution than src.
//
// Returns:
//   - *image.NRGBA: The crop, or nil for an empty mask.
func Crop(src image.Image, mask *image.Gray) *image.NRGBA {
	box, ok := Bounds(mask)
	if !ok {
		return nil
	}

	sb := src.Bounds()
	mb := mask.Bounds()
	sx := float64(sb.Dx()) / float64(mb.Dx())
	sy := float64(sb.Dy()) / float64(mb.Dy())

	region := image.Rect(
		sb.Min.X+int(float64(box.Min.X-mb.Min.X)*sx),
		sb.Min.Y+int(float64(box.Min.Y-mb.Min.Y)*sy),
		sb.Min.X+ceil(float64(box.Max.X-mb.Min.X)*sx),
		sb.Min.Y+ceil(float64(box.Max.Y-mb.Min.Y)*sy),
	).Intersect(sb)
	if region.Empty() {
		return nil
	}

	out := image.NewNRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	for y := region.Min.Y; y < region.Max.Y; y++ {
		my := mb.Min.Y + clamp(int(float64(y-sb.Min.Y)/sy), mb.Dy()-1)
		for x := region.Min.X; x < region.Max.X; x++ {
			mx := mb.Min.X + clamp(int(float64(x-sb.Min.X)/sx), mb.Dx()-1)
			if mask.GrayAt(mx, my).Y == 0 {
				continue
			}
			out.Set(x-region.Min.X, y-region.Min.Y, color.NRGBAModel.Convert(src.At(x, y)))
		}
	}
	return out
}

// CropAll crops src with every mask. The result is index-aligned with masks; empty masks yield
// nil entries.
func CropAll(src image.Image, masks []*image.Gray) []*image.NRGBA {
	out := make([]*image.NRGBA, len(masks))
	for i, mask := range masks {
		out[i] = Crop(src, mask)
	}
	return out
}

// Best returns the index of the best-scoring non-empty mask, breaking ties by area.
//
// Returns:
//   - int: The index into masks and scores.
//   - bool: False when there is no non-empty mask.
func Best(masks []*image.Gray, scores []float32) (int, bool) {
	best, bestArea := -1, 0
	for i, mask := range masks {
		area := Area(mask)
		if area == 0 || i >= len(scores) {
			continue
		}
		if best < 0 || scores[i] > scores[best] || (scores[i] == scores[best] && area > bestArea) {
			best, bestArea = i, area
		}
	}
	return best, best >= 0
}

func ceil(v float64) int {
	i := int(v)
	if float64(i) < v {
		i++
	}
	return i
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
