package images

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"golang.org/x/image/draw"
)

// Downscale resizes img to exactly width x height with nearest-neighbour sampling. It is cheap
// enough to run on every captured frame.
//
// Arguments:
//   - img: The source image.
//   - width: The target width.
//   - height: The target height.
//
// Returns:
//   - *image.RGBA: The resized image.
func Downscale(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// FromMat converts an OpenCV frame into a Go image.
//
// Arguments:
//   - mat: The BGR frame.
//
// Returns:
//   - image.Image: The converted image.
//   - error: An error if the frame is empty or of an unsupported type.
func FromMat(mat gocv.Mat) (image.Image, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty frame")
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}
