package masks

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Refine removes speckles and fills pinholes with a morphological open followed by a close, then
// keeps only the largest connected region. kernelSize <= 1 returns the mask unchanged.
//
// Arguments:
//   - mask: The binary mask.
//   - kernelSize: The side of the elliptical structuring element.
//
// Returns:
//   - *image.Gray: The refined mask, still strictly 0 or On.
//   - error: An error if OpenCV rejects the mask.
func Refine(mask *image.Gray, kernelSize int) (*image.Gray, error) {
	if kernelSize <= 1 {
		return mask, nil
	}

	b := mask.Bounds()
	src, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8U, compact(mask))
	if err != nil {
		return nil, errors.Wrap(err, "wrap mask")
	}
	defer src.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(kernelSize, kernelSize))
	defer kernel.Close()

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(src, &opened, gocv.MorphOpen, kernel)

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)

	largest := keepLargest(closed)
	defer largest.Close()

	data, err := largest.DataPtrUint8()
	if err != nil {
		return nil, errors.Wrap(err, "read refined mask")
	}

	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for i, v := range data {
		if v != 0 {
			out.Pix[i] = On
		}
	}
	return out, nil
}

var colorOn = color.RGBA{R: On, G: On, B: On, A: On}

func keepLargest(mask gocv.Mat) gocv.Mat {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return mask.Clone()
	}

	maxArea, maxIndex := 0.0, 0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > maxArea {
			maxArea, maxIndex = area, i
		}
	}

	out := gocv.NewMatWithSize(mask.Rows(), mask.Cols(), gocv.MatTypeCV8U)
	gocv.DrawContours(&out, contours, maxIndex, colorOn, -1)
	return out
}

// compact returns the mask pixels without row padding.
func compact(mask *image.Gray) []byte {
	b := mask.Bounds()
	if mask.Stride == b.Dx() {
		return append([]byte(nil), mask.Pix[:b.Dx()*b.Dy()]...)
	}
	out := make([]byte, 0, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		out = append(out, mask.Pix[y*mask.Stride:y*mask.Stride+b.Dx()]...)
	}
	return out
}
