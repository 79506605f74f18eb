// Package images - Pixel fingerprints.
package images

import (
	"encoding/binary"
	"hash/maphash"
	"image"

	"golang.org/x/image/draw"
)

var fingerprintSeed = maphash.MakeSeed()

// Fingerprint hashes the size and pixels of img. Two images with the same size and pixels have
// the same fingerprint within one process; the origin of the bounds is ignored. Nil hashes to 0.
//
// Arguments:
//   - img: The image to hash.
//
// Returns:
//   - uint64: The fingerprint.
func Fingerprint(img image.Image) uint64 {
	if img == nil {
		return 0
	}

	var h maphash.Hash
	h.SetSeed(fingerprintSeed)

	b := img.Bounds()
	var size [8]byte
	binary.LittleEndian.PutUint32(size[0:], uint32(b.Dx()))
	binary.LittleEndian.PutUint32(size[4:], uint32(b.Dy()))
	_, _ = h.Write(size[:])
	if b.Empty() {
		return h.Sum64()
	}

	switch src := img.(type) {
	case *image.RGBA:
		writeRows(&h, src.Pix, src.PixOffset(b.Min.X, b.Min.Y), src.Stride, 4*b.Dx(), b.Dy())
	case *image.NRGBA:
		writeRows(&h, src.Pix, src.PixOffset(b.Min.X, b.Min.Y), src.Stride, 4*b.Dx(), b.Dy())
	case *image.Gray:
		writeRows(&h, src.Pix, src.PixOffset(b.Min.X, b.Min.Y), src.Stride, b.Dx(), b.Dy())
	default:
		rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
		_, _ = h.Write(rgba.Pix)
	}
	return h.Sum64()
}

func writeRows(h *maphash.Hash, pix []uint8, offset, stride, rowBytes, rows int) {
	for y := 0; y < rows; y++ {
		start := offset + y*stride
		_, _ = h.Write(pix[start : start+rowBytes])
	}
}
