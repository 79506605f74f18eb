// Package images - Image definition and codecs.
package images

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	"golang.org/x/image/bmp"
)

// Image represents an encoded image with a format, data, width, and height.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatBMP is the BMP image format. Decode only.
	FormatBMP ImageFormat = "bmp"
)

// MimeType returns the media type of the format.
func (f ImageFormat) MimeType() string {
	return "image/" + string(f)
}

// DefaultJPEGQuality is the quality used for frames sent upstream.
const DefaultJPEGQuality = 85

// Decode decodes JPEG, PNG, WebP or BMP bytes.
//
// Arguments:
//   - data: The encoded image.
//
// Returns:
//   - image.Image: The decoded image.
//   - ImageFormat: The detected format.
//   - error: An error if the bytes are not a supported image.
func Decode(data []byte) (image.Image, ImageFormat, error) {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", errors.Wrap(err, "decode webp")
		}
		return img, FormatWebP, nil
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", errors.Wrap(err, "decode png")
		}
		return img, FormatPNG, nil
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8}):
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", errors.Wrap(err, "decode jpeg")
		}
		return img, FormatJPEG, nil
	case bytes.HasPrefix(data, []byte("BM")):
		img, err := bmp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", errors.Wrap(err, "decode bmp")
		}
		return img, FormatBMP, nil
	default:
		return nil, "", errors.New("unsupported image format")
	}
}

// EncodeJPEG encodes img as JPEG. quality <= 0 uses DefaultJPEGQuality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.Wrap(err, "encode jpeg")
	}
	return buf.Bytes(), nil
}

// EncodePNG encodes img as PNG, preserving alpha.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	return buf.Bytes(), nil
}

// Encode encodes img in the given format.
func Encode(img image.Image, format ImageFormat) (*Image, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatJPEG:
		data, err = EncodeJPEG(img, 0)
	case FormatPNG:
		data, err = EncodePNG(img)
	case FormatWebP:
		var buf bytes.Buffer
		err = webp.Encode(&buf, img, &webp.Options{Lossless: true})
		data = buf.Bytes()
	default:
		return nil, fmt.Errorf("unsupported image format: %q", format)
	}
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	return &Image{Format: format, Data: data, Width: b.Dx(), Height: b.Dy()}, nil
}

// DataURL renders the encoded image as a base64 data URL.
func (i *Image) DataURL() string {
	return "data:" + i.Format.MimeType() + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// JPEGDataURL encodes img as JPEG and returns it as a base64 data URL.
func JPEGDataURL(img image.Image) (string, error) {
	encoded, err := Encode(img, FormatJPEG)
	if err != nil {
		return "", err
	}
	return encoded.DataURL(), nil
}

// DecodeDataURL accepts either a data URL or bare base64 and decodes the image within.
func DecodeDataURL(s string) (image.Image, error) {
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, errors.New("malformed data url")
		}
		s = s[comma+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode base64")
	}
	img, _, err := Decode(raw)
	return img, err
}
