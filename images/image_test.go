package images

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFormats(t *testing.T) {
	for _, format := range []ImageFormat{FormatJPEG, FormatPNG, FormatWebP} {
		t.Run(string(format), func(t *testing.T) {
			encoded, err := Encode(getTestImage(), format)
			require.NoError(t, err)
			assert.Equal(t, 100, encoded.Width)
			assert.Equal(t, 100, encoded.Height)

			img, detected, err := Decode(encoded.Data)
			require.NoError(t, err)
			assert.Equal(t, format, detected)
			assert.Equal(t, 100, img.Bounds().Dx())
		})
	}
}

func TestDecodeUnsupported(t *testing.T) {
	_, _, err := Decode([]byte("not an image"))
	assert.Error(t, err)
}

func TestDataURLRoundTrip(t *testing.T) {
	url, err := JPEGDataURL(getTestImage())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))

	img, err := DecodeDataURL(url)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dy())

	bare := strings.TrimPrefix(url, "data:image/jpeg;base64,")
	_, err = DecodeDataURL(bare)
	assert.NoError(t, err)

	_, err = DecodeDataURL("data:image/png;base64")
	assert.Error(t, err)
}
