package capture

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/nvr-ai/sentinel/images"
)

// Static returns the same image on every read.
type Static struct {
	Image image.Image
}

// OpenImage decodes an image file into a Static source.
func OpenImage(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	img, _, err := images.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &Static{Image: img}, nil
}

// Read returns the image.
func (s *Static) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Image, nil
}

// Close is a no-op.
func (s *Static) Close() error {
	return nil
}
