package capture

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/nvr-ai/sentinel/images"
	"gocv.io/x/gocv"
)

// Camera reads frames from a live capture device.
type Camera struct {
	mu      sync.Mutex
	device  int
	capture *gocv.VideoCapture
	frame   gocv.Mat
}

// OpenCamera opens a capture device.
//
// Arguments:
//   - device: The device index.
//   - resolution: An optional preset name, e.g. "720p".
//
// Returns:
//   - *Camera: The camera.
//   - error: An error if the device cannot be opened or the preset is unknown.
func OpenCamera(device int, resolution string) (*Camera, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", device, err)
	}

	if resolution != "" {
		preset, ok := images.ParseResolution(resolution)
		if !ok {
			capture.Close()
			return nil, fmt.Errorf("unknown resolution preset: %q", resolution)
		}
		capture.Set(gocv.VideoCaptureFrameWidth, float64(preset.Pixels.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(preset.Pixels.Height))
	}

	return &Camera{device: device, capture: capture, frame: gocv.NewMat()}, nil
}

// Read grabs the latest frame.
func (c *Camera) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil, fmt.Errorf("camera %d is closed", c.device)
	}
	if ok := c.capture.Read(&c.frame); !ok || c.frame.Empty() {
		return nil, fmt.Errorf("cannot read device %d", c.device)
	}
	return images.FromMat(c.frame)
}

// Close releases the device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}
	c.frame.Close()
	err := c.capture.Close()
	c.capture = nil
	return err
}
