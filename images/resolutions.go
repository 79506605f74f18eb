// Package images - Camera capture resolution presets.
package images

import (
	"fmt"
	"math"
	"strings"
)

// AspectRatio represents a camera aspect ratio by name (e.g., "16:9").
type AspectRatio string

// Common camera aspect ratios.
const (
	AspectRatio169 AspectRatio = "16:9"
	AspectRatio43  AspectRatio = "4:3"
)

// ResolutionType names a capture resolution preset.
type ResolutionType string

// Capture presets a webcam or IP camera is commonly asked for.
const (
	ResolutionVGA   ResolutionType = "vga"
	ResolutionNHD   ResolutionType = "360p"
	ResolutionSD    ResolutionType = "480p"
	ResolutionHD    ResolutionType = "720p"
	ResolutionFHD   ResolutionType = "1080p"
	ResolutionQHD   ResolutionType = "1440p"
	ResolutionUHD4K ResolutionType = "4k"
)

// ResolutionPixels describes the exact dimensions of a resolution.
type ResolutionPixels struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Resolution describes a capture resolution preset.
type Resolution struct {
	Name        ResolutionType   `json:"name"`
	AspectRatio AspectRatio      `json:"aspectRatio"`
	Pixels      ResolutionPixels `json:"pixels"`
}

// MegaPixels returns the pixel count in megapixels rounded to two decimal places.
func (r Resolution) MegaPixels() float64 {
	if r.Pixels.Width <= 0 || r.Pixels.Height <= 0 {
		return 0.0
	}
	mp := float64(r.Pixels.Width*r.Pixels.Height) / 1_000_000.0
	return math.Round(mp*100) / 100
}

// String returns a human-readable summary of the resolution.
func (r Resolution) String() string {
	return fmt.Sprintf("%s (%dx%d, %.2fMP)", r.Name, r.Pixels.Width, r.Pixels.Height, r.MegaPixels())
}

var resolutions = map[ResolutionType]Resolution{
	ResolutionVGA:   {ResolutionVGA, AspectRatio43, ResolutionPixels{640, 480}},
	ResolutionNHD:   {ResolutionNHD, AspectRatio169, ResolutionPixels{640, 360}},
	ResolutionSD:    {ResolutionSD, AspectRatio169, ResolutionPixels{854, 480}},
	ResolutionHD:    {ResolutionHD, AspectRatio169, ResolutionPixels{1280, 720}},
	ResolutionFHD:   {ResolutionFHD, AspectRatio169, ResolutionPixels{1920, 1080}},
	ResolutionQHD:   {ResolutionQHD, AspectRatio169, ResolutionPixels{2560, 1440}},
	ResolutionUHD4K: {ResolutionUHD4K, AspectRatio169, ResolutionPixels{3840, 2160}},
}

// ParseResolution looks up a preset by name, case-insensitively.
//
// Arguments:
//   - name: The preset name, e.g. "720p".
//
// Returns:
//   - Resolution: The preset.
//   - bool: False when no preset has that name.
func ParseResolution(name string) (Resolution, bool) {
	res, ok := resolutions[ResolutionType(strings.ToLower(strings.TrimSpace(name)))]
	return res, ok
}
