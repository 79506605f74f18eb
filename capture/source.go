// Package capture reads frames from cameras, video files, image directories and still images.
package capture

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// Source produces frames on demand.
type Source interface {
	// Read returns the current frame.
	Read(ctx context.Context) (image.Image, error)
	// Close releases the underlying device or file.
	Close() error
}

// Kind selects a Source implementation.
type Kind string

// Kind constants.
const (
	KindCamera    Kind = "camera"
	KindVideo     Kind = "video"
	KindDirectory Kind = "directory"
	KindImage     Kind = "image"
)

// Options configures Open.
type Options struct {
	Kind Kind `mapstructure:"kind"`
	// Device is the camera index for KindCamera.
	Device int `mapstructure:"device"`
	// Path is the file or directory for the other kinds.
	Path string `mapstructure:"path"`
	// Resolution requests a camera preset such as "720p". Empty keeps the device default.
	Resolution string `mapstructure:"resolution"`
}

// Open creates the source described by options.
//
// Arguments:
//   - options: The source options.
//
// Returns:
//   - Source: The opened source.
//   - error: An error if the kind is unknown or the device/file cannot be opened.
func Open(options Options) (Source, error) {
	switch Kind(strings.ToLower(string(options.Kind))) {
	case KindCamera, "":
		return OpenCamera(options.Device, options.Resolution)
	case KindVideo:
		return OpenVideo(options.Path)
	case KindDirectory:
		return OpenDirectory(options.Path)
	case KindImage:
		return OpenImage(options.Path)
	default:
		return nil, fmt.Errorf("unknown capture source kind: %q", options.Kind)
	}
}
