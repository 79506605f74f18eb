// Package controller schedules frame capture, motion gating and detection for one watch session.
package controller

import (
	"context"
	"image"
	"strings"
	"time"

	"github.com/nvr-ai/sentinel/detector"
	"github.com/nvr-ai/sentinel/motion"
	"github.com/nvr-ai/sentinel/segmentation"
)

// Interval bounds and defaults.
const (
	MinInterval     = 500 * time.Millisecond
	MaxInterval     = 60 * time.Second
	DefaultInterval = 2 * time.Second

	// DefaultDetectTimeout bounds one detection call.
	DefaultDetectTimeout = 60 * time.Second
)

// Frame is a single captured frame.
type Frame struct {
	ID        int
	Image     image.Image
	Timestamp time.Time
}

// Gate decides whether a frame changed enough to analyse.
type Gate interface {
	Check(frame image.Image) motion.Decision
	Reset()
}

// Segmenter isolates the region around the focus points.
type Segmenter interface {
	IsReady() bool
	EnsureEncoded(ctx context.Context, img image.Image) (bool, error)
	Segment(ctx context.Context, img image.Image, points []segmentation.Point) (*segmentation.Result, error)
}

// Detector analyses frames for the watch target.
type Detector interface {
	Detect(ctx context.Context, req detector.Request) (*detector.Event, error)
}

// Listener receives every completed detection event.
type Listener func(event *detector.Event)

var complexActionKeywords = []string{
	"falling", "fall", "breaking", "collapsed", "unconscious",
	"suspicious", "climbing", "weapon", "emergency", "fighting",
}

// IsComplexAction reports whether the description names an action that needs several frames to
// recognise.
func IsComplexAction(description string) bool {
	lower := strings.ToLower(description)
	for _, keyword := range complexActionKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// ClampInterval bounds a capture interval to [MinInterval, MaxInterval]. Zero takes DefaultInterval.
func ClampInterval(interval time.Duration) time.Duration {
	switch {
	case interval == 0:
		return DefaultInterval
	case interval < MinInterval:
		return MinInterval
	case interval > MaxInterval:
		return MaxInterval
	default:
		return interval
	}
}
