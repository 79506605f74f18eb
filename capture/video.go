package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/nvr-ai/sentinel/images"
	"gocv.io/x/gocv"
)

// Video plays a video file against the wall clock. Each Read returns the frame at the time elapsed
// since the first Read, looping at the end of the file, so frames read two seconds apart are two
// seconds apart in the video.
type Video struct {
	mu       sync.Mutex
	path     string
	capture  *gocv.VideoCapture
	frame    gocv.Mat
	duration time.Duration
	started  time.Time
	now      func() time.Time
}

// OpenVideo opens a video file.
func OpenVideo(path string) (*Video, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}

	var duration time.Duration
	fps := capture.Get(gocv.VideoCaptureFPS)
	frames := capture.Get(gocv.VideoCaptureFrameCount)
	if fps > 0 && frames > 0 {
		duration = time.Duration(frames / fps * float64(time.Second))
	}

	return &Video{
		path:     path,
		capture:  capture,
		frame:    gocv.NewMat(),
		duration: duration,
		now:      time.Now,
	}, nil
}

// Duration returns the length of one playback loop. It is zero when the file reports no frame rate
// or frame count, in which case Read returns consecutive frames.
func (v *Video) Duration() time.Duration {
	return v.duration
}

// Read returns the frame at the current playback position.
func (v *Video) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture == nil {
		return nil, fmt.Errorf("video %s is closed", v.path)
	}

	now := v.now()
	if v.started.IsZero() {
		v.started = now
	}
	if v.duration > 0 {
		position := playbackPosition(now.Sub(v.started), v.duration)
		v.capture.Set(gocv.VideoCapturePosMsec, float64(position)/float64(time.Millisecond))
	}

	if ok := v.capture.Read(&v.frame); !ok || v.frame.Empty() {
		v.capture.Set(gocv.VideoCapturePosFrames, 0)
		if ok := v.capture.Read(&v.frame); !ok || v.frame.Empty() {
			return nil, fmt.Errorf("cannot read video %s", v.path)
		}
	}
	return images.FromMat(v.frame)
}

// playbackPosition maps elapsed wall-clock time onto a timeline of length duration that loops.
func playbackPosition(elapsed, duration time.Duration) time.Duration {
	if duration <= 0 || elapsed <= 0 {
		return 0
	}
	return elapsed % duration
}

// Close releases the file.
func (v *Video) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture == nil {
		return nil
	}
	v.frame.Close()
	err := v.capture.Close()
	v.capture = nil
	return err
}
