package motion

import (
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/sentinel/images"
)

// BackgroundOptions configures a BackgroundGate.
type BackgroundOptions struct {
	// Threshold is the fraction of the frame, in (0, 1), foreground regions must cover to proceed.
	Threshold float64 `mapstructure:"threshold"`

	// MinRegionArea drops foreground regions smaller than this many pixels at comparison size.
	MinRegionArea float64 `mapstructure:"min_region_area"`

	History           int     `mapstructure:"history"`
	VarianceThreshold float64 `mapstructure:"variance_threshold"`
	KernelSize        int     `mapstructure:"kernel_size"`
}

// DefaultBackgroundOptions returns the MOG2 defaults used for outdoor cameras.
func DefaultBackgroundOptions() BackgroundOptions {
	return BackgroundOptions{
		Threshold:         DefaultThreshold,
		MinRegionArea:     12,
		History:           500,
		VarianceThreshold: 16,
		KernelSize:        3,
	}
}

// BackgroundGate gates frames on MOG2 background subtraction instead of a plain frame difference.
// It tolerates swaying foliage and lighting drift better than Gate at the cost of a warm-up period
// while the background model learns the scene.
type BackgroundGate struct {
	logger *zap.Logger

	mu         sync.Mutex
	options    BackgroundOptions
	subtractor gocv.BackgroundSubtractorMOG2
	kernel     gocv.Mat
	frames     int
	closed     bool
}

// NewBackgroundGate creates a gate. Call Close to release the OpenCV state.
func NewBackgroundGate(options BackgroundOptions, logger *zap.Logger) *BackgroundGate {
	d := DefaultBackgroundOptions()
	if options.Threshold <= 0 || options.Threshold >= 1 {
		options.Threshold = d.Threshold
	}
	if options.History <= 0 {
		options.History = d.History
	}
	if options.VarianceThreshold <= 0 {
		options.VarianceThreshold = d.VarianceThreshold
	}
	if options.KernelSize <= 0 {
		options.KernelSize = d.KernelSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BackgroundGate{
		logger:     logger.Named("motion.background"),
		options:    options,
		subtractor: gocv.NewBackgroundSubtractorMOG2WithParams(options.History, options.VarianceThreshold, false),
		kernel:     gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(options.KernelSize, options.KernelSize)),
	}
}

// Check feeds frame to the background model and decides whether it proceeds. Failures fail open.
func (g *BackgroundGate) Check(frame image.Image) (decision Decision) {
	g.mu.Lock()
	defer g.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			decision = Decision{Proceed: true, Reason: ReasonFailOpen, Err: fmt.Errorf("background check panicked: %v", r)}
			g.logger.Warn("background check failed, proceeding", zap.Any("panic", r))
		}
	}()

	if g.closed {
		return Decision{Proceed: true, Reason: ReasonFailOpen, Err: errors.New("gate closed")}
	}
	if frame == nil || frame.Bounds().Empty() {
		return Decision{Proceed: true, Reason: ReasonFailOpen, Err: errors.New("empty frame")}
	}

	change, err := g.foreground(images.Downscale(frame, CompareWidth, CompareHeight))
	if err != nil {
		g.logger.Warn("background check failed, proceeding", zap.Error(err))
		return Decision{Proceed: true, Reason: ReasonFailOpen, Err: err}
	}

	g.frames++
	if g.frames == 1 {
		return Decision{Proceed: true, Reason: ReasonFirstFrame}
	}
	if change <= g.options.Threshold*100 {
		return Decision{Proceed: false, ChangePercent: change, Reason: ReasonStill}
	}
	return Decision{Proceed: true, ChangePercent: change, Reason: ReasonMotion}
}

// foreground returns the percentage of the frame covered by sufficiently large foreground regions.
func (g *BackgroundGate) foreground(small *image.RGBA) (float64, error) {
	src, err := gocv.ImageToMatRGB(small)
	if err != nil {
		return 0, errors.Wrap(err, "convert frame")
	}
	defer src.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	g.subtractor.Apply(src, &mask)

	cleaned := gocv.NewMat()
	defer cleaned.Close()
	gocv.MorphologyEx(mask, &cleaned, gocv.MorphOpen, g.kernel)
	gocv.MorphologyEx(cleaned, &cleaned, gocv.MorphClose, g.kernel)

	contours := gocv.FindContours(cleaned, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	area := 0.0
	for i := 0; i < contours.Size(); i++ {
		if a := gocv.ContourArea(contours.At(i)); a >= g.options.MinRegionArea {
			area += a
		}
	}
	return math.Min(area/float64(CompareWidth*CompareHeight), 1) * 100, nil
}

// SetThreshold updates the foreground fraction required to proceed. Values outside (0, 1) are
// ignored.
func (g *BackgroundGate) SetThreshold(threshold float64) {
	if threshold <= 0 || threshold >= 1 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.options.Threshold = threshold
}

// Reset discards the learned background.
func (g *BackgroundGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.subtractor.Close()
	g.subtractor = gocv.NewBackgroundSubtractorMOG2WithParams(g.options.History, g.options.VarianceThreshold, false)
	g.frames = 0
}

// Close releases the background model. It is safe to call more than once.
func (g *BackgroundGate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	g.subtractor.Close()
	return g.kernel.Close()
}
