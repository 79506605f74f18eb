// Package motion decides whether a captured frame changed enough to be worth analysing.
package motion

import (
	"fmt"
	"image"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Comparison resolution and default thresholds.
const (
	CompareWidth          = 160
	CompareHeight         = 120
	DefaultPixelThreshold = 50
	DefaultThreshold      = 0.02
)

// Options configures a Gate.
type Options struct {
	// Enabled turns gating on. A disabled gate lets every frame through.
	Enabled bool `mapstructure:"enabled"`
	// Threshold is the fraction of changed pixels, in (0, 1), a frame must exceed to proceed.
	Threshold float64 `mapstructure:"threshold"`
	// PixelThreshold is the summed |dR|+|dG|+|dB| above which a pixel counts as changed.
	PixelThreshold int `mapstructure:"pixel_threshold"`
	// BlurRadius smooths the compare frames before differencing to suppress sensor noise. Zero
	// compares raw pixels.
	BlurRadius int `mapstructure:"blur_radius"`
}

// Reason explains a gate decision.
type Reason string

// Reason constants.
const (
	ReasonDisabled   Reason = "disabled"
	ReasonFirstFrame Reason = "first_frame"
	ReasonMotion     Reason = "motion"
	ReasonStill      Reason = "still"
	ReasonFailOpen   Reason = "fail_open"
)

// Decision is the outcome of checking one frame.
type Decision struct {
	Proceed       bool
	ChangePercent float64
	Reason        Reason
	// Err is set when the comparison failed and the gate let the frame through.
	Err error
}

// Gate compares each frame with the previous one.
type Gate struct {
	logger *zap.Logger

	mu      sync.Mutex
	options Options
	last    *gocv.Mat
}

// NewGate creates a gate. Zero thresholds take the defaults. Call Close to release the previous
// frame.
func NewGate(options Options, logger *zap.Logger) *Gate {
	if options.Threshold <= 0 || options.Threshold >= 1 {
		options.Threshold = DefaultThreshold
	}
	if options.PixelThreshold <= 0 {
		options.PixelThreshold = DefaultPixelThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{options: options, logger: logger.Named("motion")}
}

// Check decides whether frame proceeds to detection and remembers it as the previous frame.
//
// It never blocks monitoring: any failure, including a panic while reading pixels, lets the frame
// through with Reason ReasonFailOpen.
//
// Arguments:
//   - frame: The captured frame.
//
// Returns:
//   - Decision: Proceed is false only when the gate is enabled and the change is at or below the
//     threshold.
func (g *Gate) Check(frame image.Image) (decision Decision) {
	g.mu.Lock()
	defer g.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			decision = Decision{Proceed: true, Reason: ReasonFailOpen, Err: fmt.Errorf("motion check panicked: %v", r)}
			g.logger.Warn("motion check failed, proceeding", zap.Any("panic", r))
		}
	}()

	if frame == nil || frame.Bounds().Empty() {
		return Decision{Proceed: true, Reason: ReasonFailOpen, Err: errors.New("empty frame")}
	}

	current, err := compareFrame(frame, g.options.BlurRadius)
	if err != nil {
		g.logger.Warn("motion check failed, proceeding", zap.Error(err))
		return Decision{Proceed: true, Reason: ReasonFailOpen, Err: err}
	}
	previous := g.last
	g.last = current
	if previous != nil {
		defer previous.Close()
	}

	if !g.options.Enabled {
		return Decision{Proceed: true, Reason: ReasonDisabled}
	}
	if previous == nil {
		return Decision{Proceed: true, Reason: ReasonFirstFrame}
	}

	change, err := ChangePercent(*previous, *current, g.options.PixelThreshold)
	if err != nil {
		g.logger.Warn("motion check failed, proceeding", zap.Error(err))
		return Decision{Proceed: true, Reason: ReasonFailOpen, Err: err}
	}

	if change <= g.options.Threshold*100 {
		return Decision{Proceed: false, ChangePercent: change, Reason: ReasonStill}
	}
	return Decision{Proceed: true, ChangePercent: change, Reason: ReasonMotion}
}

// compareFrame converts frame into the downscaled, optionally box-blurred Mat the gate compares.
func compareFrame(frame image.Image, blurRadius int) (*gocv.Mat, error) {
	src, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, errors.Wrap(err, "convert frame")
	}
	defer src.Close()

	small := gocv.NewMat()
	size := image.Pt(CompareWidth, CompareHeight)
	if err := gocv.Resize(src, &small, size, 0, 0, gocv.InterpolationNearestNeighbor); err != nil {
		small.Close()
		return nil, errors.Wrap(err, "downscale frame")
	}
	if blurRadius > 0 {
		k := 2*blurRadius + 1
		if err := gocv.Blur(small, &small, image.Pt(k, k)); err != nil {
			small.Close()
			return nil, errors.Wrap(err, "blur frame")
		}
	}
	return &small, nil
}

// SetThreshold updates the change fraction required to proceed. Values outside (0, 1) are ignored.
func (g *Gate) SetThreshold(threshold float64) {
	if threshold <= 0 || threshold >= 1 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.options.Threshold = threshold
}

// Reset forgets the previous frame.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.release()
}

// Close releases the previous frame. It is safe to call more than once.
func (g *Gate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.release()
}

func (g *Gate) release() error {
	if g.last == nil {
		return nil
	}
	err := g.last.Close()
	g.last = nil
	return err
}

// ChangePercent returns the percentage of pixels whose summed absolute difference over the three
// color channels exceeds pixelThreshold.
//
// Arguments:
//   - a: The previous 8-bit, 3-channel frame.
//   - b: The current frame, same size and type as a.
//   - pixelThreshold: The summed |dR|+|dG|+|dB| above which a pixel counts as changed.
//
// Returns:
//   - float64: The changed share in [0, 100].
//   - error: An error if the frames cannot be compared.
func ChangePercent(a, b gocv.Mat, pixelThreshold int) (float64, error) {
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() {
		return 0, errors.Errorf("frame size mismatch: %dx%d vs %dx%d", a.Cols(), a.Rows(), b.Cols(), b.Rows())
	}
	if a.Type() != gocv.MatTypeCV8UC3 || b.Type() != gocv.MatTypeCV8UC3 {
		return 0, errors.Errorf("frames must be 8-bit 3-channel, got %v and %v", a.Type(), b.Type())
	}
	total := a.Rows() * a.Cols()
	if total == 0 {
		return 0, errors.New("empty frame")
	}

	diff := gocv.NewMat()
	defer diff.Close()
	if err := gocv.AbsDiff(a, b, &diff); err != nil {
		return 0, errors.Wrap(err, "difference frames")
	}

	// Widen before summing the channels so |dR|+|dG|+|dB| up to 765 does not saturate.
	wide := gocv.NewMat()
	defer wide.Close()
	if err := diff.ConvertTo(&wide, gocv.MatTypeCV16UC3); err != nil {
		return 0, errors.Wrap(err, "widen difference")
	}

	ones := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 0, 0, 0), 1, 3, gocv.MatTypeCV32F)
	defer ones.Close()
	summed := gocv.NewMat()
	defer summed.Close()
	if err := gocv.Transform(wide, &summed, ones); err != nil {
		return 0, errors.Wrap(err, "sum channels")
	}

	changed := gocv.NewMat()
	defer changed.Close()
	gocv.Threshold(summed, &changed, float32(pixelThreshold), 255, gocv.ThresholdBinary)

	return float64(gocv.CountNonZero(changed)) / float64(total) * 100, nil
}
