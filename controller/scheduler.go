package controller

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/sentinel/capture"
	"github.com/nvr-ai/sentinel/detector"
	"github.com/nvr-ai/sentinel/logging"
	"github.com/nvr-ai/sentinel/masks"
	"github.com/nvr-ai/sentinel/metrics"
	"github.com/nvr-ai/sentinel/segmentation"
)

// ErrRunning is returned by Start while a session is active.
var ErrRunning = errors.New("monitoring already running")

// Options configures a Scheduler.
type Options struct {
	Interval time.Duration

	Target detector.Target

	// FocusPoints, when set and the segmenter is ready, crop the newest frame to the best mask
	// around them before detection.
	FocusPoints []segmentation.Point

	DetectTimeout time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Status is a snapshot of the scheduler.
type Status struct {
	Running   bool            `json:"running"`
	Busy      bool            `json:"busy"`
	Buffered  int             `json:"buffered"`
	Target    string          `json:"target"`
	Complex   bool            `json:"complex"`
	Interval  time.Duration   `json:"interval"`
	LastEvent *detector.Event `json:"last_event,omitempty"`
}

// Scheduler captures a frame every interval, gates it on motion and dispatches detection. At most
// one detection is in flight; ticks that arrive while it runs are dropped.
type Scheduler struct {
	source    capture.Source
	gate      Gate
	segmenter Segmenter
	detector  Detector
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	options   Options
	buffer    *FrameBuffer
	cancel    context.CancelFunc
	done      chan struct{}
	session   uint64
	nextID    int
	listeners []Listener
	last      *detector.Event

	// delivery is held while listeners run. Stop takes it, so no event is delivered once Stop
	// returns. Listeners must not call Stop.
	delivery sync.Mutex

	inFlight   atomic.Bool
	dispatches sync.WaitGroup
}

// NewScheduler creates a scheduler. segmenter may be nil to disable focus cropping.
//
// Arguments:
//   - source: The frame source.
//   - gate: The motion gate.
//   - segmenter: The optional focus segmenter.
//   - det: The detection orchestrator.
//   - options: Interval, target and instrumentation.
//
// Returns:
//   - *Scheduler: The scheduler, not yet started.
func NewScheduler(source capture.Source, gate Gate, segmenter Segmenter, det Detector, options Options) *Scheduler {
	options.Interval = ClampInterval(options.Interval)
	if options.DetectTimeout <= 0 {
		options.DetectTimeout = DefaultDetectTimeout
	}
	return &Scheduler{
		source:    source,
		gate:      gate,
		segmenter: segmenter,
		detector:  det,
		logger:    logging.OrNop(options.Logger).Named("scheduler"),
		metrics:   options.Metrics,
		options:   options,
	}
}

// OnDetection registers a listener for completed detections.
func (s *Scheduler) OnDetection(listener Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// SetTarget replaces the watch target. It applies from the next tick.
func (s *Scheduler) SetTarget(target detector.Target) error {
	if err := validateTarget(target); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options.Target = target
	return nil
}

// SetFocusPoints replaces the focus points. Nil disables focus cropping.
func (s *Scheduler) SetFocusPoints(points []segmentation.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options.FocusPoints = append([]segmentation.Point(nil), points...)
}

// SetInterval changes the capture interval. It applies from the next Start.
func (s *Scheduler) SetInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options.Interval = ClampInterval(interval)
}

func validateTarget(target detector.Target) error {
	if target.Description == "" {
		return &detector.ConfigurationError{Field: "target", Message: "a target description is required"}
	}
	if target.Confidence < 0 || target.Confidence > 1 {
		return &detector.ConfigurationError{Field: "target.confidence", Message: "must be within [0, 1]"}
	}
	return nil
}

// Start begins a monitoring session. The session ends when Stop is called or ctx is cancelled.
//
// Arguments:
//   - ctx: The parent context of the session.
//
// Returns:
//   - error: ErrRunning if a session is active, or a *detector.ConfigurationError for a bad target.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrRunning
	}
	if err := validateTarget(s.options.Target); err != nil {
		return err
	}

	s.session++
	s.buffer = NewFrameBuffer(DefaultBufferCapacity)
	s.gate.Reset()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("monitoring started",
		zap.String("target", s.options.Target.Description),
		zap.Duration("interval", s.options.Interval),
		zap.Bool("complex", IsComplexAction(s.options.Target.Description)),
	)

	go s.loop(ctx, s.session, s.options.Interval, s.done)
	return nil
}

// Stop ends the session, clears the buffered frames and the gate's previous frame, and drops any
// detection result that arrives afterwards. It is safe to call when not running.
func (s *Scheduler) Stop() {
	s.delivery.Lock()
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		s.delivery.Unlock()
		return
	}
	s.cancel()
	s.cancel = nil
	s.session++
	s.buffer = nil
	s.gate.Reset()
	done := s.done
	s.mu.Unlock()
	s.delivery.Unlock()

	<-done
	s.logger.Info("monitoring stopped")
}

// expire ends session when its parent context was cancelled without Stop.
func (s *Scheduler) expire(session uint64) {
	s.delivery.Lock()
	defer s.delivery.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != session || s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.session++
	s.buffer = nil
	s.gate.Reset()
	s.logger.Info("monitoring ended", zap.String("reason", "context cancelled"))
}

// Running reports whether a session is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:   s.cancel != nil,
		Busy:      s.inFlight.Load(),
		Target:    s.options.Target.Description,
		Complex:   IsComplexAction(s.options.Target.Description),
		Interval:  s.options.Interval,
		LastEvent: s.last,
	}
	if s.buffer != nil {
		status.Buffered = s.buffer.Len()
	}
	return status
}

func (s *Scheduler) loop(ctx context.Context, session uint64, interval time.Duration, done chan struct{}) {
	defer close(done)
	defer s.expire(session)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.step(ctx, session)
		}
	}
}

// step runs one tick: read, gate, buffer, complex-action warm-up, in-flight guard, focus, dispatch.
func (s *Scheduler) step(ctx context.Context, session uint64) {
	s.metrics.Tick()

	img, err := s.source.Read(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("frame read failed", zap.Error(err))
		}
		s.metrics.Skip(metrics.SkipReadError)
		return
	}

	decision := s.gate.Check(img)
	s.metrics.Motion(decision.ChangePercent)
	if !decision.Proceed {
		s.metrics.Skip(metrics.SkipNoMotion)
		return
	}

	s.mu.Lock()
	if session != s.session || s.buffer == nil {
		s.mu.Unlock()
		s.metrics.Skip(metrics.SkipInactive)
		return
	}
	s.nextID++
	s.buffer.Push(Frame{ID: s.nextID, Image: img, Timestamp: time.Now()})
	frames := s.buffer.Frames()
	options := s.options
	s.mu.Unlock()

	complexAction := IsComplexAction(options.Target.Description)
	if complexAction && len(frames) < 2 {
		s.metrics.Skip(metrics.SkipWarmup)
		return
	}
	if !complexAction {
		frames = frames[len(frames)-1:]
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("detection in flight, dropping tick")
		s.metrics.Skip(metrics.SkipBusy)
		return
	}

	req := detector.Request{
		Frames:        make([]image.Image, len(frames)),
		Target:        options.Target,
		ChangePercent: decision.ChangePercent,
		Complex:       complexAction,
		Interval:      options.Interval,
	}
	for i, f := range frames {
		req.Frames[i] = f.Image
	}
	req.Focus = s.focus(ctx, img, options.FocusPoints)

	s.dispatch(ctx, session, req, options.DetectTimeout)
}

// focus crops the newest frame to the best mask around points. It returns nil when segmentation
// is unavailable or fails.
func (s *Scheduler) focus(ctx context.Context, img image.Image, points []segmentation.Point) image.Image {
	if s.segmenter == nil || len(points) == 0 || !s.segmenter.IsReady() {
		return nil
	}

	if _, err := s.segmenter.EnsureEncoded(ctx, img); err != nil {
		s.logger.Debug("focus encode failed", zap.Error(err))
		return nil
	}
	result, err := s.segmenter.Segment(ctx, img, points)
	if err != nil {
		s.logger.Debug("focus segmentation failed", zap.Error(err))
		return nil
	}

	best, ok := masks.Best(result.Masks, result.Scores)
	if !ok || best >= len(result.Crops) || result.Crops[best] == nil {
		return nil
	}
	return result.Crops[best]
}

// dispatch runs detection on its own goroutine with a context that outlives the tick but not the
// timeout. Results from a stopped session are dropped.
func (s *Scheduler) dispatch(ctx context.Context, session uint64, req detector.Request, timeout time.Duration) {
	s.metrics.Dispatch()
	s.dispatches.Add(1)

	go func() {
		defer s.dispatches.Done()
		defer s.inFlight.Store(false)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		start := time.Now()
		event, err := s.detector.Detect(ctx, req)
		elapsed := time.Since(start)

		if err != nil {
			s.logger.Error("detection failed", zap.Error(err))
			s.metrics.Detection(metrics.OutcomeError, elapsed)
			return
		}

		s.delivery.Lock()
		defer s.delivery.Unlock()

		s.mu.Lock()
		if session != s.session {
			s.mu.Unlock()
			s.logger.Debug("dropping detection from stopped session", zap.Stringer("event", event.ID))
			s.metrics.Detection(metrics.OutcomeDropped, elapsed)
			return
		}
		s.last = event
		listeners := append([]Listener(nil), s.listeners...)
		s.mu.Unlock()

		switch {
		case event.Degraded:
			s.metrics.Detection(metrics.OutcomeDegraded, elapsed)
		case event.Detected:
			s.metrics.Detection(metrics.OutcomeDetected, elapsed)
		default:
			s.metrics.Detection(metrics.OutcomeClear, elapsed)
		}

		if event.Detected {
			s.logger.Info("target detected",
				zap.String("target", req.Target.Description),
				zap.Float64("confidence", event.Confidence),
				zap.String("urgency", string(event.Urgency)),
				zap.Int("frames", event.FrameCount),
			)
		}

		for _, listener := range listeners {
			listener(event)
		}
	}()
}
