package segmentation

import (
	"context"
	"image"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nvr-ai/sentinel/images"
	"github.com/nvr-ai/sentinel/inference"
	"github.com/nvr-ai/sentinel/masks"
	"github.com/nvr-ai/sentinel/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
)

// Options configures an Engine.
type Options struct {
	// RefineKernel enables morphological mask cleanup when greater than 1.
	RefineKernel int

	Demo DemoOptions

	// DemoSource seeds the demo generator; nil uses the clock.
	DemoSource rand.Source

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Listener receives every successful segmentation result.
type Listener func(result *Result)

// embedding is the encoder output for one image. It is never mutated after creation.
type embedding struct {
	imageEmbed *tensor.Dense
	highRes0   *tensor.Dense
	highRes1   *tensor.Dense
	size       image.Point
	// key is the fingerprint of the encoded image.
	key uint64
}

// Engine owns the model pair and the embedding of the current image.
type Engine struct {
	client  inference.Client
	demo    *DemoGenerator
	options Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu         sync.RWMutex
	status     Status
	generation uint64
	encoder    inference.Handle
	decoder    inference.Handle
	current    *embedding
	encodeSeq  uint64
	encoding   int
	listeners  []Listener
}

// NewEngine creates an uninitialized engine.
//
// Arguments:
//   - client: The inference client used for the real model.
//   - options: Engine options.
//
// Returns:
//   - *Engine: The engine.
func NewEngine(client inference.Client, options Options) *Engine {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		client:  client,
		demo:    NewDemoGenerator(options.Demo, options.DemoSource),
		options: options,
		logger:  logger.Named("segmentation"),
		metrics: options.Metrics,
	}
}

// OnSegmentation registers a listener for segmentation results.
func (e *Engine) OnSegmentation(listener Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, listener)
}

func (e *Engine) setStatus(status Status) {
	e.status = status
	e.metrics.Engine(int(status))
}

// Status returns the lifecycle state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Mode returns ModeReal or ModeDemo once ready, ModeNone before.
func (e *Engine) Mode() Mode {
	return e.Status().Mode()
}

// IsReady reports whether the engine is ready in either mode.
func (e *Engine) IsReady() bool {
	return e.Mode() != ModeNone
}

// Initialize brings the engine to a ready state.
//
// It returns immediately when the engine is already loading or ready. Unreachable artifacts put
// the engine in demo mode without an error. A failed load leaves the engine uninitialized and
// returns an *InitializationError.
//
// Arguments:
//   - ctx: Bounds the artifact probe and model loads.
//
// Returns:
//   - Mode: The mode the engine is in.
//   - error: An *InitializationError when loading the real model failed.
func (e *Engine) Initialize(ctx context.Context) (Mode, error) {
	e.mu.Lock()
	if e.status != StatusUninitialized {
		mode := e.status.Mode()
		e.mu.Unlock()
		return mode, nil
	}
	e.setStatus(StatusLoading)
	generation := e.generation
	e.mu.Unlock()

	start := time.Now()

	if !e.client.Available(ctx) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.generation != generation {
			return ModeNone, &InitializationError{Err: errors.New("engine disposed during initialization")}
		}
		e.setStatus(StatusReadyDemo)
		e.logger.Warn("model artifacts unreachable, running in demo mode")
		return ModeDemo, nil
	}

	accelerated := e.client.ProbeAcceleration()

	var encoder, decoder inference.Handle
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := e.client.LoadModel(gctx, inference.Encoder)
		encoder = h
		return err
	})
	g.Go(func() error {
		h, err := e.client.LoadModel(gctx, inference.Decoder)
		decoder = h
		return err
	})
	err := g.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err == nil && e.generation != generation {
		err = errors.New("engine disposed during initialization")
	}
	if err != nil {
		closeHandles(encoder, decoder)
		if e.generation == generation {
			e.setStatus(StatusUninitialized)
		}
		e.logger.Error("model load failed", zap.Error(err))
		return ModeNone, &InitializationError{Err: err}
	}

	e.encoder, e.decoder = encoder, decoder
	e.setStatus(StatusReadyReal)
	e.logger.Info("segmentation engine ready",
		zap.Bool("accelerated", accelerated),
		zap.Duration("load_time", time.Since(start)),
	)
	return ModeReal, nil
}

// EncodeImage computes and caches the embedding of img, replacing any cached one. It is a no-op in
// demo mode.
//
// The cached embedding is dropped as soon as the call begins, so a concurrent Segment never
// decodes against the previous image.
//
// Arguments:
//   - ctx: Checked before the encoder runs.
//   - img: The image to encode.
//
// Returns:
//   - error: ErrNotInitialized, or an *inference.InferenceError.
func (e *Engine) EncodeImage(ctx context.Context, img image.Image) error {
	_, err := e.encodeImage(ctx, img, images.Fingerprint(img))
	return err
}

// EnsureEncoded encodes img unless the cached embedding already belongs to it.
//
// Arguments:
//   - ctx: Checked before the encoder runs.
//   - img: The image the next Segment call will refer to.
//
// Returns:
//   - bool: Whether the encoder ran.
//   - error: ErrNotInitialized, or an *inference.InferenceError.
func (e *Engine) EnsureEncoded(ctx context.Context, img image.Image) (bool, error) {
	key := images.Fingerprint(img)

	e.mu.RLock()
	cached := e.status == StatusReadyReal && e.encoding == 0 && e.current != nil && e.current.key == key
	e.mu.RUnlock()
	if cached {
		return false, nil
	}
	return e.encodeImage(ctx, img, key)
}

func (e *Engine) encodeImage(ctx context.Context, img image.Image, key uint64) (bool, error) {
	e.mu.Lock()
	switch e.status {
	case StatusUninitialized, StatusLoading:
		e.mu.Unlock()
		return false, ErrNotInitialized
	case StatusReadyDemo:
		e.mu.Unlock()
		return false, nil
	}
	e.current = nil
	e.encodeSeq++
	seq := e.encodeSeq
	e.encoding++
	encoder := e.encoder
	e.mu.Unlock()

	emb, err := e.encode(ctx, encoder, img)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.encoding--
	if err != nil {
		return true, err
	}
	emb.key = key
	if seq == e.encodeSeq && e.status == StatusReadyReal {
		e.current = emb
	}
	return true, nil
}

func (e *Engine) encode(ctx context.Context, encoder inference.Handle, img image.Image) (*embedding, error) {
	start := time.Now()

	input, err := images.ToTensor(img)
	if err != nil {
		return nil, &inference.InferenceError{Kind: inference.Encoder, Err: err}
	}

	outputs, err := e.client.Run(ctx, encoder, map[string]*tensor.Dense{inference.InputImage: input})
	if err != nil {
		return nil, err
	}

	emb := &embedding{
		imageEmbed: outputs[inference.OutputImageEmbed],
		highRes0:   outputs[inference.OutputHighRes0],
		highRes1:   outputs[inference.OutputHighRes1],
		size:       img.Bounds().Size(),
	}
	if emb.imageEmbed == nil || emb.highRes0 == nil || emb.highRes1 == nil {
		return nil, &inference.InferenceError{
			Kind: inference.Encoder,
			Err:  errors.Wrap(inference.ErrShapeMismatch, "encoder returned an incomplete embedding"),
		}
	}

	e.metrics.Encode(time.Since(start))
	e.logger.Debug("image encoded", zap.Duration("elapsed", time.Since(start)))
	return emb, nil
}

// Segment returns masks for the points over the current image.
//
// In demo mode, or in real mode before any image was encoded, the demo generator runs over img.
// While an encode is in flight, or when img is not the image that was last encoded, it fails with
// ErrEmbeddingStale. In real mode an empty point list returns an empty result without running the
// decoder.
//
// Arguments:
//   - ctx: Checked before the decoder runs.
//   - img: The image the points refer to. Nil in real mode decodes against whatever image was
//     last encoded and skips the crops.
//   - points: The full ordered prompt set for this image.
//
// Returns:
//   - *Result: Masks, scores and crops, index-aligned.
//   - error: ErrNotInitialized, ErrEmbeddingStale, or an *inference.InferenceError.
func (e *Engine) Segment(ctx context.Context, img image.Image, points []Point) (*Result, error) {
	e.mu.RLock()
	status, emb, decoder, encoding := e.status, e.current, e.decoder, e.encoding
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.RUnlock()

	var (
		result *Result
		err    error
	)
	switch {
	case status == StatusUninitialized || status == StatusLoading:
		return nil, ErrNotInitialized
	case status == StatusReadyDemo || (emb == nil && encoding == 0):
		if img == nil {
			return nil, errors.New("demo segmentation needs the source image")
		}
		result = e.demo.Generate(img.Bounds().Size(), points)
	case emb == nil:
		return nil, ErrEmbeddingStale
	case img != nil && images.Fingerprint(img) != emb.key:
		return nil, errors.Wrap(ErrEmbeddingStale, "image does not match the encoded embedding")
	case len(points) == 0:
		result = &Result{Masks: []*image.Gray{}, Scores: []float32{}, Mode: ModeReal}
	default:
		result, err = e.decode(ctx, decoder, emb, points)
		if err != nil {
			return nil, err
		}
	}

	if img != nil {
		result.Crops = masks.CropAll(img, result.Masks)
	}
	e.metrics.Segment(string(result.Mode), result.ProcessingTime)

	for _, listener := range listeners {
		listener(result)
	}
	return result, nil
}

func (e *Engine) decode(
	ctx context.Context,
	decoder inference.Handle,
	emb *embedding,
	points []Point,
) (*Result, error) {
	start := time.Now()

	inputs := map[string]*tensor.Dense{
		inference.OutputImageEmbed:  emb.imageEmbed,
		inference.OutputHighRes0:    emb.highRes0,
		inference.OutputHighRes1:    emb.highRes1,
		inference.InputPointCoords:  PointCoords(points, emb.size),
		inference.InputPointLabels:  PointLabels(points),
		inference.InputMaskInput:    emptyMaskInput(),
		inference.InputHasMaskInput: tensor.New(tensor.WithShape(1), tensor.WithBacking([]float32{0})),
		inference.InputOrigImSize: tensor.New(
			tensor.WithShape(2),
			tensor.WithBacking([]int32{inference.EncoderSize, inference.EncoderSize}),
		),
	}

	outputs, err := e.client.Run(ctx, decoder, inputs)
	if err != nil {
		return nil, err
	}

	binary, err := masks.Binarize(outputs[inference.OutputMasks])
	if err != nil {
		return nil, &inference.InferenceError{Kind: inference.Decoder, Err: err}
	}
	scores, ok := outputs[inference.OutputIOU].Data().([]float32)
	if !ok || len(scores) != len(binary) {
		return nil, &inference.InferenceError{
			Kind: inference.Decoder,
			Err:  errors.Wrapf(inference.ErrShapeMismatch, "%d masks, scores %v", len(binary), outputs[inference.OutputIOU].Shape()),
		}
	}

	for i, mask := range binary {
		refined, err := masks.Refine(mask, e.options.RefineKernel)
		if err != nil {
			e.logger.Warn("mask refinement failed", zap.Int("mask", i), zap.Error(err))
			continue
		}
		binary[i] = refined
	}

	return &Result{
		Masks:          binary,
		Scores:         append([]float32(nil), scores...),
		ProcessingTime: time.Since(start),
		Mode:           ModeReal,
	}, nil
}

// PointCoords maps points from image pixel space into the encoder frame as a [1, N, 2] tensor.
func PointCoords(points []Point, size image.Point) *tensor.Dense {
	sx := float64(inference.EncoderSize) / float64(max(size.X, 1))
	sy := float64(inference.EncoderSize) / float64(max(size.Y, 1))

	data := make([]float32, 0, 2*len(points))
	for _, p := range points {
		data = append(data, float32(p.X*sx), float32(p.Y*sy))
	}
	return tensor.New(tensor.WithShape(1, len(points), 2), tensor.WithBacking(data))
}

// PointLabels encodes point labels as a [1, N] tensor of 1 (positive) and 0 (negative).
func PointLabels(points []Point) *tensor.Dense {
	data := make([]float32, len(points))
	for i, p := range points {
		if p.Label == Positive {
			data[i] = 1
		}
	}
	return tensor.New(tensor.WithShape(1, len(points)), tensor.WithBacking(data))
}

func emptyMaskInput() *tensor.Dense {
	return tensor.New(
		tensor.WithShape(1, 1, inference.MaskInputSize, inference.MaskInputSize),
		tensor.WithBacking(make([]float32, inference.MaskInputSize*inference.MaskInputSize)),
	)
}

// Dispose releases both models and the cached embedding. Safe to call more than once.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()

	closeHandles(e.encoder, e.decoder)
	e.encoder, e.decoder = nil, nil
	e.current = nil
	e.encodeSeq++
	e.generation++
	e.setStatus(StatusUninitialized)
}

func closeHandles(handles ...inference.Handle) {
	for _, h := range handles {
		if h != nil {
			_ = h.Close()
		}
	}
}
