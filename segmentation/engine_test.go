package segmentation

import (
	"context"
	"image"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/nvr-ai/sentinel/inference"
	"github.com/nvr-ai/sentinel/masks"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeHandle struct {
	kind   inference.ModelKind
	closed bool
}

func (h *fakeHandle) Kind() inference.ModelKind { return h.kind }
func (h *fakeHandle) Close() error { h.closed = true; return nil }

// fakeClient decodes each point into a square mask around the point in a 64x64 mask grid.
type fakeClient struct {
	mu        sync.Mutex
	available bool
	loadErr   error
	loads     int
	handles   []*fakeHandle
	decodes   int
	lastCoord []float32
	lastLabel []float32
	encodes   int

	encodeErr  error
	decodeErr  error
	incomplete bool
	encodeGate chan struct{}
}

func (c *fakeClient) ProbeAcceleration() bool { return false }
func (c *fakeClient) Available(context.Context) bool { return c.available }

func (c *fakeClient) LoadModel(_ context.Context, kind inference.ModelKind) (inference.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	if c.loadErr != nil && kind == inference.Decoder {
		return nil, &inference.ModelLoadError{Kind: kind, Location: "memory", Err: c.loadErr}
	}
	h := &fakeHandle{kind: kind}
	c.handles = append(c.handles, h)
	return h, nil
}

func (c *fakeClient) Run(
	_ context.Context,
	handle inference.Handle,
	inputs map[string]*tensor.Dense,
) (map[string]*tensor.Dense, error) {
	switch handle.Kind() {
	case inference.Encoder:
		if c.encodeGate != nil {
			<-c.encodeGate
		}
		c.mu.Lock()
		c.encodes++
		encodeErr, incomplete := c.encodeErr, c.incomplete
		c.mu.Unlock()
		if encodeErr != nil {
			return nil, encodeErr
		}
		if incomplete {
			return map[string]*tensor.Dense{
				inference.OutputImageEmbed: tensor.New(tensor.WithShape(1, 2, 2, 2), tensor.WithBacking(make([]float32, 8))),
			}, nil
		}
		return map[string]*tensor.Dense{
			inference.OutputImageEmbed: tensor.New(tensor.WithShape(1, 2, 2, 2), tensor.WithBacking(make([]float32, 8))),
			inference.OutputHighRes0:   tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking(make([]float32, 4))),
			inference.OutputHighRes1:   tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking(make([]float32, 4))),
		}, nil
	default:
		if c.decodeErr != nil {
			return nil, c.decodeErr
		}
		coords := inputs[inference.InputPointCoords].Data().([]float32)
		labels := inputs[inference.InputPointLabels].Data().([]float32)

		c.mu.Lock()
		c.decodes++
		c.lastCoord = append([]float32(nil), coords...)
		c.lastLabel = append([]float32(nil), labels...)
		c.mu.Unlock()

		const grid = 64
		logits := make([]float32, grid*grid)
		for i := range logits {
			logits[i] = -1
		}
		for i := 0; i < len(labels); i++ {
			if labels[i] != 1 {
				continue
			}
			gx := int(coords[2*i] / inference.EncoderSize * grid)
			gy := int(coords[2*i+1] / inference.EncoderSize * grid)
			for y := max(gy-4, 0); y < min(gy+4, grid); y++ {
				for x := max(gx-4, 0); x < min(gx+4, grid); x++ {
					logits[y*grid+x] = 2.5
				}
			}
		}
		return map[string]*tensor.Dense{
			inference.OutputMasks: tensor.New(tensor.WithShape(1, 1, grid, grid), tensor.WithBacking(logits)),
			inference.OutputIOU:   tensor.New(tensor.WithShape(1, 1), tensor.WithBacking([]float32{0.91})),
		}, nil
	}
}

func testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 640, 480))
}

func realEngine(t *testing.T) (*Engine, *fakeClient) {
	t.Helper()
	client := &fakeClient{available: true}
	engine := NewEngine(client, Options{DemoSource: rand.NewPCG(1, 2)})
	mode, err := engine.Initialize(context.Background())
	require.NoError(t, err)
	require.Equal(t, ModeReal, mode)
	return engine, client
}

func TestNotInitialized(t *testing.T) {
	engine := NewEngine(&fakeClient{}, Options{})

	assert.Equal(t, StatusUninitialized, engine.Status())
	assert.False(t, engine.IsReady())
	assert.ErrorIs(t, engine.EncodeImage(context.Background(), testImage()), ErrNotInitialized)

	_, err := engine.Segment(context.Background(), testImage(), []Point{{X: 1, Y: 1, Label: Positive}})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitializeWithoutArtifactsUsesDemo(t *testing.T) {
	client := &fakeClient{available: false}
	engine := NewEngine(client, Options{DemoSource: rand.NewPCG(7, 7)})

	mode, err := engine.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeDemo, mode)
	assert.True(t, engine.IsReady())
	assert.Equal(t, StatusReadyDemo, engine.Status())
	assert.Zero(t, client.loads)

	assert.NoError(t, engine.EncodeImage(context.Background(), testImage()))

	result, err := engine.Segment(context.Background(), testImage(), []Point{{X: 320, Y: 240, Label: Positive}})
	require.NoError(t, err)
	assert.Equal(t, ModeDemo, result.Mode)
	assert.Len(t, result.Masks, 1)
	assert.Len(t, result.Scores, 1)
	assert.Len(t, result.Crops, 1)
}

func TestInitializeIsIdempotent(t *testing.T) {
	engine, client := realEngine(t)

	mode, err := engine.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeReal, mode)
	assert.Equal(t, 2, client.loads)
}

func TestInitializeFailureResetsStatus(t *testing.T) {
	client := &fakeClient{available: true, loadErr: errors.New("truncated protobuf")}
	engine := NewEngine(client, Options{})

	mode, err := engine.Initialize(context.Background())
	var initErr *InitializationError
	require.True(t, errors.As(err, &initErr))
	var loadErr *inference.ModelLoadError
	assert.True(t, errors.As(err, &loadErr))
	assert.Equal(t, ModeNone, mode)
	assert.Equal(t, StatusUninitialized, engine.Status())

	for _, h := range client.handles {
		assert.True(t, h.closed)
	}

	client.loadErr = nil
	mode, err = engine.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeReal, mode)
}

func TestSegmentBeforeEncodeFallsBackToDemo(t *testing.T) {
	engine, client := realEngine(t)

	result, err := engine.Segment(context.Background(), testImage(), []Point{{X: 100, Y: 100, Label: Positive}})
	require.NoError(t, err)
	assert.Equal(t, ModeDemo, result.Mode)
	assert.Zero(t, client.decodes)
}

func TestSegmentRealMode(t *testing.T) {
	engine, client := realEngine(t)
	img := testImage()
	require.NoError(t, engine.EncodeImage(context.Background(), img))

	var seen []*Result
	engine.OnSegmentation(func(r *Result) { seen = append(seen, r) })

	points := []Point{{X: 320, Y: 240, Label: Positive}, {X: 10, Y: 10, Label: Negative}}
	result, err := engine.Segment(context.Background(), img, points)
	require.NoError(t, err)

	assert.Equal(t, ModeReal, result.Mode)
	require.Len(t, result.Masks, 1)
	assert.Equal(t, []float32{0.91}, result.Scores)
	require.Len(t, result.Crops, 1)
	assert.NotNil(t, result.Crops[0])
	assert.Len(t, seen, 1)

	// Points are scaled from 640x480 into the 1024 encoder frame, order preserved.
	assert.InDeltaSlice(t, []float32{512, 512, 16, 21.333}, client.lastCoord, 0.01)
	assert.Equal(t, []float32{1, 0}, client.lastLabel)

	for _, v := range result.Masks[0].Pix {
		assert.Contains(t, []uint8{0, masks.On}, v)
	}
}

func TestSegmentRealModeIsDeterministic(t *testing.T) {
	engine, _ := realEngine(t)
	img := testImage()
	require.NoError(t, engine.EncodeImage(context.Background(), img))

	points := []Point{{X: 200, Y: 150, Label: Positive}}
	first, err := engine.Segment(context.Background(), img, points)
	require.NoError(t, err)
	second, err := engine.Segment(context.Background(), img, points)
	require.NoError(t, err)

	assert.Equal(t, first.Masks[0].Pix, second.Masks[0].Pix)
	assert.Equal(t, first.Scores, second.Scores)
}

func TestSegmentEmptyPointsRealMode(t *testing.T) {
	engine, client := realEngine(t)
	require.NoError(t, engine.EncodeImage(context.Background(), testImage()))

	result, err := engine.Segment(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeReal, result.Mode)
	assert.Empty(t, result.Masks)
	assert.Empty(t, result.Scores)
	assert.Zero(t, client.decodes)
}

func TestSegmentDuringEncodeIsStale(t *testing.T) {
	engine, client := realEngine(t)
	img := testImage()
	require.NoError(t, engine.EncodeImage(context.Background(), img))

	client.encodeGate = make(chan struct{})
	done := make(chan error)
	go func() { done <- engine.EncodeImage(context.Background(), img) }()

	require.Eventually(t, func() bool {
		engine.mu.RLock()
		defer engine.mu.RUnlock()
		return engine.encoding == 1
	}, timeout, tick)

	_, err := engine.Segment(context.Background(), img, []Point{{X: 1, Y: 1, Label: Positive}})
	assert.ErrorIs(t, err, ErrEmbeddingStale)

	close(client.encodeGate)
	require.NoError(t, <-done)

	_, err = engine.Segment(context.Background(), img, []Point{{X: 1, Y: 1, Label: Positive}})
	assert.NoError(t, err)
}

func TestSegmentRejectsImageThatWasNotEncoded(t *testing.T) {
	engine, client := realEngine(t)
	upload := image.NewRGBA(image.Rect(0, 0, 2048, 2048))
	frame := image.NewRGBA(image.Rect(0, 0, 256, 256))

	require.NoError(t, engine.EncodeImage(context.Background(), upload))
	require.NoError(t, engine.EncodeImage(context.Background(), frame))

	points := []Point{{X: 1024, Y: 1024, Label: Positive}}
	_, err := engine.Segment(context.Background(), upload, points)
	assert.ErrorIs(t, err, ErrEmbeddingStale)
	assert.Zero(t, client.decodes)

	encoded, err := engine.EnsureEncoded(context.Background(), upload)
	require.NoError(t, err)
	assert.True(t, encoded)

	result, err := engine.Segment(context.Background(), upload, points)
	require.NoError(t, err)
	assert.Equal(t, ModeReal, result.Mode)
	assert.Equal(t, []float32{512, 512}, client.lastCoord)
}

func TestEnsureEncodedReusesCachedEmbedding(t *testing.T) {
	engine, client := realEngine(t)
	img := testImage()

	encoded, err := engine.EnsureEncoded(context.Background(), img)
	require.NoError(t, err)
	assert.True(t, encoded)

	encoded, err = engine.EnsureEncoded(context.Background(), testImage())
	require.NoError(t, err)
	assert.False(t, encoded)
	assert.Equal(t, 1, client.encodes)

	other := image.NewRGBA(image.Rect(0, 0, 640, 480))
	other.Pix[0] = 255
	encoded, err = engine.EnsureEncoded(context.Background(), other)
	require.NoError(t, err)
	assert.True(t, encoded)
	assert.Equal(t, 2, client.encodes)

	// EncodeImage always runs the encoder.
	require.NoError(t, engine.EncodeImage(context.Background(), other))
	assert.Equal(t, 3, client.encodes)
}

func TestEnsureEncodedDemoMode(t *testing.T) {
	engine := NewEngine(&fakeClient{available: false}, Options{})
	_, err := engine.Initialize(context.Background())
	require.NoError(t, err)

	encoded, err := engine.EnsureEncoded(context.Background(), testImage())
	require.NoError(t, err)
	assert.False(t, encoded)
}

func TestEncodeFailureKeepsEngineReady(t *testing.T) {
	engine, client := realEngine(t)
	img := testImage()
	require.NoError(t, engine.EncodeImage(context.Background(), img))

	client.encodeErr = &inference.InferenceError{Kind: inference.Encoder, Err: errors.New("out of device memory")}
	err := engine.EncodeImage(context.Background(), img)

	var inferErr *inference.InferenceError
	require.True(t, errors.As(err, &inferErr))
	assert.Equal(t, inference.Encoder, inferErr.Kind)
	assert.Equal(t, StatusReadyReal, engine.Status())

	// The failed encode dropped the previous embedding, so segmentation falls back to demo masks.
	result, err := engine.Segment(context.Background(), img, []Point{{X: 100, Y: 100, Label: Positive}})
	require.NoError(t, err)
	assert.Equal(t, ModeDemo, result.Mode)
	assert.Zero(t, client.decodes)

	client.encodeErr = nil
	require.NoError(t, engine.EncodeImage(context.Background(), img))
	result, err = engine.Segment(context.Background(), img, []Point{{X: 100, Y: 100, Label: Positive}})
	require.NoError(t, err)
	assert.Equal(t, ModeReal, result.Mode)
}

func TestDecodeFailureKeepsEmbedding(t *testing.T) {
	engine, client := realEngine(t)
	img := testImage()
	require.NoError(t, engine.EncodeImage(context.Background(), img))

	var seen int
	engine.OnSegmentation(func(*Result) { seen++ })

	client.decodeErr = &inference.InferenceError{Kind: inference.Decoder, Err: inference.ErrShapeMismatch}
	points := []Point{{X: 320, Y: 240, Label: Positive}}
	_, err := engine.Segment(context.Background(), img, points)

	var inferErr *inference.InferenceError
	require.True(t, errors.As(err, &inferErr))
	assert.Equal(t, inference.Decoder, inferErr.Kind)
	assert.Equal(t, StatusReadyReal, engine.Status())
	assert.Zero(t, seen)

	client.decodeErr = nil
	result, err := engine.Segment(context.Background(), img, points)
	require.NoError(t, err)
	assert.Equal(t, ModeReal, result.Mode)
	assert.Equal(t, 1, client.encodes)
	assert.Equal(t, 1, seen)
}

func TestIncompleteEncoderOutput(t *testing.T) {
	engine, client := realEngine(t)
	client.incomplete = true

	err := engine.EncodeImage(context.Background(), testImage())

	var inferErr *inference.InferenceError
	require.True(t, errors.As(err, &inferErr))
	assert.Equal(t, inference.Encoder, inferErr.Kind)
	assert.ErrorIs(t, err, inference.ErrShapeMismatch)
	assert.Equal(t, StatusReadyReal, engine.Status())

	engine.mu.RLock()
	defer engine.mu.RUnlock()
	assert.Nil(t, engine.current)
	assert.Zero(t, engine.encoding)
}

func TestDisposeIsIdempotent(t *testing.T) {
	engine, client := realEngine(t)
	require.NoError(t, engine.EncodeImage(context.Background(), testImage()))

	engine.Dispose()
	engine.Dispose()

	assert.Equal(t, StatusUninitialized, engine.Status())
	for _, h := range client.handles {
		assert.True(t, h.closed)
	}
	assert.ErrorIs(t, engine.EncodeImage(context.Background(), testImage()), ErrNotInitialized)
}

func TestPointCoordsIdentityAtEncoderSize(t *testing.T) {
	coords := PointCoords([]Point{{X: 12.5, Y: 1000}}, image.Pt(1024, 1024))
	assert.Equal(t, []int{1, 1, 2}, []int(coords.Shape()))
	assert.Equal(t, []float32{12.5, 1000}, coords.Data())
}
