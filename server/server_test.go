package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/sentinel/controller"
	"github.com/nvr-ai/sentinel/detector"
	"github.com/nvr-ai/sentinel/images"
	"github.com/nvr-ai/sentinel/journal"
	"github.com/nvr-ai/sentinel/metrics"
	"github.com/nvr-ai/sentinel/segmentation"
)

type fakeMonitor struct {
	mu       sync.Mutex
	running  bool
	target   detector.Target
	interval time.Duration
	points   []segmentation.Point
}

func (m *fakeMonitor) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return controller.ErrRunning
	}
	m.running = true
	return nil
}

func (m *fakeMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

func (m *fakeMonitor) Status() controller.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return controller.Status{Running: m.running, Target: m.target.Description, Interval: m.interval}
}

func (m *fakeMonitor) SetTarget(target detector.Target) error {
	if target.Description == "" {
		return &detector.ConfigurationError{Field: "target", Message: "a target description is required"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.target = target
	return nil
}

func (m *fakeMonitor) SetFocusPoints(points []segmentation.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = points
}

func (m *fakeMonitor) SetInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = interval
}

type fakeSegmenter struct {
	encodeErr error
	encodes   int
	key       uint64
}

func (s *fakeSegmenter) Status() segmentation.Status { return segmentation.StatusReadyDemo }

func (s *fakeSegmenter) EnsureEncoded(_ context.Context, img image.Image) (bool, error) {
	if s.encodeErr != nil {
		return false, s.encodeErr
	}
	key := images.Fingerprint(img)
	if s.encodes > 0 && key == s.key {
		return false, nil
	}
	s.key = key
	s.encodes++
	return true, nil
}

func (s *fakeSegmenter) Segment(_ context.Context, img image.Image, points []segmentation.Point) (*segmentation.Result, error) {
	result := &segmentation.Result{Mode: segmentation.ModeDemo}
	for range points {
		mask := image.NewGray(img.Bounds())
		mask.SetGray(1, 1, color.Gray{Y: 255})
		result.Masks = append(result.Masks, mask)
		result.Scores = append(result.Scores, 0.9)
		result.Crops = append(result.Crops, image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	}
	return result, nil
}

type fakeEvents struct {
	query  journal.Query
	events []*detector.Event
}

func (e *fakeEvents) Recent(_ context.Context, query journal.Query) ([]*detector.Event, error) {
	e.query = query
	return e.events, nil
}

func newServer(t *testing.T) (*Server, *fakeMonitor, *fakeEvents) {
	t.Helper()
	monitor := &fakeMonitor{}
	events := &fakeEvents{}
	s := New(Options{
		Monitor:   monitor,
		Segmenter: &fakeSegmenter{},
		Events:    events,
		Metrics:   metrics.New(),
	})
	t.Cleanup(s.Close)
	return s, monitor, events
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestStatus(t *testing.T) {
	s, _, _ := newServer(t)
	rec := do(t, s, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, segmentation.ModeDemo, response.Mode)
	require.NotNil(t, response.Monitor)
	assert.False(t, response.Monitor.Running)
}

func TestStartAndStopMonitor(t *testing.T) {
	s, monitor, _ := newServer(t)

	rec := do(t, s, http.MethodPost, "/api/monitor/start", map[string]any{
		"target":           map[string]any{"description": "a fox", "confidence": 0.6},
		"interval_seconds": 1.5,
		"points":           []map[string]any{{"x": 10, "y": 20, "label": 1}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "a fox", monitor.target.Description)
	assert.Equal(t, 1500*time.Millisecond, monitor.interval)
	assert.Equal(t, []segmentation.Point{{X: 10, Y: 20, Label: segmentation.Positive}}, monitor.points)

	rec = do(t, s, http.MethodPost, "/api/monitor/start", map[string]any{
		"target": map[string]any{"description": "a fox"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/monitor/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, monitor.Status().Running)
}

func TestStartMonitorRejectsEmptyTarget(t *testing.T) {
	s, _, _ := newServer(t)
	rec := do(t, s, http.MethodPost, "/api/monitor/start", map[string]any{"target": map[string]any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var response errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "target", response.Field)
}

func TestSegment(t *testing.T) {
	s, _, _ := newServer(t)
	src, err := images.Encode(image.NewRGBA(image.Rect(0, 0, 8, 8)), images.FormatPNG)
	require.NoError(t, err)

	rec := do(t, s, http.MethodPost, "/api/segment", map[string]any{
		"image":  src.DataURL(),
		"points": []map[string]any{{"x": 2, "y": 2, "label": 1}, {"x": 5, "y": 5, "label": 1}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response segmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, segmentation.ModeDemo, response.Mode)
	assert.Len(t, response.Scores, 2)
	require.Len(t, response.Masks, 2)
	assert.Len(t, response.Crops, 2)

	mask, err := images.DecodeDataURL(response.Masks[0])
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 8), mask.Bounds())
}

func TestSegmentReusesEncodedImage(t *testing.T) {
	segmenter := &fakeSegmenter{}
	s := New(Options{Segmenter: segmenter, Metrics: metrics.New()})
	t.Cleanup(s.Close)

	src, err := images.Encode(image.NewRGBA(image.Rect(0, 0, 8, 8)), images.FormatPNG)
	require.NoError(t, err)
	body := map[string]any{
		"image":  src.DataURL(),
		"points": []map[string]any{{"x": 2, "y": 2, "label": 1}},
	}

	var first, second segmentResponse
	rec := do(t, s, http.MethodPost, "/api/segment", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	body["points"] = []map[string]any{{"x": 2, "y": 2, "label": 1}, {"x": 6, "y": 6, "label": 0}}
	rec = do(t, s, http.MethodPost, "/api/segment", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))

	assert.True(t, first.Encoded)
	assert.False(t, second.Encoded)
	assert.Equal(t, 1, segmenter.encodes)
}

func TestSegmentErrors(t *testing.T) {
	s, _, _ := newServer(t)
	rec := do(t, s, http.MethodPost, "/api/segment", map[string]any{"image": "not base64!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.options.Segmenter = &fakeSegmenter{encodeErr: segmentation.ErrNotInitialized}
	src, err := images.Encode(image.NewRGBA(image.Rect(0, 0, 4, 4)), images.FormatPNG)
	require.NoError(t, err)
	rec = do(t, s, http.MethodPost, "/api/segment", map[string]any{"image": src.DataURL()})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEvents(t *testing.T) {
	s, _, events := newServer(t)
	events.events = []*detector.Event{{ID: uuid.New(), Detected: true, Message: "Detected: a fox"}}

	rec := do(t, s, http.MethodGet, "/api/events?limit=5&detected=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, events.query.Limit)
	assert.True(t, events.query.DetectedOnly)

	var got []detector.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Detected: a fox", got[0].Message)

	rec = do(t, s, http.MethodGet, "/api/events?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissingDependenciesAreUnavailable(t *testing.T) {
	s := New(Options{})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/api/events", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodPost, "/api/monitor/stop", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/status", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newServer(t)
	s.options.Metrics.Tick()

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sentinel_")
}

func TestWebsocketReceivesEvents(t *testing.T) {
	s, _, _ := newServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	event := &detector.Event{ID: uuid.New(), Detected: true, Message: "Detected: a fox"}
	s.Publish(event)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got detector.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, event.ID, got.ID)
	assert.True(t, got.Detected)
}
