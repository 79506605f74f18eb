// Package server exposes segmentation, monitoring control and detection history over HTTP, and
// streams detection events over a websocket.
package server

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/sentinel/controller"
	"github.com/nvr-ai/sentinel/detector"
	"github.com/nvr-ai/sentinel/images"
	"github.com/nvr-ai/sentinel/journal"
	"github.com/nvr-ai/sentinel/logging"
	"github.com/nvr-ai/sentinel/metrics"
	"github.com/nvr-ai/sentinel/segmentation"
)

// maxBodyBytes bounds request bodies, which carry base64 frames.
const maxBodyBytes = 32 << 20

// Monitor controls the monitoring session.
type Monitor interface {
	Start(ctx context.Context) error
	Stop()
	Status() controller.Status
	SetTarget(target detector.Target) error
	SetFocusPoints(points []segmentation.Point)
	SetInterval(interval time.Duration)
}

// Segmenter runs point-prompted segmentation.
type Segmenter interface {
	Status() segmentation.Status
	EnsureEncoded(ctx context.Context, img image.Image) (bool, error)
	Segment(ctx context.Context, img image.Image, points []segmentation.Point) (*segmentation.Result, error)
}

// EventStore reads the detection history.
type EventStore interface {
	Recent(ctx context.Context, query journal.Query) ([]*detector.Event, error)
}

// Options configures a Server. Any dependency may be nil; its routes then answer 503.
type Options struct {
	Monitor   Monitor
	Segmenter Segmenter
	Events    EventStore
	Metrics   *metrics.Metrics
	Logger    *zap.Logger

	// Context is the parent of monitoring sessions started over HTTP. Defaults to Background.
	Context context.Context
}

// Server routes the HTTP API.
type Server struct {
	options Options
	logger  *zap.Logger
	hub     *Hub
	router  *mux.Router
}

// New creates a server and registers its routes.
func New(options Options) *Server {
	if options.Context == nil {
		options.Context = context.Background()
	}
	logger := logging.OrNop(options.Logger).Named("server")

	s := &Server{
		options: options,
		logger:  logger,
		hub:     NewHub(logger, options.Metrics),
		router:  mux.NewRouter(),
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.status).Methods(http.MethodGet)
	api.HandleFunc("/segment", s.segment).Methods(http.MethodPost)
	api.HandleFunc("/monitor/start", s.startMonitor).Methods(http.MethodPost)
	api.HandleFunc("/monitor/stop", s.stopMonitor).Methods(http.MethodPost)
	api.HandleFunc("/events", s.events).Methods(http.MethodGet)

	s.router.Handle("/ws/events", s.hub).Methods(http.MethodGet)
	s.router.Handle("/metrics", options.Metrics.Handler()).Methods(http.MethodGet)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Publish sends a detection event to every websocket listener.
func (s *Server) Publish(event *detector.Event) {
	s.hub.Broadcast(event)
}

// Close disconnects websocket listeners.
func (s *Server) Close() {
	s.hub.Close()
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, err error) {
	response := errorResponse{Error: err.Error()}
	var configErr *detector.ConfigurationError
	if errors.As(err, &configErr) {
		response.Field = configErr.Field
	}
	respondJSON(w, status, response)
}

var errUnavailable = errors.New("not available")

func decode(r *http.Request, w http.ResponseWriter, into any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

type statusResponse struct {
	Monitor      *controller.Status `json:"monitor,omitempty"`
	Segmentation string             `json:"segmentation"`
	Mode         segmentation.Mode  `json:"mode"`
	Listeners    int                `json:"listeners"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	response := statusResponse{
		Segmentation: segmentation.StatusUninitialized.String(),
		Mode:         segmentation.ModeNone,
		Listeners:    s.hub.Len(),
	}
	if s.options.Monitor != nil {
		status := s.options.Monitor.Status()
		response.Monitor = &status
	}
	if s.options.Segmenter != nil {
		status := s.options.Segmenter.Status()
		response.Segmentation = status.String()
		response.Mode = status.Mode()
	}
	respondJSON(w, http.StatusOK, response)
}

type startRequest struct {
	Target          detector.Target      `json:"target"`
	IntervalSeconds float64              `json:"interval_seconds"`
	Points          []segmentation.Point `json:"points"`
}

func (s *Server) startMonitor(w http.ResponseWriter, r *http.Request) {
	if s.options.Monitor == nil {
		respondError(w, http.StatusServiceUnavailable, errUnavailable)
		return
	}

	var req startRequest
	if err := decode(r, w, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	monitor := s.options.Monitor
	if err := monitor.SetTarget(req.Target); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.IntervalSeconds > 0 {
		monitor.SetInterval(time.Duration(req.IntervalSeconds * float64(time.Second)))
	}
	if req.Points != nil {
		monitor.SetFocusPoints(req.Points)
	}

	if err := monitor.Start(s.options.Context); err != nil {
		status := http.StatusInternalServerError
		var configErr *detector.ConfigurationError
		switch {
		case errors.Is(err, controller.ErrRunning):
			status = http.StatusConflict
		case errors.As(err, &configErr):
			status = http.StatusBadRequest
		}
		respondError(w, status, err)
		return
	}
	respondJSON(w, http.StatusOK, monitor.Status())
}

func (s *Server) stopMonitor(w http.ResponseWriter, _ *http.Request) {
	if s.options.Monitor == nil {
		respondError(w, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	s.options.Monitor.Stop()
	respondJSON(w, http.StatusOK, s.options.Monitor.Status())
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	if s.options.Events == nil {
		respondError(w, http.StatusServiceUnavailable, errUnavailable)
		return
	}

	query := journal.Query{Limit: 50}
	values := r.URL.Query()
	if v := values.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > 1000 {
			respondError(w, http.StatusBadRequest, errors.New("limit must be within [1, 1000]"))
			return
		}
		query.Limit = limit
	}
	query.DetectedOnly, _ = strconv.ParseBool(values.Get("detected"))
	query.WithImages, _ = strconv.ParseBool(values.Get("images"))
	if v := values.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.Wrap(err, "since must be RFC 3339"))
			return
		}
		query.Since = since
	}

	events, err := s.options.Events.Recent(r.Context(), query)
	if err != nil {
		s.logger.Error("failed to read events", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []*detector.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

type segmentRequest struct {
	// Image is a data URL or bare base64 JPEG, PNG, WebP or BMP.
	Image  string               `json:"image"`
	Points []segmentation.Point `json:"points"`
}

type segmentResponse struct {
	Mode             segmentation.Mode `json:"mode"`
	Encoded          bool              `json:"encoded"`
	Scores           []float32         `json:"scores"`
	Masks            []string          `json:"masks"`
	Crops            []string          `json:"crops"`
	ProcessingTimeMS float64           `json:"processing_time_ms"`
}

func (s *Server) segment(w http.ResponseWriter, r *http.Request) {
	if s.options.Segmenter == nil {
		respondError(w, http.StatusServiceUnavailable, errUnavailable)
		return
	}

	var req segmentRequest
	if err := decode(r, w, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	img, err := images.DecodeDataURL(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	segmenter := s.options.Segmenter
	encoded, err := segmenter.EnsureEncoded(r.Context(), img)
	if err != nil {
		respondError(w, segmentationStatus(err), err)
		return
	}
	result, err := segmenter.Segment(r.Context(), img, req.Points)
	if err != nil {
		respondError(w, segmentationStatus(err), err)
		return
	}

	response, err := encodeResult(result)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	response.Encoded = encoded
	respondJSON(w, http.StatusOK, response)
}

func segmentationStatus(err error) int {
	switch {
	case errors.Is(err, segmentation.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, segmentation.ErrEmbeddingStale):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// encodeResult renders masks and crops as PNG data URLs. Empty crops become empty strings.
func encodeResult(result *segmentation.Result) (*segmentResponse, error) {
	response := &segmentResponse{
		Mode:             result.Mode,
		Scores:           append([]float32{}, result.Scores...),
		Masks:            make([]string, len(result.Masks)),
		Crops:            make([]string, len(result.Masks)),
		ProcessingTimeMS: float64(result.ProcessingTime) / float64(time.Millisecond),
	}
	for i, mask := range result.Masks {
		encoded, err := images.Encode(mask, images.FormatPNG)
		if err != nil {
			return nil, err
		}
		response.Masks[i] = encoded.DataURL()
	}
	for i, crop := range result.Crops {
		if crop == nil || i >= len(response.Crops) {
			continue
		}
		encoded, err := images.Encode(crop, images.FormatPNG)
		if err != nil {
			return nil, err
		}
		response.Crops[i] = encoded.DataURL()
	}
	return response, nil
}
