// Package metrics exposes the watcher's counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Skip reasons reported by the scheduler.
const (
	SkipNoMotion    = "no_motion"
	SkipWarmup      = "warmup"
	SkipBusy        = "busy"
	SkipReadError   = "read_error"
	SkipInactive    = "inactive"
	OutcomeDetected = "detected"
	OutcomeClear    = "clear"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
	OutcomeDropped  = "dropped"
)

// Metrics holds all application metrics. All methods are safe on a nil receiver.
type Metrics struct {
	// Scheduler counters
	Ticks      atomic.Uint64
	Dispatched atomic.Uint64

	// Engine state: 0 = uninitialized, 1 = loading, 2 = real, 3 = demo.
	EngineStatus atomic.Int64

	// Last observed motion change, in hundredths of a percent.
	LastChangeBasisPoints atomic.Uint64

	skips              *prometheus.CounterVec
	detections         *prometheus.CounterVec
	detectionLatency   prometheus.Histogram
	segmentLatency     *prometheus.HistogramVec
	encodeLatency      prometheus.Histogram
	websocketListeners atomic.Int64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.skips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_ticks_skipped_total",
		Help: "Capture ticks that did not reach detection, by reason",
	}, []string{"reason"})

	m.detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_detections_total",
		Help: "Detection cycles by outcome",
	}, []string{"outcome"})

	m.detectionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_detection_duration_seconds",
		Help:    "Latency of the vision detection call",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	m.segmentLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_segment_duration_seconds",
		Help:    "Latency of point-prompted segmentation, by mode",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"mode"})

	m.encodeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_encode_duration_seconds",
		Help:    "Latency of the image encoder",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	m.registry.MustRegister(m.skips, m.detections, m.detectionLatency, m.segmentLatency, m.encodeLatency)

	// Runtime memory, GC and goroutine samples.
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_ticks_total",
			Help: "Total capture ticks fired",
		},
		func() float64 { return float64(m.Ticks.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_dispatched_total",
			Help: "Total detection cycles dispatched",
		},
		func() float64 { return float64(m.Dispatched.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_engine_status",
			Help: "Segmentation engine status (0=uninitialized, 1=loading, 2=real, 3=demo)",
		},
		func() float64 { return float64(m.EngineStatus.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_motion_change_percent",
			Help: "Changed pixel percentage of the last motion check",
		},
		func() float64 { return float64(m.LastChangeBasisPoints.Load()) / 100 },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentinel_websocket_listeners",
			Help: "Connected event stream listeners",
		},
		func() float64 { return float64(m.websocketListeners.Load()) },
	))
}

// Tick counts a fired capture tick.
func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.Ticks.Add(1)
}

// Skip counts a tick that stopped before detection.
func (m *Metrics) Skip(reason string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(reason).Inc()
}

// Motion records the change percentage of the last motion check.
func (m *Metrics) Motion(changePercent float64) {
	if m == nil || changePercent < 0 {
		return
	}
	m.LastChangeBasisPoints.Store(uint64(changePercent * 100))
}

// Dispatch counts a detection cycle handed to the orchestrator.
func (m *Metrics) Dispatch() {
	if m == nil {
		return
	}
	m.Dispatched.Add(1)
}

// Detection records the outcome and latency of a detection cycle.
func (m *Metrics) Detection(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(outcome).Inc()
	if outcome != OutcomeDropped {
		m.detectionLatency.Observe(duration.Seconds())
	}
}

// Segment records a segmentation latency.
func (m *Metrics) Segment(mode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.segmentLatency.WithLabelValues(mode).Observe(duration.Seconds())
}

// Encode records an encoder latency.
func (m *Metrics) Encode(duration time.Duration) {
	if m == nil {
		return
	}
	m.encodeLatency.Observe(duration.Seconds())
}

// Engine records the segmentation engine status.
func (m *Metrics) Engine(status int) {
	if m == nil {
		return
	}
	m.EngineStatus.Store(int64(status))
}

// Listeners adjusts the connected event stream listener gauge.
func (m *Metrics) Listeners(delta int) {
	if m == nil {
		return
	}
	m.websocketListeners.Add(int64(delta))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
