// Package benchmark measures segmentation latency across capture resolutions.
package benchmark

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/sentinel/images"
	"github.com/nvr-ai/sentinel/segmentation"
)

// Segmenter is the part of the segmentation engine under test.
type Segmenter interface {
	EncodeImage(ctx context.Context, img image.Image) error
	Segment(ctx context.Context, img image.Image, points []segmentation.Point) (*segmentation.Result, error)
}

// Scenario defines one benchmark configuration.
type Scenario struct {
	Name       string            `json:"name"`
	Resolution images.Resolution `json:"resolution"`
	Points     int               `json:"points"`
	Iterations int               `json:"iterations"`
	WarmupRuns int               `json:"warmup_runs"`
}

// DefaultScenarios covers the common camera presets with a single positive point.
func DefaultScenarios(iterations int) []Scenario {
	if iterations <= 0 {
		iterations = 10
	}
	var scenarios []Scenario
	for _, name := range []images.ResolutionType{images.ResolutionVGA, images.ResolutionHD, images.ResolutionFHD} {
		res, _ := images.ParseResolution(string(name))
		scenarios = append(scenarios, Scenario{
			Name:       string(name),
			Resolution: res,
			Points:     1,
			Iterations: iterations,
			WarmupRuns: 2,
		})
	}
	return scenarios
}

// LatencyStats summarizes a set of durations.
type LatencyStats struct {
	Min  time.Duration `json:"min"`
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P95  time.Duration `json:"p95"`
	Max  time.Duration `json:"max"`
}

// MemoryMetrics captures memory usage after a scenario.
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	NumGC           uint32 `json:"num_gc"`
}

// Result is the outcome of one scenario.
type Result struct {
	Scenario        Scenario          `json:"scenario"`
	Timestamp       time.Time         `json:"timestamp"`
	Mode            segmentation.Mode `json:"mode"`
	Encode          LatencyStats      `json:"encode"`
	Segment         LatencyStats      `json:"segment"`
	FramesPerSecond float64           `json:"frames_per_second"`
	Masks           int               `json:"masks"`
	Errors          int               `json:"errors"`
	Memory          MemoryMetrics     `json:"memory"`
}

// Run executes one scenario against seg.
//
// Arguments:
//   - ctx: Cancels the run between iterations.
//   - seg: The segmenter.
//   - scenario: The configuration.
//
// Returns:
//   - *Result: Latency and throughput for the measured iterations.
//   - error: An error if ctx is cancelled or every iteration failed.
func Run(ctx context.Context, seg Segmenter, scenario Scenario) (*Result, error) {
	if scenario.Iterations <= 0 {
		return nil, errors.Errorf("scenario %q: iterations must be positive", scenario.Name)
	}

	frame := Frame(scenario.Resolution)
	points := Points(scenario.Resolution, scenario.Points)
	result := &Result{Scenario: scenario, Timestamp: time.Now()}

	var encodes, segments []time.Duration
	start := time.Now()

	for i := 0; i < scenario.WarmupRuns+scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		t0 := time.Now()
		err := seg.EncodeImage(ctx, frame)
		t1 := time.Now()
		var out *segmentation.Result
		if err == nil {
			out, err = seg.Segment(ctx, frame, points)
		}
		t2 := time.Now()

		if i < scenario.WarmupRuns {
			start = t2
			continue
		}
		if err != nil {
			result.Errors++
			continue
		}
		encodes = append(encodes, t1.Sub(t0))
		segments = append(segments, t2.Sub(t1))
		result.Mode = out.Mode
		result.Masks = out.Len()
	}

	if len(segments) == 0 {
		return nil, errors.Errorf("scenario %q: every iteration failed", scenario.Name)
	}

	elapsed := time.Since(start)
	result.Encode = Summarize(encodes)
	result.Segment = Summarize(segments)
	if elapsed > 0 {
		result.FramesPerSecond = float64(len(segments)) / elapsed.Seconds()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	result.Memory = MemoryMetrics{
		AllocBytes:      mem.Alloc,
		TotalAllocBytes: mem.TotalAlloc,
		HeapAllocBytes:  mem.HeapAlloc,
		NumGC:           mem.NumGC,
	}
	return result, nil
}

// RunAll runs each scenario in order and stops at the first error.
func RunAll(ctx context.Context, seg Segmenter, scenarios []Scenario) ([]*Result, error) {
	results := make([]*Result, 0, len(scenarios))
	for _, scenario := range scenarios {
		result, err := Run(ctx, seg, scenario)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// Summarize computes nearest-rank statistics. An empty input yields zero stats.
func Summarize(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	rank := func(p float64) time.Duration {
		i := int(p*float64(len(sorted))+0.5) - 1
		return sorted[max(0, min(i, len(sorted)-1))]
	}
	return LatencyStats{
		Min:  sorted[0],
		Mean: total / time.Duration(len(sorted)),
		P50:  rank(0.50),
		P95:  rank(0.95),
		Max:  sorted[len(sorted)-1],
	}
}

// Frame synthesizes a gradient test frame at the resolution.
func Frame(res images.Resolution) *image.RGBA {
	w, h := res.Pixels.Width, res.Pixels.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

// Points spreads n positive points along the frame's diagonal.
func Points(res images.Resolution, n int) []segmentation.Point {
	points := make([]segmentation.Point, n)
	for i := range points {
		f := float64(i+1) / float64(n+1)
		points[i] = segmentation.Point{
			X:     f * float64(res.Pixels.Width),
			Y:     f * float64(res.Pixels.Height),
			Label: segmentation.Positive,
		}
	}
	return points
}

// WriteReport writes results as indented JSON.
func WriteReport(path string, results []*Result) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}
	return os.WriteFile(path, data, 0o644)
}
