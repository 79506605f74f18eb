// Package segmentation runs point-prompted SAM2 segmentation with a demo fallback.
package segmentation

import (
	"fmt"
	"image"
	"time"
)

// Label marks a point prompt as foreground or background.
type Label int

// Label constants. The numeric values are the decoder's point labels.
const (
	Negative Label = 0
	Positive Label = 1
)

// String implements fmt.Stringer.
func (l Label) String() string {
	if l == Positive {
		return "positive"
	}
	return "negative"
}

// Point is a prompt in the pixel space of the image being segmented.
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label Label   `json:"label"`
}

// Mode tells callers whether results came from the model or the demo generator.
type Mode string

// Mode constants.
const (
	ModeNone Mode = "none"
	ModeReal Mode = "real"
	ModeDemo Mode = "demo"
)

// Status is the engine lifecycle state.
type Status int

// Status constants.
const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusReadyReal
	StatusReadyDemo
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusReadyReal:
		return "ready_real"
	case StatusReadyDemo:
		return "ready_demo"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Mode maps a ready status to its mode.
func (s Status) Mode() Mode {
	switch s {
	case StatusReadyReal:
		return ModeReal
	case StatusReadyDemo:
		return ModeDemo
	default:
		return ModeNone
	}
}

// Result is the outcome of one segmentation call. Masks, Scores and Crops are index-aligned.
type Result struct {
	// Masks are binary, every pixel 0 or 255.
	Masks []*image.Gray
	// Scores are the per-mask quality estimates, not sorted.
	Scores []float32
	// Crops are the source image cut to each mask, nil for empty masks or when no source image
	// was given.
	Crops          []*image.NRGBA
	ProcessingTime time.Duration
	Mode           Mode
}

// Len returns the number of masks.
func (r *Result) Len() int {
	return len(r.Masks)
}
