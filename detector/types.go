// Package detector turns captured frames into detection events using an external vision model.
package detector

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// Target is what the user asked to watch for.
type Target struct {
	Description string `json:"description" mapstructure:"description"`

	// Confidence is the minimum confidence, in [0, 1], for a detection to count.
	Confidence float64 `json:"confidence" mapstructure:"confidence"`

	// ReferenceImage optionally shows what the target looks like.
	ReferenceImage image.Image `json:"-" mapstructure:"-"`
}

// Request is one detection cycle's input.
type Request struct {
	// Frames are ordered oldest to newest. A single-frame request has one entry.
	Frames []image.Image

	// Focus is an optional crop of the most relevant region of the newest frame.
	Focus image.Image

	Target Target

	// ChangePercent is the motion gate's measurement for the newest frame.
	ChangePercent float64

	// Complex marks targets that need temporal context.
	Complex bool

	// Interval is the time between consecutive frames.
	Interval time.Duration
}

// Urgency grades how quickly a detection needs attention.
type Urgency string

// Urgency constants.
const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Verdict is the vision model's answer.
type Verdict struct {
	Detected          bool    `json:"detected"`
	Confidence        float64 `json:"confidence"`
	Reasoning         string  `json:"reasoning"`
	Urgency           Urgency `json:"urgency,omitempty"`
	RecommendedAction string  `json:"recommended_action,omitempty"`
}

// Event is emitted once per completed detection cycle.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Detected   bool      `json:"detected"`
	Confidence float64   `json:"confidence"`

	// Image is the newest analysed frame as a JPEG data URL.
	Image string `json:"image,omitempty"`

	Message           string  `json:"message"`
	Reasoning         string  `json:"reasoning,omitempty"`
	Urgency           Urgency `json:"urgency"`
	RecommendedAction string  `json:"recommended_action,omitempty"`
	FrameCount        int     `json:"frame_count"`
	ChangePercent     float64 `json:"change_percent"`

	// Degraded is set when the upstream call failed or its answer could not be parsed as JSON.
	Degraded bool `json:"degraded"`
}
