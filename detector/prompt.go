package detector

import (
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	"github.com/nvr-ai/sentinel/images"
)

// Payload is the JSON body sent to the vision endpoint.
type Payload struct {
	Image           string        `json:"image,omitempty"`
	Frames          []string      `json:"frames,omitempty"`
	Target          TargetPayload `json:"target"`
	IsComplexAction bool          `json:"isComplexAction"`
	MotionData      MotionData    `json:"motionData"`
	Prompt          string        `json:"prompt"`
	Focus           string        `json:"focus,omitempty"`
}

// TargetPayload is the wire form of a Target.
type TargetPayload struct {
	Description    string  `json:"description"`
	Confidence     float64 `json:"confidence"`
	ReferenceImage string  `json:"referenceImage,omitempty"`
}

// MotionData describes the motion that triggered the request.
type MotionData struct {
	ChangePercent   float64 `json:"changePercent"`
	FrameCount      int     `json:"frameCount"`
	IntervalSeconds float64 `json:"intervalSeconds"`
}

// BuildPayload validates req and renders it as a Payload. Images are sent as JPEG data URLs.
//
// Arguments:
//   - req: The detection request.
//
// Returns:
//   - *Payload: The request body.
//   - error: A *ConfigurationError for a missing target or frames, or an encoding error.
func BuildPayload(req Request) (*Payload, error) {
	if strings.TrimSpace(req.Target.Description) == "" {
		return nil, &ConfigurationError{Field: "target", Message: "a target description is required"}
	}
	if req.Target.Confidence < 0 || req.Target.Confidence > 1 {
		return nil, &ConfigurationError{Field: "target.confidence", Message: "must be within [0, 1]"}
	}
	if len(req.Frames) == 0 {
		return nil, &ConfigurationError{Field: "frames", Message: "at least one frame is required"}
	}

	payload := &Payload{
		Target: TargetPayload{
			Description: req.Target.Description,
			Confidence:  req.Target.Confidence,
		},
		IsComplexAction: req.Complex,
		MotionData: MotionData{
			ChangePercent:   math.Round(req.ChangePercent*100) / 100,
			FrameCount:      len(req.Frames),
			IntervalSeconds: req.Interval.Seconds(),
		},
		Prompt: Prompt(req.Target.Description, len(req.Frames), req.Interval),
	}

	var err error
	if len(req.Frames) == 1 {
		if payload.Image, err = encode(req.Frames[0]); err != nil {
			return nil, err
		}
	} else {
		payload.Frames = make([]string, len(req.Frames))
		for i, frame := range req.Frames {
			if payload.Frames[i], err = encode(frame); err != nil {
				return nil, err
			}
		}
	}

	if req.Target.ReferenceImage != nil {
		if payload.Target.ReferenceImage, err = encode(req.Target.ReferenceImage); err != nil {
			return nil, err
		}
	}
	if req.Focus != nil {
		if payload.Focus, err = encode(req.Focus); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// Newest returns the most recent frame's data URL.
func (p *Payload) Newest() string {
	if p.Image != "" {
		return p.Image
	}
	if len(p.Frames) > 0 {
		return p.Frames[len(p.Frames)-1]
	}
	return ""
}

func encode(img image.Image) (string, error) {
	url, err := images.JPEGDataURL(img)
	if err != nil {
		return "", fmt.Errorf("failed to encode frame: %w", err)
	}
	return url, nil
}

const answerFormat = `Respond only with JSON: {"detected": boolean, "confidence": number between 0 and 1, ` +
	`"reasoning": string, "urgency": "low" | "medium" | "high", "recommended_action": string}.`

// Prompt builds the instruction for a single frame or an ordered frame sequence.
func Prompt(description string, frames int, interval time.Duration) string {
	if frames <= 1 {
		return fmt.Sprintf(
			"You are monitoring a security camera. Look at this image and decide whether it shows: %q. %s",
			description, answerFormat,
		)
	}

	return fmt.Sprintf(
		"You are monitoring a security camera. These %d frames were captured %s seconds apart, "+
			"oldest first. Compare them to understand what is happening over time and decide whether "+
			"they show: %q. Pay attention to movement between frames. %s",
		frames, formatSeconds(interval), description, answerFormat,
	)
}

func formatSeconds(d time.Duration) string {
	if d <= 0 {
		return "a few"
	}
	s := fmt.Sprintf("%.1f", d.Seconds())
	return strings.TrimSuffix(s, ".0")
}
