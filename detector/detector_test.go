package detector

import (
	"context"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 32, 24))
}

type stubClient struct {
	body     string
	err      error
	payloads []*Payload
}

func (c *stubClient) Analyze(_ context.Context, payload *Payload) ([]byte, error) {
	c.payloads = append(c.payloads, payload)
	return []byte(c.body), c.err
}

func TestBuildPayloadRequiresTarget(t *testing.T) {
	_, err := BuildPayload(Request{Frames: []image.Image{frame()}, Target: Target{Description: "  "}})

	var configErr *ConfigurationError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "target", configErr.Field)
}

func TestBuildPayloadSingleFrame(t *testing.T) {
	payload, err := BuildPayload(Request{
		Frames:        []image.Image{frame()},
		Target:        Target{Description: "a cat on the sofa", Confidence: 0.6},
		ChangePercent: 4.256,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(payload.Image, "data:image/jpeg;base64,"))
	assert.Empty(t, payload.Frames)
	assert.Empty(t, payload.Focus)
	assert.Equal(t, 1, payload.MotionData.FrameCount)
	assert.Equal(t, 4.26, payload.MotionData.ChangePercent)
	assert.NotContains(t, payload.Prompt, "seconds apart")
	assert.Contains(t, payload.Prompt, "a cat on the sofa")
	assert.Equal(t, payload.Image, payload.Newest())
}

func TestBuildPayloadMultiFrame(t *testing.T) {
	payload, err := BuildPayload(Request{
		Frames:   []image.Image{frame(), frame(), frame()},
		Focus:    frame(),
		Target:   Target{Description: "someone falling", Confidence: 0.5, ReferenceImage: frame()},
		Complex:  true,
		Interval: 2 * time.Second,
	})
	require.NoError(t, err)

	assert.Empty(t, payload.Image)
	assert.Len(t, payload.Frames, 3)
	assert.True(t, payload.IsComplexAction)
	assert.NotEmpty(t, payload.Focus)
	assert.NotEmpty(t, payload.Target.ReferenceImage)
	assert.Contains(t, payload.Prompt, "3 frames were captured 2 seconds apart")
	assert.Equal(t, 2.0, payload.MotionData.IntervalSeconds)
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		method     ParseMethod
		detected   bool
		confidence float64
	}{
		{"strict", `{"detected": true, "confidence": 0.82, "reasoning": "cat visible"}`, ParsedJSON, true, 0.82},
		{"embedded", "Sure! ```json\n{\"detected\": false, \"confidence\": 0.1, \"reasoning\": \"empty {room}\"}\n```", ParsedEmbedded, false, 0.1},
		{"string fields", `{"detected": "true", "confidence": "90%"}`, ParsedJSON, true, 0.9},
		{"percent scale", `{"detected": true, "confidence": 75}`, ParsedJSON, true, 0.75},
		{"keyword", "The person appears to be falling near the stairs.", ParsedHeuristic, true, HeuristicConfidence},
		{"nothing", "I cannot tell.", ParsedHeuristic, false, 0},
		{"empty", "", ParsedHeuristic, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, method := ParseVerdict(tt.body)
			assert.Equal(t, tt.method, method)
			assert.Equal(t, tt.detected, verdict.Detected)
			assert.InDelta(t, tt.confidence, verdict.Confidence, 1e-9)
		})
	}
}

func TestFirstObjectSkipsBracesInStrings(t *testing.T) {
	obj, ok := firstObject(`noise {"a": "}{", "b": {"c": 1}} trailing }`)
	require.True(t, ok)
	assert.Equal(t, `{"a": "}{", "b": {"c": 1}}`, obj)

	_, ok = firstObject("{ unbalanced")
	assert.False(t, ok)
}

func TestClassifyUrgency(t *testing.T) {
	assert.Equal(t, UrgencyHigh, ClassifyUrgency("Grandma has fallen"))
	assert.Equal(t, UrgencyHigh, ClassifyUrgency("someone holding a knife"))
	assert.Equal(t, UrgencyMedium, ClassifyUrgency("a stranger at the door"))
	assert.Equal(t, UrgencyLow, ClassifyUrgency("the dog on the couch"))
}

func TestDetectThresholdForcesNotDetected(t *testing.T) {
	client := &stubClient{body: `{"detected": true, "confidence": 0.55, "reasoning": "maybe"}`}
	orchestrator := NewOrchestrator(client, nil)

	event, err := orchestrator.Detect(context.Background(), Request{
		Frames: []image.Image{frame()},
		Target: Target{Description: "a delivery van", Confidence: 0.7},
	})
	require.NoError(t, err)
	assert.False(t, event.Detected)
	assert.Equal(t, 0.55, event.Confidence)
	assert.False(t, event.Degraded)
	assert.Equal(t, UrgencyLow, event.Urgency)
	assert.Equal(t, 1, event.FrameCount)
	assert.NotEmpty(t, event.Image)
}

func TestDetectBackfillsHighUrgency(t *testing.T) {
	client := &stubClient{body: `{"result": "{\"detected\": true, \"confidence\": 0.93, \"reasoning\": \"on the floor\"}"}`}
	orchestrator := NewOrchestrator(client, nil)

	event, err := orchestrator.Detect(context.Background(), Request{
		Frames:        []image.Image{frame(), frame()},
		Target:        Target{Description: "a person falling", Confidence: 0.5},
		ChangePercent: 12,
		Complex:       true,
	})
	require.NoError(t, err)
	assert.True(t, event.Detected)
	assert.Equal(t, UrgencyHigh, event.Urgency)
	assert.NotEmpty(t, event.RecommendedAction)
	assert.Equal(t, 2, event.FrameCount)
	assert.Equal(t, 12.0, event.ChangePercent)
	assert.Contains(t, event.Message, "93%")
	assert.Equal(t, client.payloads[0].Frames[1], event.Image)
}

func TestDetectUpstreamFailureIsDegraded(t *testing.T) {
	client := &stubClient{err: &UpstreamError{StatusCode: 502, Body: "bad gateway"}}
	orchestrator := NewOrchestrator(client, nil)

	event, err := orchestrator.Detect(context.Background(), Request{
		Frames: []image.Image{frame()},
		Target: Target{Description: "a weapon", Confidence: 0.1},
	})
	require.NoError(t, err)
	assert.True(t, event.Degraded)
	assert.False(t, event.Detected)
	assert.Zero(t, event.Confidence)
	assert.Empty(t, event.RecommendedAction)
	assert.Contains(t, event.Reasoning, "502")
}

func TestDetectConfigurationError(t *testing.T) {
	orchestrator := NewOrchestrator(&stubClient{}, nil)
	_, err := orchestrator.Detect(context.Background(), Request{Frames: []image.Image{frame()}})

	var configErr *ConfigurationError
	assert.True(t, errors.As(err, &configErr))
}
