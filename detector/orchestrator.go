package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nvr-ai/sentinel/logging"
)

// Orchestrator runs one detection cycle: build the payload, call the vision model, interpret the
// answer and enrich it into an Event.
type Orchestrator struct {
	client VisionClient
	logger *zap.Logger
	now    func() time.Time
}

// NewOrchestrator creates an orchestrator around client.
func NewOrchestrator(client VisionClient, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{client: client, logger: logging.OrNop(logger), now: time.Now}
}

// Detect analyses the request's frames.
//
// Upstream failures never surface as errors: they produce an Event with Degraded set and
// Detected false.
//
// Arguments:
//   - ctx: Bounds the upstream call.
//   - req: The frames, target and motion context.
//
// Returns:
//   - *Event: The enriched event.
//   - error: A *ConfigurationError if the request cannot be sent.
func (o *Orchestrator) Detect(ctx context.Context, req Request) (*Event, error) {
	payload, err := BuildPayload(req)
	if err != nil {
		return nil, err
	}

	var (
		verdict  Verdict
		method   ParseMethod
		degraded bool
	)

	body, err := o.client.Analyze(ctx, payload)
	if err != nil {
		o.logger.Warn("vision request failed", zap.Error(err))
		verdict, _ = ParseVerdict("")
		verdict.Reasoning = err.Error()
		degraded = true
	} else {
		verdict, method = ParseVerdict(answerText(body))
		degraded = method == ParsedHeuristic
		if degraded {
			o.logger.Debug("vision answer was not JSON", zap.Int("bytes", len(body)))
		}
	}

	return o.enrich(req, payload, verdict, degraded), nil
}

func (o *Orchestrator) enrich(req Request, payload *Payload, verdict Verdict, degraded bool) *Event {
	description := strings.TrimSpace(req.Target.Description)

	if verdict.Confidence < req.Target.Confidence {
		verdict.Detected = false
	}
	if verdict.Urgency == "" {
		verdict.Urgency = ClassifyUrgency(description)
	}
	if verdict.Detected && verdict.Urgency == UrgencyHigh && verdict.RecommendedAction == "" {
		verdict.RecommendedAction = RecommendedAction(description)
	}

	event := &Event{
		ID:                uuid.New(),
		Timestamp:         o.now(),
		Detected:          verdict.Detected,
		Confidence:        verdict.Confidence,
		Image:             payload.Newest(),
		Reasoning:         verdict.Reasoning,
		Urgency:           verdict.Urgency,
		RecommendedAction: verdict.RecommendedAction,
		FrameCount:        len(req.Frames),
		ChangePercent:     req.ChangePercent,
		Degraded:          degraded,
	}
	event.Message = message(description, verdict, degraded)
	return event
}

func message(description string, verdict Verdict, degraded bool) string {
	switch {
	case verdict.Detected:
		return fmt.Sprintf("Detected: %s (%.0f%% confidence)", description, verdict.Confidence*100)
	case degraded && verdict.Confidence == 0:
		return fmt.Sprintf("Could not analyse the frame for: %s", description)
	default:
		return fmt.Sprintf("No match for: %s", description)
	}
}

// answerText unwraps endpoints that return the model's text inside a JSON envelope.
func answerText(body []byte) string {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return string(body)
	}
	if _, ok := envelope["detected"]; ok {
		return string(body)
	}
	for _, key := range []string{"result", "content", "text", "response", "output"} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			return text
		}
		return string(raw)
	}
	return string(body)
}
