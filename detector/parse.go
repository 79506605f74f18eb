package detector

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ParseMethod records how a Verdict was recovered from the response.
type ParseMethod string

// ParseMethod constants.
const (
	ParsedJSON      ParseMethod = "json"
	ParsedEmbedded  ParseMethod = "embedded_json"
	ParsedHeuristic ParseMethod = "heuristic"
)

// HeuristicConfidence is assigned to verdicts recovered by keyword matching.
const HeuristicConfidence = 0.3

var detectionKeywords = []string{"true", "detected", "falling", "weapon"}

// ParseVerdict interprets the vision model's answer.
//
// It tries strict JSON, then the first balanced brace-delimited substring, then falls back to
// keyword matching with HeuristicConfidence.
//
// Arguments:
//   - body: The raw response text.
//
// Returns:
//   - Verdict: The interpreted answer.
//   - ParseMethod: Which strategy produced it.
func ParseVerdict(body string) (Verdict, ParseMethod) {
	if v, ok := decodeVerdict(body); ok {
		return v, ParsedJSON
	}
	if obj, ok := firstObject(body); ok {
		if v, ok := decodeVerdict(obj); ok {
			return v, ParsedEmbedded
		}
	}

	lower := strings.ToLower(body)
	v := Verdict{Reasoning: strings.TrimSpace(body)}
	for _, keyword := range detectionKeywords {
		if strings.Contains(lower, keyword) {
			v.Detected = true
			v.Confidence = HeuristicConfidence
			break
		}
	}
	return v, ParsedHeuristic
}

// wireVerdict tolerates confidences sent as strings and booleans sent as strings.
type wireVerdict struct {
	Detected          json.RawMessage `json:"detected"`
	Confidence        json.RawMessage `json:"confidence"`
	Reasoning         string          `json:"reasoning"`
	Urgency           string          `json:"urgency"`
	RecommendedAction string          `json:"recommended_action"`
}

func decodeVerdict(s string) (Verdict, bool) {
	var w wireVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &w); err != nil || w.Detected == nil {
		return Verdict{}, false
	}

	v := Verdict{
		Reasoning:         w.Reasoning,
		Urgency:           normalizeUrgency(w.Urgency),
		RecommendedAction: w.RecommendedAction,
	}

	var detected bool
	if err := json.Unmarshal(w.Detected, &detected); err != nil {
		var text string
		if err := json.Unmarshal(w.Detected, &text); err != nil {
			return Verdict{}, false
		}
		detected = strings.EqualFold(strings.TrimSpace(text), "true")
	}
	v.Detected = detected

	if w.Confidence != nil {
		var confidence float64
		if err := json.Unmarshal(w.Confidence, &confidence); err != nil {
			var text string
			if err := json.Unmarshal(w.Confidence, &text); err == nil {
				confidence, _ = strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(text), "%"), 64)
			}
		}
		if confidence > 1 && confidence <= 100 {
			confidence /= 100
		}
		v.Confidence = clamp01(confidence)
	}
	return v, true
}

// firstObject returns the first balanced {...} substring, skipping braces inside JSON strings.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth, inString, escaped := 0, false, false
		for i := start; i < len(s); i++ {
			c := s[i]
			switch {
			case escaped:
				escaped = false
			case inString && c == '\\':
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func normalizeUrgency(s string) Urgency {
	switch Urgency(strings.ToLower(strings.TrimSpace(s))) {
	case UrgencyLow:
		return UrgencyLow
	case UrgencyMedium:
		return UrgencyMedium
	case UrgencyHigh:
		return UrgencyHigh
	default:
		return ""
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
