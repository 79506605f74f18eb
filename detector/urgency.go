package detector

import (
	"strings"
)

var (
	highUrgencyKeywords = []string{
		"fall", "falling", "fallen", "collapsed", "unconscious", "weapon", "gun", "knife",
		"fire", "smoke", "emergency", "fighting", "blood", "intruder", "break-in", "breaking",
	}
	mediumUrgencyKeywords = []string{
		"suspicious", "climbing", "stranger", "person", "door", "window", "package", "loitering",
	}
)

// ClassifyUrgency grades a target description by keyword.
func ClassifyUrgency(description string) Urgency {
	lower := strings.ToLower(description)
	for _, keyword := range highUrgencyKeywords {
		if strings.Contains(lower, keyword) {
			return UrgencyHigh
		}
	}
	for _, keyword := range mediumUrgencyKeywords {
		if strings.Contains(lower, keyword) {
			return UrgencyMedium
		}
	}
	return UrgencyLow
}

// RecommendedAction suggests a response for a high-urgency detection.
func RecommendedAction(description string) string {
	lower := strings.ToLower(description)
	switch {
	case containsAny(lower, "fall", "collapsed", "unconscious"):
		return "Check on the person immediately and call emergency services if they do not respond."
	case containsAny(lower, "weapon", "gun", "knife", "fighting"):
		return "Stay clear of the area and contact the police."
	case containsAny(lower, "fire", "smoke"):
		return "Evacuate and call the fire department."
	case containsAny(lower, "intruder", "break-in", "breaking"):
		return "Do not confront the intruder. Contact the police and keep recording."
	default:
		return "Review the live feed now and contact emergency services if needed."
	}
}

func containsAny(s string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}
