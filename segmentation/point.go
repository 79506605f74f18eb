package segmentation

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParsePoint parses "x,y" or "x,y,<label>" where label is "+", "-", "1", "0", "positive" or
// "negative". The label defaults to Positive.
func ParsePoint(s string) (Point, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) < 2 || len(parts) > 3 {
		return Point{}, errors.Errorf("invalid point %q: want x,y[,label]", s)
	}

	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, errors.Wrapf(err, "invalid point %q", s)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, errors.Wrapf(err, "invalid point %q", s)
	}
	if x < 0 || y < 0 {
		return Point{}, errors.Errorf("invalid point %q: coordinates must not be negative", s)
	}

	p := Point{X: x, Y: y, Label: Positive}
	if len(parts) == 3 {
		switch strings.ToLower(strings.TrimSpace(parts[2])) {
		case "+", "1", "positive", "pos":
		case "-", "0", "negative", "neg":
			p.Label = Negative
		default:
			return Point{}, errors.Errorf("invalid point label in %q", s)
		}
	}
	return p, nil
}

// ParsePoints parses each entry with ParsePoint.
func ParsePoints(specs []string) ([]Point, error) {
	points := make([]Point, 0, len(specs))
	for _, spec := range specs {
		p, err := ParsePoint(spec)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}
