package segmentation

import (
	"image"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// DemoOptions tunes the synthetic masks.
type DemoOptions struct {
	MinRadius float64 `mapstructure:"min_radius"`
	MaxRadius float64 `mapstructure:"max_radius"`
	MinScore  float32 `mapstructure:"min_score"`
	MaxScore  float32 `mapstructure:"max_score"`
	// Wobble is the largest relative deviation of the boundary from a circle.
	Wobble float64 `mapstructure:"wobble"`
}

// DefaultDemoOptions returns 40-120 px radii and scores in [0.85, 0.98].
func DefaultDemoOptions() DemoOptions {
	return DemoOptions{
		MinRadius: 40,
		MaxRadius: 120,
		MinScore:  0.85,
		MaxScore:  0.98,
		Wobble:    0.08,
	}
}

func (o DemoOptions) withDefaults() DemoOptions {
	d := DefaultDemoOptions()
	if o.MinRadius <= 0 {
		o.MinRadius = d.MinRadius
	}
	if o.MaxRadius < o.MinRadius {
		o.MaxRadius = math.Max(o.MinRadius, d.MaxRadius)
	}
	if o.MinScore <= 0 {
		o.MinScore = d.MinScore
	}
	if o.MaxScore < o.MinScore {
		o.MaxScore = o.MinScore
	}
	if o.Wobble < 0 || o.Wobble >= 1 {
		o.Wobble = d.Wobble
	}
	return o
}

// DemoGenerator synthesizes one roughly circular mask per positive point.
type DemoGenerator struct {
	options DemoOptions

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDemoGenerator creates a generator.
//
// Arguments:
//   - options: Radius, score and wobble ranges. Zero values take the defaults.
//   - source: The random source; nil seeds one from the clock.
//
// Returns:
//   - *DemoGenerator: The generator.
func NewDemoGenerator(options DemoOptions, source rand.Source) *DemoGenerator {
	if source == nil {
		now := uint64(time.Now().UnixNano())
		source = rand.NewPCG(now, now>>17|1)
	}
	return &DemoGenerator{options: options.withDefaults(), rng: rand.New(source)}
}

// Generate builds masks for the positive points over an image of the given size. Negative points
// produce nothing.
func (g *DemoGenerator) Generate(size image.Point, points []Point) *Result {
	start := time.Now()
	result := &Result{Mode: ModeDemo}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, p := range points {
		if p.Label != Positive {
			continue
		}
		radius := g.options.MinRadius + g.rng.Float64()*(g.options.MaxRadius-g.options.MinRadius)
		score := g.options.MinScore + g.rng.Float32()*(g.options.MaxScore-g.options.MinScore)

		result.Masks = append(result.Masks, g.blob(size, p.X, p.Y, radius))
		result.Scores = append(result.Scores, score)
	}

	result.ProcessingTime = time.Since(start)
	return result
}

// blob draws a disc whose radius varies with angle as the sum of two random harmonics.
func (g *DemoGenerator) blob(size image.Point, cx, cy, radius float64) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, size.X, size.Y))

	amp1 := g.options.Wobble * (0.3 + 0.4*g.rng.Float64())
	amp2 := g.options.Wobble - amp1
	freq1 := float64(3 + g.rng.IntN(3))
	freq2 := float64(6 + g.rng.IntN(4))
	phase1 := g.rng.Float64() * 2 * math.Pi
	phase2 := g.rng.Float64() * 2 * math.Pi

	outer := radius * (1 + g.options.Wobble)
	box := image.Rect(
		int(math.Floor(cx-outer)), int(math.Floor(cy-outer)),
		int(math.Ceil(cx+outer))+1, int(math.Ceil(cy+outer))+1,
	).Intersect(mask.Bounds())

	for y := box.Min.Y; y < box.Max.Y; y++ {
		dy := float64(y) + 0.5 - cy
		for x := box.Min.X; x < box.Max.X; x++ {
			dx := float64(x) + 0.5 - cx
			theta := math.Atan2(dy, dx)
			edge := radius * (1 + amp1*math.Sin(freq1*theta+phase1) + amp2*math.Sin(freq2*theta+phase2))
			if dx*dx+dy*dy <= edge*edge {
				mask.Pix[y*mask.Stride+x] = 255
			}
		}
	}
	return mask
}
