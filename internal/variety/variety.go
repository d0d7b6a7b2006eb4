// Package variety implements variety engineering between adjacent VSM
// levels: upward filters that attenuate raw event traffic into relevant
// summaries, downward amplifiers that expand a directive into specialized
// variants, and a metrics calculator/imbalance monitor that nudges both
// within bounds, built on the same plain-channel fan-out idiom as
// internal/eventbus.
package variety

import "time"

// Boundary identifies one adjacent-level pair variety flows across.
type Boundary string

const (
	BoundaryS1S2 Boundary = "s1_s2"
	BoundaryS2S3 Boundary = "s2_s3"
	BoundaryS3S4 Boundary = "s3_s4"
	BoundaryS4S5 Boundary = "s4_s5"

	// Downward (amplifier) boundaries mirror the same adjacent-level pairs.
	BoundaryS5S4 Boundary = "s5_s4"
	BoundaryS4S3 Boundary = "s4_s3"
	BoundaryS3S2 Boundary = "s3_s2"
	BoundaryS2S1 Boundary = "s2_s1"
)

// defaultWindows gives each upward filter boundary its default sliding
// window, growing from 5s at s1→s2 to 1 minute at s4→s5 per spec §4.12.
var defaultWindows = map[Boundary]time.Duration{
	BoundaryS1S2: 5 * time.Second,
	BoundaryS2S3: 15 * time.Second,
	BoundaryS3S4: 30 * time.Second,
	BoundaryS4S5: time.Minute,
}

// defaultWindowFor returns the boundary's default sliding window, or 5s for
// an unrecognized boundary.
func defaultWindowFor(b Boundary) time.Duration {
	if w, ok := defaultWindows[b]; ok {
		return w
	}
	return 5 * time.Second
}

const (
	defaultRelevanceThreshold = 0.3
	defaultAmplificationFactor = 3
	minAmplificationFactor      = 1
	maxAmplificationFactor      = 10
	imbalanceDeviationThreshold = 0.3
)

// direction distinguishes filter (up) traffic from amplifier (down) traffic
// for the metrics calculator.
type direction string

const (
	directionUp   direction = "up"
	directionDown direction = "down"
)
