package variety

import (
	"log/slog"
	"math"
	"sync"
)

// counterKey identifies one (boundary, direction) counting bucket.
type counterKey struct {
	boundary  Boundary
	direction direction
}

// typeCounts tracks how many times each event/payload "type" label has been
// observed within the active window, the raw material for Shannon entropy.
type typeCounts map[string]int

// Calculator maintains per-level, per-direction counts and the Shannon
// entropy of the type distribution observed in the active window, per spec
// §4.12's variety metrics.
type Calculator struct {
	mu       sync.Mutex
	counts   map[counterKey]int
	typeDist map[counterKey]typeCounts
}

// NewCalculator constructs an empty Calculator.
func NewCalculator() *Calculator {
	return &Calculator{
		counts:   make(map[counterKey]int),
		typeDist: make(map[counterKey]typeCounts),
	}
}

// RecordUp records one upward (filter) event of the given type label at
// boundary — typically the event's bus topic or a classification label.
func (c *Calculator) RecordUp(boundary Boundary, typ string) {
	c.record(boundary, directionUp, typ)
}

// RecordDown records one downward (amplifier) variant of the given type
// label at boundary.
func (c *Calculator) RecordDown(boundary Boundary, typ string) {
	c.record(boundary, directionDown, typ)
}

func (c *Calculator) record(boundary Boundary, dir direction, typ string) {
	key := counterKey{boundary: boundary, direction: dir}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	dist, ok := c.typeDist[key]
	if !ok {
		dist = make(typeCounts)
		c.typeDist[key] = dist
	}
	dist[typ]++
}

// Count returns the running count for (boundary, direction).
func (c *Calculator) Count(boundary Boundary, dir string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[counterKey{boundary: boundary, direction: direction(dir)}]
}

// Entropy returns the Shannon entropy (base 2, in bits) of the type
// distribution observed for (boundary, direction) in the active window. An
// empty or single-type distribution has zero entropy.
func (c *Calculator) Entropy(boundary Boundary, dir string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	dist := c.typeDist[counterKey{boundary: boundary, direction: direction(dir)}]
	return entropy(dist)
}

func entropy(dist typeCounts) float64 {
	total := 0
	for _, n := range dist {
		total += n
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, n := range dist {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// Reset clears the active window's counts and distributions, called by the
// caller's own window-tick schedule (periodic task per spec §5).
func (c *Calculator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[counterKey]int)
	c.typeDist = make(map[counterKey]typeCounts)
}

// Monitor detects variety imbalance between a boundary's up and down flow
// and nudges the associated Filter/Amplifier thresholds within bounds, per
// spec §4.12's "ratio deviation > 0.3 nudges filter thresholds and amplifier
// factors".
type Monitor struct {
	calc      *Calculator
	logger    *slog.Logger
	deviation float64
}

// NewMonitor constructs a Monitor reading from calc. deviationThreshold
// defaults to 0.3.
func NewMonitor(calc *Calculator, deviationThreshold float64, logger *slog.Logger) *Monitor {
	if deviationThreshold <= 0 {
		deviationThreshold = imbalanceDeviationThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{calc: calc, deviation: deviationThreshold, logger: logger}
}

// Check compares boundary's up/down counts and, if their ratio deviates from
// 1.0 by more than the configured threshold, nudges filter's relevance
// threshold and amplifier's factor to pull the ratio back toward balance.
// Either filter or amplifier may be nil if that side isn't wired for this
// boundary.
func (m *Monitor) Check(boundary Boundary, filter *Filter, amplifier *Amplifier) (ratio float64, imbalanced bool) {
	up := m.calc.Count(boundary, string(directionUp))
	down := m.calc.Count(boundary, string(directionDown))

	ratio = ratioOf(up, down)
	deviation := math.Abs(ratio - 1.0)
	if deviation <= m.deviation {
		return ratio, false
	}

	m.logger.Warn("variety: imbalance detected", "boundary", boundary, "up", up, "down", down, "ratio", ratio)

	switch {
	case ratio > 1.0:
		// Too much upward traffic relative to downward: tighten the filter
		// (raise its relevance threshold) to attenuate harder.
		if filter != nil {
			filter.SetThreshold(filter.Threshold() + 0.1)
		}
		if amplifier != nil {
			amplifier.SetFactor(amplifier.Factor() + 1)
		}
	case ratio < 1.0:
		// Too much downward traffic relative to upward: loosen the filter
		// and shrink the amplification factor.
		if filter != nil {
			filter.SetThreshold(filter.Threshold() - 0.1)
		}
		if amplifier != nil {
			amplifier.SetFactor(amplifier.Factor() - 1)
		}
	}
	return ratio, true
}

func ratioOf(up, down int) float64 {
	if down == 0 {
		if up == 0 {
			return 1.0
		}
		return math.Inf(1)
	}
	return float64(up) / float64(down)
}
