package variety

import (
	"math"
	"testing"
)

func TestEntropyZeroForSingleType(t *testing.T) {
	c := NewCalculator()
	c.RecordUp(BoundaryS1S2, "heartbeat")
	c.RecordUp(BoundaryS1S2, "heartbeat")
	c.RecordUp(BoundaryS1S2, "heartbeat")

	if got := c.Entropy(BoundaryS1S2, string(directionUp)); got != 0 {
		t.Fatalf("expected zero entropy for a single repeated type, got %f", got)
	}
}

func TestEntropyMaximalForUniformTypes(t *testing.T) {
	c := NewCalculator()
	c.RecordUp(BoundaryS1S2, "a")
	c.RecordUp(BoundaryS1S2, "b")
	c.RecordUp(BoundaryS1S2, "c")
	c.RecordUp(BoundaryS1S2, "d")

	got := c.Entropy(BoundaryS1S2, string(directionUp))
	want := math.Log2(4)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected entropy %f for 4 uniform types, got %f", want, got)
	}
}

func TestCountTracksPerBoundaryPerDirection(t *testing.T) {
	c := NewCalculator()
	c.RecordUp(BoundaryS1S2, "x")
	c.RecordUp(BoundaryS1S2, "y")
	c.RecordDown(BoundaryS5S4, "z")

	if c.Count(BoundaryS1S2, string(directionUp)) != 2 {
		t.Fatalf("expected 2 up-events at s1_s2")
	}
	if c.Count(BoundaryS5S4, string(directionDown)) != 1 {
		t.Fatalf("expected 1 down-event at s5_s4")
	}
	if c.Count(BoundaryS1S2, string(directionDown)) != 0 {
		t.Fatalf("expected no cross-contamination between directions")
	}
}

func TestResetClearsCounts(t *testing.T) {
	c := NewCalculator()
	c.RecordUp(BoundaryS1S2, "x")
	c.Reset()
	if c.Count(BoundaryS1S2, string(directionUp)) != 0 {
		t.Fatalf("expected counts cleared after Reset")
	}
	if c.Entropy(BoundaryS1S2, string(directionUp)) != 0 {
		t.Fatalf("expected entropy cleared after Reset")
	}
}

func TestMonitorDetectsImbalanceAndNudgesFilterAndAmplifier(t *testing.T) {
	c := NewCalculator()
	for i := 0; i < 10; i++ {
		c.RecordUp(BoundaryS1S2, "event")
	}
	c.RecordDown(BoundaryS1S2, "event")

	m := NewMonitor(c, 0.3, nil)
	f := NewFilter(BoundaryS1S2, nil, "s1.raw", "s2.summary", 0, 0.5, nil)
	a := NewAmplifier(BoundaryS1S2, nil, "s2.directives", 3, nil)

	ratio, imbalanced := m.Check(BoundaryS1S2, f, a)
	if !imbalanced {
		t.Fatalf("expected imbalance detected for a 10:1 up:down ratio, got ratio %f", ratio)
	}
	if f.Threshold() <= 0.5 {
		t.Fatalf("expected filter threshold raised on excess upward traffic, got %f", f.Threshold())
	}
	if a.Factor() <= 3 {
		t.Fatalf("expected amplifier factor raised on excess upward traffic, got %d", a.Factor())
	}
}

func TestMonitorNoOpWithinTolerance(t *testing.T) {
	c := NewCalculator()
	c.RecordUp(BoundaryS1S2, "event")
	c.RecordDown(BoundaryS1S2, "event")

	m := NewMonitor(c, 0.3, nil)
	_, imbalanced := m.Check(BoundaryS1S2, nil, nil)
	if imbalanced {
		t.Fatalf("expected a balanced 1:1 ratio to not be flagged imbalanced")
	}
}
