package coordinator

import (
	"context"
	"testing"
	"time"
)

func TestStableStateAllowsMessages(t *testing.T) {
	c := New(nil, nil, time.Second, 3, nil)
	out := c.CoordinateMessage(context.Background(), "s1.a", "s1.b", nil)
	if out.Decision != Allow {
		t.Fatalf("expected allow in stable state, got %v", out.Decision)
	}
}

// oscillatingWindow has more zero-crossings than the default threshold of 3.
var oscillatingWindow = []float64{0, 10, 0, 10, 0, 10, 0, 10}

// quietWindow is monotonic: zero crossings.
var quietWindow = []float64{1, 2, 3, 4, 5}

func TestOscillationDrivesStableToDamping(t *testing.T) {
	c := New(nil, nil, time.Second, 3, nil)

	c.DetectOscillation(context.Background(), oscillatingWindow)
	if c.State() != "warning" {
		t.Fatalf("expected warning state after first oscillating window, got %s", c.State())
	}

	c.DetectOscillation(context.Background(), oscillatingWindow)
	if c.State() != "damping" {
		t.Fatalf("expected damping state after second oscillating window, got %s", c.State())
	}

	out := c.CoordinateMessage(context.Background(), "s1.a", "s1.b", nil)
	if out.Decision != Delay {
		t.Fatalf("expected delay decision while damping, got %v", out.Decision)
	}
	if out.DelayFor <= 0 {
		t.Fatal("expected a positive delay while damping")
	}
}

func TestDampingDelayGrowsMultiplicativelyAndCaps(t *testing.T) {
	c := New(nil, nil, time.Second, 3, nil)
	c.DetectOscillation(context.Background(), oscillatingWindow) // stable -> warning
	c.DetectOscillation(context.Background(), oscillatingWindow) // warning -> damping, delay = floor

	first := c.CoordinateMessage(context.Background(), "a", "b", nil).DelayFor

	c.DetectOscillation(context.Background(), oscillatingWindow) // delay *= 1.5
	second := c.CoordinateMessage(context.Background(), "a", "b", nil).DelayFor

	if second <= first {
		t.Fatalf("expected damping delay to grow, got %v then %v", first, second)
	}

	for i := 0; i < 20; i++ {
		c.DetectOscillation(context.Background(), oscillatingWindow)
	}
	capped := c.CoordinateMessage(context.Background(), "a", "b", nil).DelayFor
	if capped > 10*time.Second {
		t.Fatalf("expected damping delay capped at 10s, got %v", capped)
	}
}

func TestZeroCrossingsCountsSignFlips(t *testing.T) {
	if got := zeroCrossings([]float64{1, 2, 3, 4}); got != 0 {
		t.Fatalf("expected 0 crossings for monotonic sequence, got %d", got)
	}
	if got := zeroCrossings(oscillatingWindow); got <= 3 {
		t.Fatalf("expected more than 3 crossings for the oscillating fixture, got %d", got)
	}
}

func TestDampingCalmsAfterQuietWindows(t *testing.T) {
	c := New(nil, nil, time.Second, 3, nil)
	c.DetectOscillation(context.Background(), oscillatingWindow) // stable -> warning
	c.DetectOscillation(context.Background(), oscillatingWindow) // warning -> damping
	if c.State() != "damping" {
		t.Fatalf("expected damping state, got %s", c.State())
	}

	c.DetectOscillation(context.Background(), quietWindow)
	if c.State() != "damping" {
		t.Fatalf("expected to remain damping after a single quiet window, got %s", c.State())
	}
	c.DetectOscillation(context.Background(), quietWindow)
	if c.State() != "stable" {
		t.Fatalf("expected stable state after two consecutive quiet windows, got %s", c.State())
	}
}
