package variety

import (
	"context"
	"testing"
	"time"

	"github.com/cyberviable/vsm/internal/eventbus"
)

func TestFilterPreservesAnomaliesAndDropsRoutineNoise(t *testing.T) {
	bus := eventbus.New(16, nil)
	f := NewFilter(BoundaryS1S2, bus, "s1.raw", "s2.summary", 20*time.Millisecond, 0.9, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := bus.Subscribe("s2.summary", "test")
	go f.Run(ctx, "filter-under-test")

	// Give Run a moment to subscribe before publishing.
	time.Sleep(5 * time.Millisecond)

	bus.Publish("s1.raw", map[string]interface{}{"anomaly": true, "relevance": 0.1})
	bus.Publish("s1.raw", map[string]interface{}{"relevance": 0.05})

	select {
	case ev := <-out:
		summary := ev.Payload.(Summary)
		if len(summary.Preserved) != 1 {
			t.Fatalf("expected exactly 1 preserved event, got %d", len(summary.Preserved))
		}
		if summary.Dropped != 1 {
			t.Fatalf("expected exactly 1 dropped event, got %d", summary.Dropped)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filter summary")
	}
}

func TestFilterPreservesEventsClearingRelevanceThreshold(t *testing.T) {
	bus := eventbus.New(16, nil)
	f := NewFilter(BoundaryS1S2, bus, "s1.raw", "s2.summary", 20*time.Millisecond, 0.5, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := bus.Subscribe("s2.summary", "test")
	go f.Run(ctx, "filter-under-test")
	time.Sleep(5 * time.Millisecond)

	bus.Publish("s1.raw", map[string]interface{}{"relevance": 0.8})

	select {
	case ev := <-out:
		summary := ev.Payload.(Summary)
		if len(summary.Preserved) != 1 {
			t.Fatalf("expected event above threshold to be preserved, got %d preserved", len(summary.Preserved))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filter summary")
	}
}

func TestSetWindowAndThreshold(t *testing.T) {
	f := NewFilter(BoundaryS4S5, eventbus.New(16, nil), "s4.raw", "s5.summary", 0, 0, nil)

	if f.Window() != defaultWindowFor(BoundaryS4S5) {
		t.Fatalf("expected default window for s4_s5, got %v", f.Window())
	}

	f.SetWindow(2 * time.Minute)
	if f.Window() != 2*time.Minute {
		t.Fatalf("expected window updated to 2m, got %v", f.Window())
	}

	f.SetThreshold(1.5)
	if f.Threshold() != 1.0 {
		t.Fatalf("expected threshold clamped to 1.0, got %f", f.Threshold())
	}

	f.SetThreshold(-1)
	if f.Threshold() != 0.0 {
		t.Fatalf("expected threshold clamped to 0.0, got %f", f.Threshold())
	}
}
