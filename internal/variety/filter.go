package variety

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cyberviable/vsm/internal/eventbus"
)

// Summary is one upward filter's window output: the events it judged worth
// preserving (anomalies, conflicts, threshold crossings, or events clearing
// the relevance threshold) plus a count of what it dropped as routine noise.
type Summary struct {
	Boundary    Boundary
	WindowStart time.Time
	WindowEnd   time.Time
	Preserved   []eventbus.Event
	Dropped     int
}

// Filter attenuates one level's internal bus traffic into summaries for the
// level above, per spec §4.12's "variety at level N+1 should not exceed the
// filter's attenuation target".
type Filter struct {
	boundary  Boundary
	bus       *eventbus.Bus
	sourceTopic string
	destTopic   string
	logger    *slog.Logger

	mu        sync.Mutex
	window    time.Duration
	threshold float64
}

// NewFilter constructs a Filter for boundary, subscribing to sourceTopic and
// publishing Summary values to destTopic. window defaults per boundary
// (§4.12); threshold defaults to 0.3.
func NewFilter(boundary Boundary, bus *eventbus.Bus, sourceTopic, destTopic string, window time.Duration, threshold float64, logger *slog.Logger) *Filter {
	if window <= 0 {
		window = defaultWindowFor(boundary)
	}
	if threshold <= 0 {
		threshold = defaultRelevanceThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		boundary:    boundary,
		bus:         bus,
		sourceTopic: sourceTopic,
		destTopic:   destTopic,
		window:      window,
		threshold:   threshold,
		logger:      logger,
	}
}

// Run subscribes to sourceTopic and aggregates events into window-sized
// batches, publishing one Summary per window to destTopic until ctx is
// cancelled. subscriberName must be unique per Filter instance on the bus.
func (f *Filter) Run(ctx context.Context, subscriberName string) {
	ch := f.bus.Subscribe(f.sourceTopic, subscriberName)
	defer f.bus.Unsubscribe(f.sourceTopic, subscriberName)

	ticker := time.NewTicker(f.Window())
	defer ticker.Stop()

	windowStart := time.Now()
	var batch []eventbus.Event

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			batch = append(batch, ev)
		case now := <-ticker.C:
			summary := f.summarize(batch, windowStart, now)
			batch = nil
			windowStart = now
			if summary != nil {
				f.bus.Publish(f.destTopic, *summary)
			}
		case <-ctx.Done():
			return
		}
	}
}

// summarize classifies one window's batch, preserving anomalies, conflicts,
// threshold crossings, and anything clearing the relevance threshold, and
// dropping the rest as routine noise. Returns nil if nothing survives and
// nothing was dropped (an empty window).
func (f *Filter) summarize(batch []eventbus.Event, start, end time.Time) *Summary {
	if len(batch) == 0 {
		return nil
	}

	threshold := f.Threshold()
	summary := &Summary{Boundary: f.boundary, WindowStart: start, WindowEnd: end}
	for _, ev := range batch {
		if isPreserved(ev, threshold) {
			summary.Preserved = append(summary.Preserved, ev)
		} else {
			summary.Dropped++
		}
	}
	return summary
}

// isPreserved decides whether one event survives attenuation: anomalies,
// conflicts, and threshold crossings are always preserved regardless of
// relevance; everything else is preserved only if its own relevance score
// clears threshold.
func isPreserved(ev eventbus.Event, threshold float64) bool {
	payload, ok := ev.Payload.(map[string]interface{})
	if !ok {
		return false
	}
	if truthy(payload["anomaly"]) || truthy(payload["conflict"]) || truthy(payload["threshold_crossing"]) {
		return true
	}
	relevance, ok := payload["relevance"].(float64)
	if !ok {
		return false
	}
	return relevance >= threshold
}

func truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

// Window returns the filter's current sliding window duration.
func (f *Filter) Window() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.window
}

// SetWindow lets the imbalance monitor nudge the window size within bounds.
func (f *Filter) SetWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.window = d
}

// Threshold returns the filter's current relevance threshold.
func (f *Filter) Threshold() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threshold
}

// SetThreshold lets the imbalance monitor nudge the relevance threshold
// within [0,1].
func (f *Filter) SetThreshold(t float64) {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threshold = t
}
