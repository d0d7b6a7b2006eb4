package governance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cyberviable/vsm/internal/intelligence"
	"github.com/cyberviable/vsm/internal/types"
)

type fakeTrigger struct {
	mu        sync.Mutex
	summaries []string
}

func (f *fakeTrigger) Synthesize(ctx context.Context, anomalySummary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, anomalySummary)
}

func (f *fakeTrigger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.summaries)
}

func TestProcessPreservesArrivalOrder(t *testing.T) {
	v := NewViability()
	p := NewAlgedonicProcessor(v, nil, nil, nil, 0, nil)

	ch := make(chan types.AlgedonicSignal, 3)
	ch <- types.NewAlgedonicSignal(types.Pain, 0.1, "a", nil)
	ch <- types.NewAlgedonicSignal(types.Pain, 0.2, "b", nil)
	ch <- types.NewAlgedonicSignal(types.Pain, 0.3, "c", nil)
	close(ch)

	p.Run(context.Background(), ch)

	history := p.History()
	if len(history) != 3 {
		t.Fatalf("expected 3 signals recorded, got %d", len(history))
	}
	if history[0].Source != "a" || history[1].Source != "b" || history[2].Source != "c" {
		t.Fatalf("expected arrival order a,b,c, got %v", history)
	}
}

func TestHistoryBoundedTo1000(t *testing.T) {
	v := NewViability()
	p := NewAlgedonicProcessor(v, nil, nil, nil, 0, nil)

	ch := make(chan types.AlgedonicSignal, 1100)
	for i := 0; i < 1100; i++ {
		ch <- types.NewAlgedonicSignal(types.Pleasure, 0.1, "x", nil)
	}
	close(ch)

	p.Run(context.Background(), ch)

	if len(p.History()) != signalHistoryCap {
		t.Fatalf("expected history bounded to %d, got %d", signalHistoryCap, len(p.History()))
	}
}

func TestCriticalPainTriggersProposalAndSynthesis(t *testing.T) {
	v := NewViability()
	intel := intelligence.New(nil, nil, nil)
	trigger := &fakeTrigger{}
	p := NewAlgedonicProcessor(v, intel, trigger, nil, 0.7, nil)

	ch := make(chan types.AlgedonicSignal, 1)
	ch <- types.NewAlgedonicSignal(types.Pain, 0.95, "critical-source", nil)
	close(ch)

	p.Run(context.Background(), ch)

	if len(intel.Proposals()) != 1 {
		t.Fatalf("expected 1 adaptation proposal generated, got %d", len(intel.Proposals()))
	}
	if intel.Proposals()[0].Urgency != types.UrgencyCritical {
		t.Fatalf("expected critical urgency proposal, got %v", intel.Proposals()[0].Urgency)
	}
	if trigger.calls() != 1 {
		t.Fatalf("expected synthesizer triggered exactly once, got %d", trigger.calls())
	}
}

func TestSubCriticalPainDoesNotTrigger(t *testing.T) {
	v := NewViability()
	intel := intelligence.New(nil, nil, nil)
	trigger := &fakeTrigger{}
	p := NewAlgedonicProcessor(v, intel, trigger, nil, 0.7, nil)

	ch := make(chan types.AlgedonicSignal, 1)
	ch <- types.NewAlgedonicSignal(types.Pain, 0.3, "minor-source", nil)
	close(ch)

	p.Run(context.Background(), ch)

	if len(intel.Proposals()) != 0 {
		t.Fatalf("expected no proposal for sub-critical pain, got %d", len(intel.Proposals()))
	}
	if trigger.calls() != 0 {
		t.Fatalf("expected no synthesis trigger for sub-critical pain, got %d", trigger.calls())
	}
}

func TestPleasureSignalReinforcesMatchingPolicy(t *testing.T) {
	v := NewViability()
	store := NewStore(nil, nil, nil)
	policy := store.Set(context.Background(), "p1", types.PolicyResource, map[string]interface{}{"limit": 10}, map[string]interface{}{"source": "agent-7"}, false)
	if policy.Reinforcement != 0 {
		t.Fatalf("expected a freshly set policy to start unreinforced, got %d", policy.Reinforcement)
	}
	store.Set(context.Background(), "p2", types.PolicyResource, nil, map[string]interface{}{"source": "agent-9"}, false)

	p := NewAlgedonicProcessor(v, nil, nil, store, 0, nil)

	ch := make(chan types.AlgedonicSignal, 1)
	ch <- types.NewAlgedonicSignal(types.Pleasure, 0.6, "agent-7", map[string]interface{}{"source": "agent-7"})
	close(ch)

	p.Run(context.Background(), ch)

	matched, err := store.Get("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matched.Reinforcement != 1 {
		t.Fatalf("expected matching policy reinforced once, got %d", matched.Reinforcement)
	}

	unmatched, err := store.Get("p2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unmatched.Reinforcement != 0 {
		t.Fatalf("expected non-matching policy untouched, got %d", unmatched.Reinforcement)
	}
}

func TestPleasureSignalWithoutContextReinforcesNothing(t *testing.T) {
	v := NewViability()
	store := NewStore(nil, nil, nil)
	store.Set(context.Background(), "p1", types.PolicyResource, nil, map[string]interface{}{"source": "agent-7"}, false)

	p := NewAlgedonicProcessor(v, nil, nil, store, 0, nil)

	ch := make(chan types.AlgedonicSignal, 1)
	ch <- types.NewAlgedonicSignal(types.Pleasure, 0.6, "agent-7", nil)
	close(ch)

	p.Run(context.Background(), ch)

	policy, err := store.Get("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if policy.Reinforcement != 0 {
		t.Fatalf("expected no reinforcement from a contextless signal, got %d", policy.Reinforcement)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	v := NewViability()
	p := NewAlgedonicProcessor(v, nil, nil, nil, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan types.AlgedonicSignal)

	done := make(chan struct{})
	go func() {
		p.Run(ctx, ch)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
