package governance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cyberviable/vsm/internal/intelligence"
	"github.com/cyberviable/vsm/internal/types"
)

const (
	defaultPainCritical = 0.7
	signalHistoryCap    = 1000
)

// SynthesisTrigger is invoked when a critical-intensity pain signal demands
// an emergency policy synthesis pass. Implemented by Synthesizer.
type SynthesisTrigger interface {
	Synthesize(ctx context.Context, anomalySummary string)
}

// AlgedonicProcessor is the single worker that consumes algedonic signals in
// arrival order, keeping a bounded history and driving both the Viability
// score and, above the critical threshold, an emergency adaptation request
// plus policy synthesis.
type AlgedonicProcessor struct {
	viability     *Viability
	intelligence  *intelligence.Intelligence
	synthesizer   SynthesisTrigger
	store         *Store
	painCritical  float64
	logger        *slog.Logger

	mu      sync.Mutex
	history []types.AlgedonicSignal
}

// NewAlgedonicProcessor constructs a processor. painCritical defaults to
// 0.7 if zero is passed. store is optional; when nil, pleasure signals still
// update Viability but reinforce no policy (there is nothing to reinforce
// against).
func NewAlgedonicProcessor(viability *Viability, intel *intelligence.Intelligence, synthesizer SynthesisTrigger, store *Store, painCritical float64, logger *slog.Logger) *AlgedonicProcessor {
	if painCritical <= 0 {
		painCritical = defaultPainCritical
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlgedonicProcessor{
		viability:    viability,
		intelligence: intel,
		synthesizer:  synthesizer,
		store:        store,
		painCritical: painCritical,
		logger:       logger,
	}
}

// Run consumes signals from ch (an eventbus.Bus subscription on
// vsm.algedonic, or a broker consumer's decoded feed) one at a time in
// arrival order until ctx is cancelled or ch closes.
func (p *AlgedonicProcessor) Run(ctx context.Context, ch <-chan types.AlgedonicSignal) {
	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				return
			}
			p.process(ctx, sig)
		case <-ctx.Done():
			return
		}
	}
}

func (p *AlgedonicProcessor) process(ctx context.Context, sig types.AlgedonicSignal) {
	sig.Intensity = clamp01(sig.Intensity)

	p.mu.Lock()
	p.history = append(p.history, sig)
	if len(p.history) > signalHistoryCap {
		p.history = p.history[len(p.history)-signalHistoryCap:]
	}
	p.mu.Unlock()

	if p.viability != nil {
		p.viability.UpdateFromSignal(sig.Kind, sig.Intensity)
	}

	switch sig.Kind {
	case types.Pain:
		if sig.Intensity > p.painCritical {
			p.logger.Warn("governance: critical pain signal received", "source", sig.Source, "intensity", sig.Intensity)
			if p.intelligence != nil {
				p.intelligence.GenerateAdaptationProposal(intelligence.Challenge{
					Urgency:     types.UrgencyCritical,
					Scope:       sig.Source,
					Description: "critical pain signal",
				})
			}
			if p.synthesizer != nil {
				p.synthesizer.Synthesize(ctx, summarize(sig))
			}
		}
	case types.Pleasure:
		if p.store != nil {
			if reinforced := p.store.Reinforce(ctx, sig.Context); len(reinforced) > 0 {
				ids := make([]string, len(reinforced))
				for i, policy := range reinforced {
					ids[i] = policy.ID
				}
				p.logger.Info("governance: pleasure signal reinforced matching policies", "source", sig.Source, "policy_ids", ids)
			}
		}
	}
}

func summarize(sig types.AlgedonicSignal) string {
	return fmt.Sprintf("critical pain signal from %s at intensity %.2f (%s)", sig.Source, sig.Intensity, sig.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
}

// History returns a snapshot of the bounded signal history.
func (p *AlgedonicProcessor) History() []types.AlgedonicSignal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.AlgedonicSignal, len(p.history))
	copy(out, p.history)
	return out
}
