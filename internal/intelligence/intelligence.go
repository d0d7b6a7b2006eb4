// Package intelligence implements the level-4 control plane component:
// environmental scanning, anomaly detection over the internal bus, and
// adaptation proposal generation, optionally amplified by a delegated
// reasoner: a "scan, detect, decide" loop with the reasoning call kept
// behind internal/reasoner.Client instead of a concrete provider.
package intelligence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cyberviable/vsm/internal/eventbus"
	"github.com/cyberviable/vsm/internal/reasoner"
	"github.com/cyberviable/vsm/internal/types"
)

const (
	anomalyBufferCap  = 200
	proposalBufferCap = 50
	defaultReasonerTimeout = 10 * time.Second
)

// ScanDirective parameterizes one environment scan.
type ScanDirective struct {
	Scope    string // e.g. "regulatory", "market", "technological"
	Depth    int
	Priority int
}

// AnomalyEvent is one detected deviation surfaced to Governance and to
// GenerateAdaptationProposal callers.
type AnomalyEvent struct {
	Type       string
	Severity   float64 // clamped to [0,1]
	Context    map[string]interface{}
	DetectedAt time.Time
}

// Challenge is the input to GenerateAdaptationProposal: a detected
// condition that may warrant an adaptation.
type Challenge struct {
	Urgency     types.Urgency
	Scope       string
	Description string
}

// Intelligence is the single-writer owner of the anomaly buffer and active
// proposal set.
type Intelligence struct {
	bus      *eventbus.Bus
	reasoner reasoner.Client
	logger   *slog.Logger

	mu        sync.Mutex
	anomalies []AnomalyEvent
	proposals []types.AdaptationProposal
}

// New constructs an Intelligence component. reasonerClient may be nil; a
// nil reasoner is equivalent to one that always falls back to heuristic
// output — DelegateReasoning never panics or blocks indefinitely either way.
func New(bus *eventbus.Bus, reasonerClient reasoner.Client, logger *slog.Logger) *Intelligence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intelligence{bus: bus, reasoner: reasonerClient, logger: logger}
}

// ScanEnvironment runs one scan pass for directive. Callers drive the
// periodic-vs-on-demand schedule (a ticker in cmd/coordinator for the
// periodic case, a direct call for on-demand requests); this method itself
// is schedule-agnostic.
func (in *Intelligence) ScanEnvironment(ctx context.Context, directive ScanDirective) {
	in.logger.Info("intelligence: scanning environment", "scope", directive.Scope, "depth", directive.Depth, "priority", directive.Priority)
	if in.bus != nil {
		in.bus.Publish("vsm.intelligence.scan", map[string]interface{}{
			"scope":    directive.Scope,
			"depth":    directive.Depth,
			"priority": directive.Priority,
		})
	}
}

// DetectAnomalies consumes events from ch (typically an eventbus.Bus
// subscription) until ctx is cancelled or ch closes, classifying each into
// an AnomalyEvent and appending it to the bounded buffer.
func (in *Intelligence) DetectAnomalies(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			anomaly := in.classify(ev)
			if anomaly == nil {
				continue
			}
			in.mu.Lock()
			in.anomalies = append(in.anomalies, *anomaly)
			if len(in.anomalies) > anomalyBufferCap {
				in.anomalies = in.anomalies[len(in.anomalies)-anomalyBufferCap:]
			}
			in.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// classify derives an AnomalyEvent from one bus event. Events whose payload
// does not carry an explicit "severity" are treated as routine noise and
// dropped rather than fabricating a severity score.
func (in *Intelligence) classify(ev eventbus.Event) *AnomalyEvent {
	payload, ok := ev.Payload.(map[string]interface{})
	if !ok {
		return nil
	}
	sevRaw, ok := payload["severity"]
	if !ok {
		return nil
	}
	severity, ok := sevRaw.(float64)
	if !ok {
		return nil
	}
	if severity < 0 {
		severity = 0
	}
	if severity > 1 {
		severity = 1
	}
	return &AnomalyEvent{
		Type:       ev.Topic,
		Severity:   severity,
		Context:    payload,
		DetectedAt: time.Now(),
	}
}

// Anomalies returns a snapshot of the bounded anomaly buffer.
func (in *Intelligence) Anomalies() []AnomalyEvent {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]AnomalyEvent, len(in.anomalies))
	copy(out, in.anomalies)
	return out
}

// GenerateAdaptationProposal categorizes challenge into incremental,
// transformational, or defensive based on its urgency and scope, and
// retains the proposal in the bounded active set.
func (in *Intelligence) GenerateAdaptationProposal(challenge Challenge) types.AdaptationProposal {
	category := categorize(challenge)
	proposal := types.AdaptationProposal{
		ID:        uuid.NewString(),
		Urgency:   challenge.Urgency,
		Category:  category,
		Horizon:   horizonFor(challenge.Urgency),
		Rationale: challenge.Description,
		CreatedAt: time.Now(),
	}

	in.mu.Lock()
	in.proposals = append(in.proposals, proposal)
	if len(in.proposals) > proposalBufferCap {
		in.proposals = in.proposals[len(in.proposals)-proposalBufferCap:]
	}
	in.mu.Unlock()

	return proposal
}

func categorize(c Challenge) types.ProposalCategory {
	if c.Scope == "security" || c.Scope == "safety" {
		return types.CategoryDefensive
	}
	if c.Urgency == types.UrgencyHigh || c.Urgency == types.UrgencyCritical {
		return types.CategoryTransformational
	}
	return types.CategoryIncremental
}

func horizonFor(u types.Urgency) string {
	switch u {
	case types.UrgencyCritical:
		return "immediate"
	case types.UrgencyHigh:
		return "short-term"
	case types.UrgencyMedium:
		return "medium-term"
	default:
		return "long-term"
	}
}

// Proposals returns a snapshot of the bounded active-proposal set.
func (in *Intelligence) Proposals() []types.AdaptationProposal {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]types.AdaptationProposal, len(in.proposals))
	copy(out, in.proposals)
	return out
}

// DelegateReasoning calls the configured reasoner under timeout (default
// 10s). A timeout or a nil reasoner both fall back to heuristic output with
// a lowered-confidence marker rather than propagating an error that would
// block subsequent scans.
func (in *Intelligence) DelegateReasoning(ctx context.Context, prompt string, timeout time.Duration) string {
	if timeout <= 0 {
		timeout = defaultReasonerTimeout
	}
	if in.reasoner == nil {
		return fmt.Sprintf("confidence=low: no reasoner registered, heuristic fallback for: %s", prompt)
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := in.reasoner.DelegateReasoning(deadlineCtx, prompt)
	if err != nil {
		in.logger.Warn("intelligence: reasoner call failed, falling back to heuristic", "error", err)
		return fmt.Sprintf("confidence=low: reasoner failed (%v), heuristic fallback for: %s", err, prompt)
	}
	return result
}
