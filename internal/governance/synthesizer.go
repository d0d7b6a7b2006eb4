package governance

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cyberviable/vsm/internal/reasoner"
	"github.com/cyberviable/vsm/internal/types"
)

const defaultSynthesisTimeout = 30 * time.Second

// Synthesizer implements SynthesisTrigger: on a critical pain signal it
// delegates reasoning over the anomaly summary under a deadline, storing
// a successful result as a new synthesized policy. Failure never crashes
// the caller — it only logs policy_synthesis_failed.
type Synthesizer struct {
	store    *Store
	client   reasoner.Client
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSynthesizer constructs a Synthesizer. client may be nil — every
// synthesis attempt then immediately emits policy_synthesis_failed,
// matching "absence of a reasoner MUST NOT crash" for this trigger too.
// timeout defaults to 30s if zero is passed.
func NewSynthesizer(store *Store, client reasoner.Client, timeout time.Duration, logger *slog.Logger) *Synthesizer {
	if timeout <= 0 {
		timeout = defaultSynthesisTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{store: store, client: client, timeout: timeout, logger: logger}
}

// Synthesize attempts one policy synthesis pass from anomalySummary.
func (s *Synthesizer) Synthesize(ctx context.Context, anomalySummary string) {
	if s.client == nil {
		s.logger.Warn("governance: policy_synthesis_failed, no reasoner registered")
		return
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := s.client.DelegateReasoning(deadlineCtx, "synthesize a governance policy in response to: "+anomalySummary)
	if err != nil {
		s.logger.Warn("governance: policy_synthesis_failed", "error", err)
		return
	}

	s.store.Set(ctx, uuid.NewString(), types.PolicySynthesized, map[string]interface{}{
		"source":  "synthesizer",
		"summary": anomalySummary,
		"body":    body,
	}, nil, false)
}
