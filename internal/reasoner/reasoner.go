// Package reasoner defines the pluggable interface Intelligence (C10) and
// Governance's Policy Synthesizer (C11) use to delegate reasoning to an
// external agent: one narrow method, an opaque prompt in, opaque text out,
// and a mock implementation so the control plane runs with no reasoner
// registered.
package reasoner

import "context"

// Client is the interface a reasoner agent satisfies. DelegateReasoning is
// deliberately a single freeform string in, string out, so any reasoning
// backend (an LLM, a rules engine, a human-in-the-loop queue) can sit
// behind it without this package knowing which.
type Client interface {
	DelegateReasoning(ctx context.Context, prompt string) (string, error)
}
