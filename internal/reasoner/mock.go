package reasoner

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Mock is a reasoner Client for tests and for operation with no reasoner
// agent registered. If DecideFunc is nil it returns a canned low-confidence
// heuristic response, matching the contract that absence of a reasoner
// MUST NOT crash a caller.
type Mock struct {
	DecideFunc func(ctx context.Context, prompt string) (string, error)

	mu        sync.Mutex
	callCount int
	lastPrompt string
}

// NewMock returns a Mock with the default heuristic responder.
func NewMock() *Mock {
	return &Mock{}
}

// NewMockWithFunc returns a Mock whose DelegateReasoning calls fn.
func NewMockWithFunc(fn func(ctx context.Context, prompt string) (string, error)) *Mock {
	return &Mock{DecideFunc: fn}
}

// DelegateReasoning implements Client.
func (m *Mock) DelegateReasoning(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.lastPrompt = prompt
	m.mu.Unlock()

	if m.DecideFunc != nil {
		return m.DecideFunc(ctx, prompt)
	}
	return heuristicResponse(prompt), nil
}

// CallCount reports how many times DelegateReasoning has been invoked.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastPrompt returns the most recent prompt passed to DelegateReasoning.
func (m *Mock) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPrompt
}

// heuristicResponse is the canned low-confidence fallback: it echoes back
// the gist of the prompt rather than producing a synthesized answer,
// signalling to the caller that this is not a real reasoning result.
func heuristicResponse(prompt string) string {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "confidence=low: no prompt content to reason about"
	}
	return fmt.Sprintf("confidence=low: heuristic fallback, no reasoner available for prompt: %s", trimmed)
}
