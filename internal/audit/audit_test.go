package audit

import (
	"testing"
	"time"
)

func TestNewDefaultsDeadline(t *testing.T) {
	c := New(nil, 0, nil, nil, nil)
	if c.deadline != defaultDeadline {
		t.Fatalf("expected default deadline %v, got %v", defaultDeadline, c.deadline)
	}
}

func TestBreakerForIsPerTargetAndCached(t *testing.T) {
	c := New(nil, time.Second, nil, nil, nil)
	b1 := c.breakerFor("agent-a")
	b2 := c.breakerFor("agent-a")
	b3 := c.breakerFor("agent-b")

	if b1 != b2 {
		t.Fatal("expected the same breaker instance to be reused for the same target")
	}
	if b1 == b3 {
		t.Fatal("expected distinct breakers for distinct targets")
	}
}
