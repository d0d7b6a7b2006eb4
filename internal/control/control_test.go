package control

import (
	"context"
	"testing"
	"time"

	vsmerrors "github.com/cyberviable/vsm/internal/errors"
	"github.com/cyberviable/vsm/internal/types"
)

func TestAllocateAndRelease(t *testing.T) {
	c := New(map[types.ResourceKind]int{types.ResourceCompute: 10}, nil)

	alloc, err := c.Allocate(context.Background(), AllocationRequest{
		Context:   "agent-a",
		Resources: map[types.ResourceKind]int{types.ResourceCompute: 4},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pools := c.Pools()
	if pools[types.ResourceCompute].Allocated != 4 {
		t.Fatalf("expected 4 allocated, got %d", pools[types.ResourceCompute].Allocated)
	}

	if err := c.Release(alloc.ID); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	pools = c.Pools()
	if pools[types.ResourceCompute].Allocated != 0 {
		t.Fatalf("expected 0 allocated after release, got %d", pools[types.ResourceCompute].Allocated)
	}
}

func TestAllocateInsufficientReturnsError(t *testing.T) {
	c := New(map[types.ResourceKind]int{types.ResourceCompute: 2}, nil)
	_, err := c.Allocate(context.Background(), AllocationRequest{
		Context:   "agent-a",
		Resources: map[types.ResourceKind]int{types.ResourceCompute: 10},
	})
	if vsmerrors.KindOf(err) != vsmerrors.InsufficientResources {
		t.Fatalf("expected insufficient_resources, got %v", err)
	}
}

func TestAllocateRetriesAfterRebalancingReservation(t *testing.T) {
	c := New(map[types.ResourceKind]int{types.ResourceCompute: 10}, nil)
	c.mu.Lock()
	c.pools[types.ResourceCompute].Reserved = 8
	c.mu.Unlock()

	// Available() is only 2 until optimizeAndRetry clears the reservation.
	alloc, err := c.Allocate(context.Background(), AllocationRequest{
		Context:   "agent-a",
		Resources: map[types.ResourceKind]int{types.ResourceCompute: 5},
	})
	if err != nil {
		t.Fatalf("expected allocate to succeed after rebalancing, got %v", err)
	}
	if alloc.Context != "agent-a" {
		t.Fatalf("unexpected context: %s", alloc.Context)
	}
}

func TestResolveConflictHigherPriorityWins(t *testing.T) {
	c := New(nil, nil)
	now := time.Now()
	winner, action := c.ResolveConflict("a", "b", 5, 1, 10, 10, now, now, "contended compute")
	if winner != "a" || action != "granted" {
		t.Fatalf("expected a to win, got winner=%s action=%s", winner, action)
	}
}

func TestResolveConflictTieSplitsOnEqualEverything(t *testing.T) {
	c := New(nil, nil)
	now := time.Now()
	winner, action := c.ResolveConflict("a", "b", 5, 5, 10, 10, now, now, "contended compute")
	if action != "split" || winner != "" {
		t.Fatalf("expected split with no winner, got winner=%s action=%s", winner, action)
	}
}

func TestResolveConflictTieBreaksOnRequestedSize(t *testing.T) {
	c := New(nil, nil)
	now := time.Now()
	winner, action := c.ResolveConflict("a", "b", 5, 5, 3, 10, now, now, "contended compute")
	if winner != "a" || action != "granted" {
		t.Fatalf("expected smaller-size a to win tie-break, got winner=%s action=%s", winner, action)
	}
}

func TestConflictHistoryBoundedTo100(t *testing.T) {
	c := New(nil, nil)
	now := time.Now()
	for i := 0; i < 150; i++ {
		c.ResolveConflict("a", "b", 1, 1, 1, 1, now, now, "x")
	}
	if len(c.ConflictHistory()) != conflictHistoryCap {
		t.Fatalf("expected history capped at %d, got %d", conflictHistoryCap, len(c.ConflictHistory()))
	}
}

func TestEmergencyReallocationFreesNonCritical(t *testing.T) {
	c := New(map[types.ResourceKind]int{types.ResourceCompute: 10}, nil)
	low, _ := c.Allocate(context.Background(), AllocationRequest{Context: "low", Priority: 1, Resources: map[types.ResourceKind]int{types.ResourceCompute: 3}})
	_, _ = c.Allocate(context.Background(), AllocationRequest{Context: "critical", Priority: 9, Resources: map[types.ResourceKind]int{types.ResourceCompute: 3}})

	affected := c.EmergencyReallocation(5)
	if len(affected) != 1 || affected[0] != "low" {
		t.Fatalf("expected only the low-priority context freed, got %v", affected)
	}

	if err := c.Release(low.ID); err == nil {
		t.Fatal("expected releasing an already-freed allocation to fail")
	}
}
