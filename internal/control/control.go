// Package control implements the level-3 control plane component: resource
// pool allocation, conflict resolution between contending contexts, and
// periodic performance optimization, using the same single-writer
// mutex-guarded map idiom as internal/registry, applied to a capacity
// ledger instead of an agent set.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	vsmerrors "github.com/cyberviable/vsm/internal/errors"
	"github.com/cyberviable/vsm/internal/types"
)

// OptimizationArea selects which optimization strategy a cycle runs.
type OptimizationArea string

const (
	AreaGlobal     OptimizationArea = "global"
	AreaResource   OptimizationArea = "resource"
	AreaAllocation OptimizationArea = "allocation"
	AreaTargeted   OptimizationArea = "targeted"
)

// AllocationRequest is the input to Allocate.
type AllocationRequest struct {
	Context   string
	Resources map[types.ResourceKind]int
	Priority  int
}

// ConflictRecord is one resolved contention between two contexts, retained
// in the bounded history.
type ConflictRecord struct {
	ContextA  string
	ContextB  string
	Issue     string
	Winner    string
	Action    string
	At        time.Time
}

const conflictHistoryCap = 100

const defaultOptimizeCycle = 30 * time.Second

// Control is the single-writer owner of every resource pool and the
// allocation ledger drawn against them.
type Control struct {
	logger *slog.Logger

	mu          sync.Mutex
	pools       map[types.ResourceKind]*types.ResourcePool
	allocations map[string]*types.Allocation
	conflicts   []ConflictRecord
}

// New constructs a Control with the given initial pool capacities.
func New(pools map[types.ResourceKind]int, logger *slog.Logger) *Control {
	if logger == nil {
		logger = slog.Default()
	}
	p := make(map[types.ResourceKind]*types.ResourcePool, len(pools))
	for kind, total := range pools {
		p[kind] = &types.ResourcePool{Kind: kind, Total: total}
	}
	return &Control{
		logger:      logger,
		pools:       p,
		allocations: make(map[string]*types.Allocation),
	}
}

// Allocate grants req against the pools if feasible, attempting
// consolidation and rebalancing via optimizeAndRetry if not immediately
// satisfiable.
func (c *Control) Allocate(ctx context.Context, req AllocationRequest) (*types.Allocation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.feasibleLocked(req.Resources) {
		c.optimizeAndRetryLocked()
		if !c.feasibleLocked(req.Resources) {
			return nil, vsmerrors.New(vsmerrors.InsufficientResources, "control.allocate", fmt.Errorf("context %s requested more than available", req.Context))
		}
	}

	for kind, amount := range req.Resources {
		c.pools[kind].Allocated += amount
	}

	alloc := &types.Allocation{
		ID:        uuid.NewString(),
		Context:   req.Context,
		Resources: req.Resources,
		Priority:  req.Priority,
		GrantedAt: time.Now(),
	}
	c.allocations[alloc.ID] = alloc
	return alloc, nil
}

func (c *Control) feasibleLocked(req map[types.ResourceKind]int) bool {
	for kind, amount := range req {
		pool, ok := c.pools[kind]
		if !ok || pool.Available() < amount {
			return false
		}
	}
	return true
}

// optimizeAndRetryLocked attempts consolidation (a no-op on this flat
// ledger, since there is no finer-grained allocation record to merge) and
// rebalancing (shifting unused reservations back into available
// capacity). Caller holds c.mu.
func (c *Control) optimizeAndRetryLocked() {
	for _, pool := range c.pools {
		if pool.Reserved > 0 {
			c.logger.Debug("control: rebalancing unused reservation", "kind", pool.Kind, "reserved", pool.Reserved)
			pool.Reserved = 0
		}
	}
}

// Release frees the allocation identified by id back into its pools.
func (c *Control) Release(allocationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	alloc, ok := c.allocations[allocationID]
	if !ok {
		return vsmerrors.New(vsmerrors.NotFound, "control.release", nil)
	}
	for kind, amount := range alloc.Resources {
		if pool, ok := c.pools[kind]; ok {
			pool.Allocated -= amount
			if pool.Allocated < 0 {
				pool.Allocated = 0
			}
		}
	}
	delete(c.allocations, allocationID)
	return nil
}

// OptimizePerformance runs the strategy for area asynchronously, returning
// immediately; area selects which subset of the ledger is recomputed.
func (c *Control) OptimizePerformance(ctx context.Context, area OptimizationArea) {
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		switch area {
		case AreaAllocation:
			c.optimizeAndRetryLocked()
		case AreaResource, AreaGlobal, AreaTargeted:
			c.recomputeMetricsLocked()
		}
	}()
}

// recomputeMetricsLocked recomputes efficiency/waste bookkeeping and logs
// the snapshot the periodic cycle would export as Prometheus gauges.
func (c *Control) recomputeMetricsLocked() {
	for kind, pool := range c.pools {
		waste := pool.Total - pool.Allocated - pool.Reserved
		c.logger.Debug("control: pool snapshot", "kind", kind, "allocated", pool.Allocated, "waste", waste)
	}
}

// ResolveConflict decides between two contending contexts over issue.
// Decision rule: higher priority wins; on a priority tie the smaller
// requested size wins, then the earlier request (callers pass
// requestedAtA/B to express this). Resources split only when priority,
// size, and request time are all equal.
func (c *Control) ResolveConflict(ctxA, ctxB string, priorityA, priorityB, sizeA, sizeB int, requestedAtA, requestedAtB time.Time, issue string) (winner, action string) {
	switch {
	case priorityA > priorityB:
		winner, action = ctxA, "granted"
	case priorityB > priorityA:
		winner, action = ctxB, "granted"
	case sizeA < sizeB:
		winner, action = ctxA, "granted"
	case sizeB < sizeA:
		winner, action = ctxB, "granted"
	case requestedAtA.Before(requestedAtB):
		winner, action = ctxA, "granted"
	case requestedAtB.Before(requestedAtA):
		winner, action = ctxB, "granted"
	default:
		winner, action = "", "split"
	}

	c.mu.Lock()
	c.conflicts = append(c.conflicts, ConflictRecord{ContextA: ctxA, ContextB: ctxB, Issue: issue, Winner: winner, Action: action, At: time.Now()})
	if len(c.conflicts) > conflictHistoryCap {
		c.conflicts = c.conflicts[len(c.conflicts)-conflictHistoryCap:]
	}
	c.mu.Unlock()

	return winner, action
}

// ConflictHistory returns a snapshot of the bounded conflict log, most
// recent last.
func (c *Control) ConflictHistory() []ConflictRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConflictRecord, len(c.conflicts))
	copy(out, c.conflicts)
	return out
}

// EmergencyReallocation frees every non-critical allocation (priority below
// the supplied threshold) in response to a viability drop, returning the
// contexts affected so the caller can notify them.
func (c *Control) EmergencyReallocation(criticalPriorityThreshold int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var affected []string
	for id, alloc := range c.allocations {
		if alloc.Priority >= criticalPriorityThreshold {
			continue
		}
		for kind, amount := range alloc.Resources {
			if pool, ok := c.pools[kind]; ok {
				pool.Allocated -= amount
				if pool.Allocated < 0 {
					pool.Allocated = 0
				}
			}
		}
		affected = append(affected, alloc.Context)
		delete(c.allocations, id)
	}
	sort.Strings(affected)
	c.logger.Warn("control: emergency reallocation freed non-critical allocations", "affected", affected)
	return affected
}

// Pools returns a snapshot of every resource pool's current ledger state.
func (c *Control) Pools() map[types.ResourceKind]types.ResourcePool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[types.ResourceKind]types.ResourcePool, len(c.pools))
	for kind, pool := range c.pools {
		out[kind] = *pool
	}
	return out
}

// RunOptimizationCycle blocks running a periodic optimization tick every
// interval (default 30s) until ctx is cancelled.
func (c *Control) RunOptimizationCycle(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultOptimizeCycle
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.OptimizePerformance(ctx, AreaGlobal)
		case <-ctx.Done():
			return
		}
	}
}
