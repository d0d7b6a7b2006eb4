// Package meta implements the recursive meta-system protocol (C13): spawning
// nested VSM instances, each a fresh control/intelligence/governance triad
// parameterized by a specialization, addressed over the broker's recursive
// exchange. Grounded on spec §4.13 with no direct teacher analog; reuses the
// same constructor shapes as internal/control, internal/intelligence, and
// internal/governance rather than inventing a parallel wiring style.
package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cyberviable/vsm/internal/broker"
	"github.com/cyberviable/vsm/internal/control"
	vsmerrors "github.com/cyberviable/vsm/internal/errors"
	"github.com/cyberviable/vsm/internal/eventbus"
	"github.com/cyberviable/vsm/internal/governance"
	"github.com/cyberviable/vsm/internal/intelligence"
	"github.com/cyberviable/vsm/internal/reasoner"
	"github.com/cyberviable/vsm/internal/types"
)

const defaultMaxDepth = 5

// Instance is one spawned meta-VSM: an independent C8/C10/C11 triad bound to
// its own recursive-addressing queue.
type Instance struct {
	Identity       string
	ParentIdentity string
	Specialization string
	Depth          int
	SpawnedAt      time.Time

	Control      *control.Control
	Intelligence *intelligence.Intelligence
	Policies     *governance.Store
	Viability    *governance.Viability
}

// Manager is the single-writer owner of every spawned meta-VSM instance.
type Manager struct {
	pool     *broker.Pool
	decl     *broker.Declarator
	bus      *eventbus.Bus
	reasoner reasoner.Client
	maxDepth int
	logger   *slog.Logger

	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewManager constructs a Manager. maxDepth defaults to 5 if zero or
// negative is passed.
func NewManager(pool *broker.Pool, decl *broker.Declarator, bus *eventbus.Bus, reasonerClient reasoner.Client, maxDepth int, logger *slog.Logger) *Manager {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pool:      pool,
		decl:      decl,
		bus:       bus,
		reasoner:  reasonerClient,
		maxDepth:  maxDepth,
		logger:    logger,
		instances: make(map[string]*Instance),
	}
}

// SpawnMetaVSM declares the recursive-addressing queue for identity and
// starts a fresh control/intelligence/governance triad parameterized by
// specialization. inheritedPolicies is copied into the new instance's
// policy store as an immutable snapshot at spawn time, never a live link to
// the parent's store. resourcePools seeds the new instance's Control ledger.
func (m *Manager) SpawnMetaVSM(ctx context.Context, identity, parentIdentity, specialization string, depth int, inheritedPolicies []*types.Policy, resourcePools map[types.ResourceKind]int) (*Instance, error) {
	if depth > m.maxDepth {
		return nil, vsmerrors.New(vsmerrors.RecursionLimitExceeded, "meta.spawn",
			fmt.Errorf("depth %d exceeds maximum %d", depth, m.maxDepth))
	}

	m.mu.RLock()
	_, exists := m.instances[identity]
	m.mu.RUnlock()
	if exists {
		return nil, vsmerrors.New(vsmerrors.AlreadyRegistered, "meta.spawn",
			fmt.Errorf("meta-VSM %s already spawned", identity))
	}

	if m.decl != nil {
		if err := m.decl.DeclareMetaQueue(ctx, identity); err != nil {
			return nil, vsmerrors.New(vsmerrors.Unavailable, "meta.spawn", err)
		}
	}

	childLogger := m.logger.With("meta_identity", identity, "parent_identity", parentIdentity, "depth", depth)

	instance := &Instance{
		Identity:       identity,
		ParentIdentity: parentIdentity,
		Specialization: specialization,
		Depth:          depth,
		SpawnedAt:      time.Now(),
		Control:        control.New(resourcePools, childLogger),
		Intelligence:   intelligence.New(m.bus, m.reasoner, childLogger),
		Policies:       governance.NewStore(m.pool, m.bus, childLogger),
		Viability:      governance.NewViability(),
	}

	for _, p := range inheritedPolicies {
		if p == nil {
			continue
		}
		instance.Policies.Set(ctx, p.ID, p.Type, snapshotBody(p.Body), snapshotBody(p.Context), p.AutoExecutable)
	}

	m.mu.Lock()
	m.instances[identity] = instance
	m.mu.Unlock()

	childLogger.Info("meta: spawned meta-VSM", "specialization", specialization)
	return instance, nil
}

// snapshotBody returns a shallow copy of body so a policy inherited at spawn
// time cannot be mutated through the parent's map reference.
func snapshotBody(body map[string]interface{}) map[string]interface{} {
	if body == nil {
		return nil
	}
	out := make(map[string]interface{}, len(body))
	for k, v := range body {
		out[k] = v
	}
	return out
}

// RouteRecursive publishes msg to the vsm.recursive exchange with routing
// key meta.<identity>, addressing the instance's dedicated queue.
func (m *Manager) RouteRecursive(ctx context.Context, identity string, msg interface{}) error {
	if m.pool == nil {
		return vsmerrors.New(vsmerrors.Unavailable, "meta.route", fmt.Errorf("no broker pool configured"))
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return vsmerrors.New(vsmerrors.InvalidInput, "meta.route", err)
	}

	lease, err := m.pool.Acquire(ctx, "meta:"+identity)
	if err != nil {
		return vsmerrors.New(vsmerrors.Unavailable, "meta.route", err)
	}
	defer m.pool.Release(lease)

	routingKey := "meta." + identity
	if err := m.pool.Publish(ctx, lease, "vsm.recursive", routingKey, body, amqp.Publishing{
		ContentType: "application/json",
	}); err != nil {
		return vsmerrors.New(vsmerrors.Transport, "meta.route", err)
	}
	return nil
}

// Get returns the spawned instance identified by identity.
func (m *Manager) Get(identity string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[identity]
	if !ok {
		return nil, vsmerrors.New(vsmerrors.NotFound, "meta.get", nil)
	}
	return inst, nil
}

// List returns a MetaVSM descriptor for every spawned instance.
func (m *Manager) List() []types.MetaVSM {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.MetaVSM, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, types.MetaVSM{
			Identity:       inst.Identity,
			ParentIdentity: inst.ParentIdentity,
			Depth:          inst.Depth,
			SpawnedAt:      inst.SpawnedAt,
			ExchangePrefix: "vsm.meta." + inst.Identity,
		})
	}
	return out
}
