// Package registry tracks the set of live level-1 agents: unique-ID
// registration, liveness monitoring, and event publication. The Registry
// holds weak references only — the Supervisor owns the actual agent
// processes.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cyberviable/vsm/internal/broker"
	"github.com/cyberviable/vsm/internal/eventbus"
	vsmerrors "github.com/cyberviable/vsm/internal/errors"
	"github.com/cyberviable/vsm/internal/types"
)

// LivenessChecker reports whether the handle behind a registered agent is
// still alive. internal/supervisor supplies the concrete implementation;
// the registry only needs the boolean.
type LivenessChecker func(handle string) bool

const (
	EventAgentRegistered   = "agent_registered"
	EventAgentDeregistered = "agent_deregistered"
	EventAgentCrashed      = "agent_crashed"
)

// Registry is the single-writer owner of the registered-agent set. Readers
// take a lock too (sync.RWMutex) since Lookup/List are far more frequent
// than Register/Deregister but still need a consistent snapshot.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*types.Agent

	bus         *eventbus.Bus
	pool        *broker.Pool
	logger      *slog.Logger
	isAlive     LivenessChecker
	sweepEvery  time.Duration
	stopSweep   chan struct{}
}

// New constructs a Registry. sweepEvery defaults to 10s if zero is passed.
func New(pool *broker.Pool, bus *eventbus.Bus, isAlive LivenessChecker, sweepEvery time.Duration, logger *slog.Logger) *Registry {
	if sweepEvery <= 0 {
		sweepEvery = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		agents:     make(map[string]*types.Agent),
		bus:        bus,
		pool:       pool,
		logger:     logger,
		isAlive:    isAlive,
		sweepEvery: sweepEvery,
		stopSweep:  make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Stop halts the liveness sweep goroutine.
func (r *Registry) Stop() {
	close(r.stopSweep)
}

// Register adds id to the registered set. Re-registering an id already
// present returns vsmerrors.AlreadyRegistered without mutating state.
func (r *Registry) Register(ctx context.Context, id string, handle string, typ types.AgentType, caps []types.Capability, metadata map[string]string) (*types.Agent, error) {
	r.mu.Lock()
	if _, exists := r.agents[id]; exists {
		r.mu.Unlock()
		return nil, vsmerrors.New(vsmerrors.AlreadyRegistered, "registry.register", nil)
	}
	agent := types.NewAgent(id, typ, handle, caps, metadata)
	r.agents[id] = agent
	r.mu.Unlock()

	r.publishEvent(ctx, EventAgentRegistered, agent.ID, "")
	return agent, nil
}

// Deregister removes id from the registered set.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, exists := r.agents[id]; !exists {
		r.mu.Unlock()
		return vsmerrors.New(vsmerrors.NotFound, "registry.deregister", nil)
	}
	delete(r.agents, id)
	r.mu.Unlock()

	r.publishEvent(ctx, EventAgentDeregistered, id, "")
	return nil
}

// Lookup returns the registered Agent for id, or vsmerrors.NotFound.
func (r *Registry) Lookup(id string) (*types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, vsmerrors.New(vsmerrors.NotFound, "registry.lookup", nil)
	}
	return agent, nil
}

// List returns a snapshot of every currently registered agent.
func (r *Registry) List() []*types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// LookupByCapability returns every registered agent advertising name.
func (r *Registry) LookupByCapability(name string) []*types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*types.Agent
	for _, a := range r.agents {
		if a.HasCapability(name) {
			out = append(out, a)
		}
	}
	return out
}

// Subscribe registers subscriberName on the internal event bus's
// "vsm.registry.events" topic and returns the channel of events.
func (r *Registry) Subscribe(subscriberName string) <-chan eventbus.Event {
	return r.bus.Subscribe("vsm.registry.events", subscriberName)
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopSweep:
			return
		}
	}
}

// sweep reconciles the registered set against liveness, auto-deregistering
// and emitting agent_crashed for any handle the checker reports dead.
func (r *Registry) sweep() {
	if r.isAlive == nil {
		return
	}
	r.mu.Lock()
	var dead []*types.Agent
	for _, a := range r.agents {
		if !r.isAlive(a.Handle) {
			dead = append(dead, a)
			delete(r.agents, a.ID)
		}
	}
	r.mu.Unlock()

	for _, a := range dead {
		r.logger.Warn("registry: agent failed liveness check", "agent_id", a.ID)
		r.publishEvent(context.Background(), EventAgentCrashed, a.ID, "liveness check failed")
	}
}

// publishEvent fans the event out on the internal bus's
// vsm.registry.events topic and on the vsm.intelligence broker exchange
// with routing key registry.<eventType>.
func (r *Registry) publishEvent(ctx context.Context, eventType, agentID, reason string) {
	payload := map[string]interface{}{
		"event":    eventType,
		"agent_id": agentID,
	}
	if reason != "" {
		payload["reason"] = reason
	}

	if r.bus != nil {
		r.bus.Publish("vsm.registry.events", payload)
	}

	if r.pool == nil {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("registry: failed to marshal event", "error", err)
		return
	}

	lease, err := r.pool.Acquire(ctx, "registry")
	if err != nil {
		r.logger.Warn("registry: could not acquire broker lease for event publish", "error", err)
		return
	}
	defer r.pool.Release(lease)

	if err := r.pool.Publish(ctx, lease, "vsm.intelligence", "registry."+eventType, body, amqp.Publishing{
		ContentType: "application/json",
	}); err != nil {
		r.logger.Warn("registry: failed to publish event to broker", "error", err)
	}
}
