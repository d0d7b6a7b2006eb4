// Package governance implements the level-5 control plane component: the
// versioned Policy Store, the composite Viability Evaluator, the
// single-worker Algedonic Processor, and the Policy Synthesizer trigger.
// Uses the same mutex-guarded-map-with-broadcast-on-mutation idiom as
// internal/registry, applied to policies instead of agent cards.
package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cyberviable/vsm/internal/broker"
	"github.com/cyberviable/vsm/internal/eventbus"
	vsmerrors "github.com/cyberviable/vsm/internal/errors"
	"github.com/cyberviable/vsm/internal/types"
)

// Store is the single-writer owner of the versioned policy set. Every
// mutation broadcasts the full policy body on vsm.policy and on the
// internal bus — subscribers hold immutable copies, never a live link.
type Store struct {
	pool   *broker.Pool
	bus    *eventbus.Bus
	log    *Log
	logger *slog.Logger

	mu       sync.RWMutex
	policies map[string]*types.Policy
}

// NewStore constructs a Store. Policy log persistence is attached separately
// via AttachLog — a Store is fully usable in-memory without one.
func NewStore(pool *broker.Pool, bus *eventbus.Bus, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:     pool,
		bus:      bus,
		logger:   logger,
		policies: make(map[string]*types.Policy),
	}
}

// AttachLog wires the append-only persistence log; every subsequent Set
// call appends its resulting record. Failure to append is logged but never
// blocks the mutation — the in-memory store remains the source of truth for
// the running process per spec §5's "policy broadcast failures log but do
// not abort the originating Set call" posture, applied the same way here.
func (s *Store) AttachLog(log *Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = log
}

// Set upserts the policy identified by id: a fresh id is created at
// version 1, an existing id is updated and its version incremented. The
// caller's body replaces the previous body entirely — policies are not
// merged field by field. policyContext scopes which algedonic signals this
// policy is eligible to be reinforced by; nil means the policy is never
// matched by Reinforce.
func (s *Store) Set(ctx context.Context, id string, typ types.PolicyType, body, policyContext map[string]interface{}, autoExecutable bool) *types.Policy {
	s.mu.Lock()
	existing, ok := s.policies[id]
	version := 1
	reinforcement := 0
	if ok {
		version = existing.Version + 1
		reinforcement = existing.Reinforcement
	}
	policy := &types.Policy{
		ID:             id,
		Type:           typ,
		Body:           body,
		Context:        policyContext,
		AutoExecutable: autoExecutable,
		CreatedAt:      time.Now(),
		Version:        version,
		Reinforcement:  reinforcement,
	}
	s.policies[id] = policy
	log := s.log
	s.mu.Unlock()

	if log != nil {
		if err := log.Append(policy); err != nil {
			s.logger.Error("governance: failed to append policy log record", "error", err, "policy_id", id)
		}
	}

	s.broadcast(ctx, policy)
	return policy
}

func (s *Store) broadcast(ctx context.Context, policy *types.Policy) {
	if s.bus != nil {
		s.bus.Publish("vsm.policy.updates", policy)
	}
	if s.pool == nil {
		return
	}

	body, err := json.Marshal(policy)
	if err != nil {
		s.logger.Error("governance: failed to marshal policy for broadcast", "error", err)
		return
	}

	lease, err := s.pool.Acquire(ctx, "governance")
	if err != nil {
		s.logger.Warn("governance: could not acquire broker lease for policy broadcast", "error", err)
		return
	}
	defer s.pool.Release(lease)

	if err := s.pool.Publish(ctx, lease, "vsm.policy", "", body, amqp.Publishing{
		ContentType: "application/json",
	}); err != nil {
		s.logger.Warn("governance: failed to broadcast policy", "error", err)
	}
}

// Get returns the policy identified by id.
func (s *Store) Get(id string) (*types.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[id]
	if !ok {
		return nil, vsmerrors.New(vsmerrors.NotFound, "governance.get", nil)
	}
	return policy, nil
}

// GetByType returns every policy of the given type.
func (s *Store) GetByType(typ types.PolicyType) []*types.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Policy
	for _, p := range s.policies {
		if p.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

// All returns a snapshot of every stored policy.
func (s *Store) All() []*types.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	return out
}

// Reinforce increments Reinforcement on every policy whose Context is a
// non-empty subset of sigContext (every key/value pair the policy declares
// is present and equal in sigContext) and rebroadcasts each one. A policy
// with no Context is never matched — reinforcement only applies to policies
// that opted into a scope. Returns the reinforced policies for logging.
func (s *Store) Reinforce(ctx context.Context, sigContext map[string]interface{}) []*types.Policy {
	if len(sigContext) == 0 {
		return nil
	}

	s.mu.Lock()
	var matched []*types.Policy
	for _, p := range s.policies {
		if len(p.Context) == 0 || !contextMatches(p.Context, sigContext) {
			continue
		}
		p.Reinforcement++
		matched = append(matched, p)
	}
	log := s.log
	s.mu.Unlock()

	for _, p := range matched {
		if log != nil {
			if err := log.Append(p); err != nil {
				s.logger.Error("governance: failed to append policy log record", "error", err, "policy_id", p.ID)
			}
		}
		s.broadcast(ctx, p)
	}
	return matched
}

// contextMatches reports whether every key/value pair in want is present
// with an equal value in have.
func contextMatches(want, have map[string]interface{}) bool {
	for k, v := range want {
		hv, ok := have[k]
		if !ok || hv != v {
			return false
		}
	}
	return true
}

// Execute marks id as invoked. Only auto_executable policies may be
// executed this way; the actual effect of execution is domain-specific and
// out of this core's scope, so Execute only validates the precondition and
// returns the policy for the caller to act on.
func (s *Store) Execute(id string) (*types.Policy, error) {
	s.mu.RLock()
	policy, ok := s.policies[id]
	s.mu.RUnlock()
	if !ok {
		return nil, vsmerrors.New(vsmerrors.NotFound, "governance.execute", nil)
	}
	if !policy.AutoExecutable {
		return nil, vsmerrors.New(vsmerrors.InvalidInput, "governance.execute", fmt.Errorf("policy %s is not auto-executable", id))
	}
	return policy, nil
}
