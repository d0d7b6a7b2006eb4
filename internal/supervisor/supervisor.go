// Package supervisor owns level-1 agent processes: spawn, terminate,
// restart, one-for-one failure isolation, and a bounded restart budget.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	vsmerrors "github.com/cyberviable/vsm/internal/errors"
	"github.com/cyberviable/vsm/internal/types"
)

// Runnable is the minimal contract a supervised agent process exposes.
// internal/agent.Agent satisfies this; tests can supply a fake.
type Runnable interface {
	// Run blocks until ctx is cancelled or the agent exits on its own
	// (e.g. a fatal internal error). A non-nil return is treated as a
	// crash by the Supervisor.
	Run(ctx context.Context) error
	ID() string
	Type() types.AgentType
}

// Factory constructs a fresh Runnable for (agentType, id, config) — supplied
// by the process wiring this Supervisor to concrete agent constructors.
type Factory func(agentType types.AgentType, id string, config map[string]string) (Runnable, error)

// AgentInfo is the supervisor's view of a managed process, returned from
// Spawn and List.
type AgentInfo struct {
	ID        string
	Type      types.AgentType
	StartedAt time.Time
	Restarts  int
}

type managedAgent struct {
	info       AgentInfo
	cancel     context.CancelFunc
	restartsAt []time.Time // timestamps of restarts within the rolling window
}

// Supervisor is the single-writer owner of the managed-agent set.
type Supervisor struct {
	mu      sync.Mutex
	agents  map[string]*managedAgent
	factory Factory
	logger  *slog.Logger

	maxRestarts    int
	restartWindow  time.Duration
}

// New constructs a Supervisor. maxRestarts/restartWindow default to 5/60s
// if zero values are passed.
func New(factory Factory, maxRestarts int, restartWindow time.Duration, logger *slog.Logger) *Supervisor {
	if maxRestarts <= 0 {
		maxRestarts = 5
	}
	if restartWindow <= 0 {
		restartWindow = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		agents:        make(map[string]*managedAgent),
		factory:       factory,
		logger:        logger,
		maxRestarts:   maxRestarts,
		restartWindow: restartWindow,
	}
}

// Spawn constructs and starts a new agent of agentType. If id is empty one
// is generated by the factory's own convention (factories are expected to
// default to a generated id when given "").
func (s *Supervisor) Spawn(ctx context.Context, agentType types.AgentType, id string, config map[string]string) (AgentInfo, error) {
	s.mu.Lock()
	factory := s.factory
	s.mu.Unlock()
	if factory == nil {
		return AgentInfo{}, vsmerrors.New(vsmerrors.InvalidInput, "supervisor.spawn", fmt.Errorf("no agent factory configured"))
	}
	runnable, err := factory(agentType, id, config)
	if err != nil {
		return AgentInfo{}, vsmerrors.New(vsmerrors.Internal, "supervisor.spawn", err)
	}

	s.mu.Lock()
	if _, exists := s.agents[runnable.ID()]; exists {
		s.mu.Unlock()
		return AgentInfo{}, vsmerrors.New(vsmerrors.AlreadyRegistered, "supervisor.spawn", fmt.Errorf("agent %s already supervised", runnable.ID()))
	}
	runCtx, cancel := context.WithCancel(ctx)
	ma := &managedAgent{
		info:   AgentInfo{ID: runnable.ID(), Type: runnable.Type(), StartedAt: time.Now()},
		cancel: cancel,
	}
	s.agents[runnable.ID()] = ma
	s.mu.Unlock()

	s.run(runCtx, runnable, ma)

	return ma.info, nil
}

// run launches runnable in its own goroutine; a non-nil return from Run is
// treated as a crash and triggers the one-for-one restart policy, isolated
// from every other supervised agent.
func (s *Supervisor) run(ctx context.Context, runnable Runnable, ma *managedAgent) {
	go func() {
		err := runnable.Run(ctx)
		if ctx.Err() != nil {
			// Terminated deliberately; not a crash.
			return
		}
		if err != nil {
			s.logger.Warn("supervisor: agent crashed, considering restart", "agent_id", ma.info.ID, "error", err)
			s.maybeRestart(ctx, runnable, ma)
		}
	}()
}

// maybeRestart restarts ma if it has not exceeded maxRestarts within
// restartWindow; otherwise it gives up, drops ma from the supervised set
// and logs an error. No agent_unrestartable event is published.
func (s *Supervisor) maybeRestart(parentCtx context.Context, runnable Runnable, ma *managedAgent) {
	now := time.Now()

	s.mu.Lock()
	cutoff := now.Add(-s.restartWindow)
	kept := ma.restartsAt[:0]
	for _, t := range ma.restartsAt {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	ma.restartsAt = kept

	if len(ma.restartsAt) >= s.maxRestarts {
		delete(s.agents, ma.info.ID)
		s.mu.Unlock()
		s.logger.Error("supervisor: agent unrestartable, giving up", "agent_id", ma.info.ID)
		return
	}

	ma.restartsAt = append(ma.restartsAt, now)
	ma.info.Restarts++
	runCtx, cancel := context.WithCancel(parentCtx)
	ma.cancel = cancel
	s.mu.Unlock()

	s.run(runCtx, runnable, ma)
}

// SetFactory wires the agent constructor after the fact, for callers whose
// factory itself depends on a component (e.g. the registry) that must be
// constructed with this Supervisor's liveness checker first.
func (s *Supervisor) SetFactory(f Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factory = f
}

// Terminate stops the agent identified by id by cancelling its run context.
func (s *Supervisor) Terminate(id string) error {
	s.mu.Lock()
	ma, ok := s.agents[id]
	if !ok {
		s.mu.Unlock()
		return vsmerrors.New(vsmerrors.NotFound, "supervisor.terminate", nil)
	}
	delete(s.agents, id)
	s.mu.Unlock()

	ma.cancel()
	return nil
}

// Restart force-restarts the agent identified by id, resetting its restart
// budget bookkeeping window as a fresh deliberate action, not a crash.
func (s *Supervisor) Restart(ctx context.Context, id string, factory Factory) error {
	s.mu.Lock()
	ma, ok := s.agents[id]
	if !ok {
		s.mu.Unlock()
		return vsmerrors.New(vsmerrors.NotFound, "supervisor.restart", nil)
	}
	ma.cancel()
	ma.restartsAt = nil
	s.mu.Unlock()

	runnable, err := factory(ma.info.Type, id, nil)
	if err != nil {
		return vsmerrors.New(vsmerrors.Internal, "supervisor.restart", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	ma.cancel = cancel
	s.mu.Unlock()

	s.run(runCtx, runnable, ma)
	return nil
}

// List returns a snapshot of every currently supervised agent.
func (s *Supervisor) List() []AgentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AgentInfo, 0, len(s.agents))
	for _, ma := range s.agents {
		out = append(out, ma.info)
	}
	return out
}
