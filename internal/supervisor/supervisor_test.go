package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyberviable/vsm/internal/types"
)

type fakeAgent struct {
	id       string
	typ      types.AgentType
	crashes  int32
	maxCrash int32
}

func (f *fakeAgent) ID() string             { return f.id }
func (f *fakeAgent) Type() types.AgentType  { return f.typ }
func (f *fakeAgent) Run(ctx context.Context) error {
	if atomic.LoadInt32(&f.crashes) < f.maxCrash {
		atomic.AddInt32(&f.crashes, 1)
		return errors.New("simulated crash")
	}
	<-ctx.Done()
	return nil
}

func TestSpawnAndTerminate(t *testing.T) {
	fa := &fakeAgent{id: "w1", typ: types.AgentWorker}
	factory := func(agentType types.AgentType, id string, config map[string]string) (Runnable, error) {
		return fa, nil
	}
	s := New(factory, 5, 60*time.Second, nil)

	info, err := s.Spawn(context.Background(), types.AgentWorker, "w1", nil)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	if info.ID != "w1" {
		t.Fatalf("unexpected id: %s", info.ID)
	}
	if len(s.List()) != 1 {
		t.Fatalf("expected 1 supervised agent, got %d", len(s.List()))
	}

	if err := s.Terminate("w1"); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	if len(s.List()) != 0 {
		t.Fatalf("expected 0 supervised agents after terminate, got %d", len(s.List()))
	}
}

func TestSpawnDuplicateIDRejected(t *testing.T) {
	fa := &fakeAgent{id: "w1", typ: types.AgentWorker}
	factory := func(agentType types.AgentType, id string, config map[string]string) (Runnable, error) {
		return fa, nil
	}
	s := New(factory, 5, 60*time.Second, nil)

	if _, err := s.Spawn(context.Background(), types.AgentWorker, "w1", nil); err != nil {
		t.Fatalf("first spawn failed: %v", err)
	}
	if _, err := s.Spawn(context.Background(), types.AgentWorker, "w1", nil); err == nil {
		t.Fatal("expected duplicate spawn to fail")
	}
}

func TestSpawnWithoutFactoryReturnsError(t *testing.T) {
	s := New(nil, 5, 60*time.Second, nil)
	if _, err := s.Spawn(context.Background(), types.AgentWorker, "w1", nil); err == nil {
		t.Fatal("expected spawn without a configured factory to fail")
	}
}

func TestSetFactoryEnablesSpawn(t *testing.T) {
	fa := &fakeAgent{id: "w1", typ: types.AgentWorker}
	s := New(nil, 5, 60*time.Second, nil)
	s.SetFactory(func(agentType types.AgentType, id string, config map[string]string) (Runnable, error) {
		return fa, nil
	})

	info, err := s.Spawn(context.Background(), types.AgentWorker, "w1", nil)
	if err != nil {
		t.Fatalf("spawn failed after SetFactory: %v", err)
	}
	if info.ID != "w1" {
		t.Fatalf("unexpected id: %s", info.ID)
	}
}

func TestCrashTriggersRestartWithinBudget(t *testing.T) {
	fa := &fakeAgent{id: "w1", typ: types.AgentWorker, maxCrash: 2}
	factory := func(agentType types.AgentType, id string, config map[string]string) (Runnable, error) {
		return fa, nil
	}
	s := New(factory, 5, 60*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.Spawn(ctx, types.AgentWorker, "w1", nil); err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	// Allow the crash-and-restart cycle to settle.
	time.Sleep(100 * time.Millisecond)

	agents := s.List()
	if len(agents) != 1 {
		t.Fatalf("expected agent to remain supervised after restarts, got %d", len(agents))
	}
	if agents[0].Restarts < 1 {
		t.Fatalf("expected at least one restart to be recorded, got %d", agents[0].Restarts)
	}
}
