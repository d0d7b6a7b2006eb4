package controlplane

import (
	"context"
	"testing"

	"github.com/cyberviable/vsm/internal/governance"
	"github.com/cyberviable/vsm/internal/supervisor"
	"github.com/cyberviable/vsm/internal/types"
)

func TestDefaultAgentFactoryProducesRunnableWithEchoCapability(t *testing.T) {
	factory := defaultAgentFactory(nil, nil, nil, nil)
	runnable, err := factory(types.AgentWorker, "w1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runnable.ID() != "w1" {
		t.Fatalf("expected id w1, got %s", runnable.ID())
	}
	if runnable.Type() != types.AgentWorker {
		t.Fatalf("expected type %s, got %s", types.AgentWorker, runnable.Type())
	}
}

func TestDefaultAgentFactoryGeneratesIDWhenEmpty(t *testing.T) {
	factory := defaultAgentFactory(nil, nil, nil, nil)
	runnable, err := factory(types.AgentWorker, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runnable.ID() == "" {
		t.Fatal("expected a generated id")
	}
}

func TestAgentLifecycleHandlersRoundTripSpawnListTerminate(t *testing.T) {
	sup := supervisor.New(defaultAgentFactory(nil, nil, nil, nil), 5, 0, nil)
	handlers := agentLifecycleHandlers(sup)

	spawnResult, err := handlers["agent_spawn"](context.Background(), types.Command{
		Payload: map[string]interface{}{"agent_type": "worker", "id": "w1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spawnResult.Status != types.StatusOK {
		t.Fatalf("expected ok status, got %s: %s", spawnResult.Status, spawnResult.ErrorMessage)
	}

	listResult, err := handlers["agent_list"](context.Background(), types.Command{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	agents, _ := listResult.Payload["agents"].([]map[string]interface{})
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent listed, got %d", len(agents))
	}

	termResult, err := handlers["agent_terminate"](context.Background(), types.Command{Target: "w1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if termResult.Status != types.StatusOK {
		t.Fatalf("expected ok terminate status, got %s", termResult.Status)
	}
}

func TestAgentLifecycleHandlersSpawnFailureIsErrorResult(t *testing.T) {
	sup := supervisor.New(nil, 5, 0, nil)
	handlers := agentLifecycleHandlers(sup)

	result, err := handlers["agent_spawn"](context.Background(), types.Command{
		Payload: map[string]interface{}{"agent_type": "worker"},
	})
	if err != nil {
		t.Fatalf("handler itself should not error: %v", err)
	}
	if result.Status != types.StatusError {
		t.Fatalf("expected error status for a supervisor with no factory, got %s", result.Status)
	}
}

func TestPolicyHandlersSetThenListByType(t *testing.T) {
	store := governance.NewStore(nil, nil, nil)
	handlers := policyHandlers(store)

	setResult, err := handlers["policy_set"](context.Background(), types.Command{
		Payload: map[string]interface{}{
			"id":   "p1",
			"type": string(types.PolicyResource),
			"body": map[string]interface{}{"limit": 5},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if setResult.Status != types.StatusOK {
		t.Fatalf("expected ok status, got %s", setResult.Status)
	}

	listResult, err := handlers["policy_list"](context.Background(), types.Command{
		Payload: map[string]interface{}{"type": string(types.PolicyResource)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	policies, _ := listResult.Payload["policies"].([]map[string]interface{})
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy listed, got %d", len(policies))
	}
}

func TestViabilityHandlerReturnsCurrentScore(t *testing.T) {
	v := governance.NewViability()
	handler := viabilityHandler(v)

	result, err := handler(context.Background(), types.Command{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := result.Payload["score"].(float64); !ok {
		t.Fatalf("expected a float score in payload, got %+v", result.Payload)
	}
}

func TestErrorResultTagsClassifiedKind(t *testing.T) {
	store := governance.NewStore(nil, nil, nil)
	_, err := store.Execute("missing-policy")
	if err == nil {
		t.Fatal("expected Execute on a missing policy to fail")
	}

	result := errorResult("corr1", err)
	if result.Status != types.StatusError {
		t.Fatalf("expected error status, got %s", result.Status)
	}
	if result.ErrorKind == "" {
		t.Fatal("expected a non-empty error kind")
	}
}
