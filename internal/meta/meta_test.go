package meta

import (
	"context"
	"testing"

	vsmerrors "github.com/cyberviable/vsm/internal/errors"
	"github.com/cyberviable/vsm/internal/types"
)

func TestSpawnMetaVSMRejectsDepthBeyondMax(t *testing.T) {
	m := NewManager(nil, nil, nil, nil, 3, nil)

	_, err := m.SpawnMetaVSM(context.Background(), "child-a", "root", "logistics", 4, nil, nil)
	if vsmerrors.KindOf(err) != vsmerrors.RecursionLimitExceeded {
		t.Fatalf("expected recursion_limit_exceeded, got %v", err)
	}
}

func TestSpawnMetaVSMSucceedsWithinDepth(t *testing.T) {
	m := NewManager(nil, nil, nil, nil, 3, nil)

	inst, err := m.SpawnMetaVSM(context.Background(), "child-a", "root", "logistics", 1, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Identity != "child-a" || inst.ParentIdentity != "root" || inst.Specialization != "logistics" {
		t.Fatalf("unexpected instance fields: %+v", inst)
	}
	if inst.Control == nil || inst.Intelligence == nil || inst.Policies == nil || inst.Viability == nil {
		t.Fatalf("expected a fully wired triad, got %+v", inst)
	}
}

func TestSpawnMetaVSMRejectsDuplicateIdentity(t *testing.T) {
	m := NewManager(nil, nil, nil, nil, 3, nil)
	_, err := m.SpawnMetaVSM(context.Background(), "child-a", "root", "logistics", 1, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error on first spawn: %v", err)
	}

	_, err = m.SpawnMetaVSM(context.Background(), "child-a", "root", "logistics", 1, nil, nil)
	if vsmerrors.KindOf(err) != vsmerrors.AlreadyRegistered {
		t.Fatalf("expected already_registered on duplicate spawn, got %v", err)
	}
}

func TestSpawnMetaVSMInheritsPolicySnapshotNotLiveLink(t *testing.T) {
	m := NewManager(nil, nil, nil, nil, 3, nil)

	parentBody := map[string]interface{}{"limit": 10}
	parentPolicy := &types.Policy{ID: "p1", Type: types.PolicyResource, Body: parentBody, Version: 1}

	inst, err := m.SpawnMetaVSM(context.Background(), "child-a", "root", "logistics", 1, []*types.Policy{parentPolicy}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	childPolicy, err := inst.Policies.Get("p1")
	if err != nil {
		t.Fatalf("expected inherited policy present, got error: %v", err)
	}
	if childPolicy.Body["limit"] != 10 {
		t.Fatalf("expected inherited policy body copied, got %v", childPolicy.Body)
	}

	parentBody["limit"] = 999
	if childPolicy.Body["limit"] != 10 {
		t.Fatalf("expected child policy snapshot unaffected by parent mutation, got %v", childPolicy.Body["limit"])
	}
}

func TestGetUnknownIdentityIsNotFound(t *testing.T) {
	m := NewManager(nil, nil, nil, nil, 3, nil)
	_, err := m.Get("missing")
	if vsmerrors.KindOf(err) != vsmerrors.NotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestListReturnsDescriptorPerInstance(t *testing.T) {
	m := NewManager(nil, nil, nil, nil, 3, nil)
	m.SpawnMetaVSM(context.Background(), "child-a", "root", "logistics", 1, nil, nil)
	m.SpawnMetaVSM(context.Background(), "child-b", "root", "finance", 1, nil, nil)

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 instances listed, got %d", len(list))
	}
}

func TestRouteRecursiveWithoutPoolReturnsUnavailable(t *testing.T) {
	m := NewManager(nil, nil, nil, nil, 3, nil)
	err := m.RouteRecursive(context.Background(), "child-a", map[string]interface{}{"hello": "world"})
	if vsmerrors.KindOf(err) != vsmerrors.Unavailable {
		t.Fatalf("expected unavailable without a broker pool, got %v", err)
	}
}
