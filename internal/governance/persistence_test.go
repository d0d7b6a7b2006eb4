package governance

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cyberviable/vsm/internal/types"
)

func TestReplayLogOnMissingFileReturnsEmpty(t *testing.T) {
	records, err := ReplayLog(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records for a missing log, got %d", len(records))
	}
}

func TestAppendThenReplayReconstructsLatestVersionPerID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.jsonl")
	log, err := OpenLog(path)
	if err != nil {
		t.Fatalf("unexpected error opening log: %v", err)
	}

	log.Append(&types.Policy{ID: "p1", Type: types.PolicyResource, Version: 1, Body: map[string]interface{}{"limit": 1}})
	log.Append(&types.Policy{ID: "p2", Type: types.PolicyGovernance, Version: 1, Body: map[string]interface{}{"x": 1}})
	log.Append(&types.Policy{ID: "p1", Type: types.PolicyResource, Version: 2, Body: map[string]interface{}{"limit": 2}})
	if err := log.Close(); err != nil {
		t.Fatalf("unexpected error closing log: %v", err)
	}

	records, err := ReplayLog(path)
	if err != nil {
		t.Fatalf("unexpected error replaying log: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 distinct policy IDs reconstructed, got %d", len(records))
	}

	byID := make(map[string]*types.Policy)
	for _, p := range records {
		byID[p.ID] = p
	}
	if byID["p1"].Version != 2 || byID["p1"].Body["limit"] != float64(2) {
		t.Fatalf("expected p1 reconstructed at version 2, got %+v", byID["p1"])
	}
}

func TestStoreSetAppendsToAttachedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.jsonl")
	log, err := OpenLog(path)
	if err != nil {
		t.Fatalf("unexpected error opening log: %v", err)
	}
	defer log.Close()

	s := NewStore(nil, nil, nil)
	s.AttachLog(log)
	s.Set(context.Background(), "p1", types.PolicyResource, map[string]interface{}{"limit": 5}, nil, false)

	records, err := ReplayLog(path)
	if err != nil {
		t.Fatalf("unexpected error replaying log: %v", err)
	}
	if len(records) != 1 || records[0].ID != "p1" {
		t.Fatalf("expected the Set call to have appended a record, got %+v", records)
	}
}

func TestBootstrapSeedsStoreWithoutBroadcast(t *testing.T) {
	s := NewStore(nil, nil, nil)
	s.Bootstrap([]*types.Policy{
		{ID: "p1", Type: types.PolicyResource, Version: 3, Body: map[string]interface{}{"limit": 9}},
	})

	p, err := s.Get("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Version != 3 {
		t.Fatalf("expected bootstrapped version preserved, got %d", p.Version)
	}
}
