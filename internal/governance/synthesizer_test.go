package governance

import (
	"context"
	"errors"
	"testing"

	"github.com/cyberviable/vsm/internal/reasoner"
	"github.com/cyberviable/vsm/internal/types"
)

func TestSynthesizeWithNilClientDoesNotPanic(t *testing.T) {
	s := NewStore(nil, nil, nil)
	synth := NewSynthesizer(s, nil, 0, nil)

	synth.Synthesize(context.Background(), "anomaly summary")

	if len(s.All()) != 0 {
		t.Fatalf("expected no policy stored when client is nil, got %d", len(s.All()))
	}
}

func TestSynthesizeOnReasonerErrorDoesNotStorePolicy(t *testing.T) {
	s := NewStore(nil, nil, nil)
	client := reasoner.NewMockWithFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("boom")
	})
	synth := NewSynthesizer(s, client, 0, nil)

	synth.Synthesize(context.Background(), "anomaly summary")

	if len(s.All()) != 0 {
		t.Fatalf("expected no policy stored on reasoner error, got %d", len(s.All()))
	}
}

func TestSynthesizeOnSuccessStoresSynthesizedPolicy(t *testing.T) {
	s := NewStore(nil, nil, nil)
	client := reasoner.NewMockWithFunc(func(ctx context.Context, prompt string) (string, error) {
		return "synthesized-body", nil
	})
	synth := NewSynthesizer(s, client, 0, nil)

	synth.Synthesize(context.Background(), "anomaly summary")

	all := s.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 policy stored, got %d", len(all))
	}
	if all[0].Type != types.PolicySynthesized {
		t.Fatalf("expected policy type %v, got %v", types.PolicySynthesized, all[0].Type)
	}
	if all[0].Body["body"] != "synthesized-body" {
		t.Fatalf("expected stored body to include reasoner output, got %v", all[0].Body)
	}
}
