package variety

import (
	"testing"

	"github.com/cyberviable/vsm/internal/eventbus"
)

func TestAmplifyGeneratesDefaultFactorVariants(t *testing.T) {
	bus := eventbus.New(16, nil)
	a := NewAmplifier(BoundaryS5S4, bus, "s4.directives", 0, nil)

	variants := a.Amplify(Directive{Scope: "resource", Target: "pool-a", Priority: 5})
	if len(variants) != defaultAmplificationFactor {
		t.Fatalf("expected default factor %d variants, got %d", defaultAmplificationFactor, len(variants))
	}
	for i, v := range variants {
		if v.Index != i {
			t.Fatalf("expected variant index %d, got %d", i, v.Index)
		}
		if v.Scope != "resource" {
			t.Fatalf("expected scope propagated, got %s", v.Scope)
		}
	}
}

func TestNewAmplifierClampsFactor(t *testing.T) {
	a := NewAmplifier(BoundaryS5S4, eventbus.New(16, nil), "s4.directives", 99, nil)
	if a.Factor() != maxAmplificationFactor {
		t.Fatalf("expected factor clamped to %d, got %d", maxAmplificationFactor, a.Factor())
	}

	a2 := NewAmplifier(BoundaryS5S4, eventbus.New(16, nil), "s4.directives", -3, nil)
	if a2.Factor() != defaultAmplificationFactor {
		t.Fatalf("expected non-positive factor to fall back to default, got %d", a2.Factor())
	}
}

func TestSetFactorClampsWithinBounds(t *testing.T) {
	a := NewAmplifier(BoundaryS5S4, eventbus.New(16, nil), "s4.directives", 3, nil)

	a.SetFactor(20)
	if a.Factor() != maxAmplificationFactor {
		t.Fatalf("expected SetFactor to clamp to max, got %d", a.Factor())
	}

	a.SetFactor(0)
	if a.Factor() != minAmplificationFactor {
		t.Fatalf("expected SetFactor to clamp to min, got %d", a.Factor())
	}
}
