package variety

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cyberviable/vsm/internal/eventbus"
)

// Directive is a higher-level instruction an Amplifier expands into variants
// for the level below.
type Directive struct {
	Scope    string
	Target   string
	Priority int
	Payload  interface{}
}

// Variant is one specialized, downward-published expansion of a Directive.
type Variant struct {
	Index    int
	Scope    string
	Target   string
	Priority int
	Payload  interface{}
}

// Amplifier expands one higher-level directive into N variants per spec
// §4.12's "downward variety should expand to N's operational breadth".
type Amplifier struct {
	boundary Boundary
	bus      *eventbus.Bus
	destTopic string
	logger   *slog.Logger

	mu     sync.Mutex
	factor int
}

// NewAmplifier constructs an Amplifier for boundary, publishing variants to
// destTopic. factor defaults to 3 and is clamped to [1,10] per §4.12.
func NewAmplifier(boundary Boundary, bus *eventbus.Bus, destTopic string, factor int, logger *slog.Logger) *Amplifier {
	if factor <= 0 {
		factor = defaultAmplificationFactor
	}
	factor = clampFactor(factor)
	if logger == nil {
		logger = slog.Default()
	}
	return &Amplifier{boundary: boundary, bus: bus, destTopic: destTopic, factor: factor, logger: logger}
}

// Amplify generates Factor() variants from directive, each specialized with
// an index suffix on target (so downstream consumers can distinguish
// variants of the same directive) and publishes them to destTopic.
func (a *Amplifier) Amplify(directive Directive) []Variant {
	factor := a.Factor()
	variants := make([]Variant, 0, factor)
	for i := 0; i < factor; i++ {
		v := Variant{
			Index:    i,
			Scope:    directive.Scope,
			Target:   fmt.Sprintf("%s#%d", directive.Target, i),
			Priority: directive.Priority,
			Payload:  directive.Payload,
		}
		variants = append(variants, v)
		if a.bus != nil {
			a.bus.Publish(a.destTopic, v)
		}
	}
	a.logger.Info("variety: amplified directive", "boundary", a.boundary, "scope", directive.Scope, "variants", len(variants))
	return variants
}

// Factor returns the amplifier's current amplification factor.
func (a *Amplifier) Factor() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.factor
}

// SetFactor lets the imbalance monitor nudge the amplification factor
// within [1,10].
func (a *Amplifier) SetFactor(f int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.factor = clampFactor(f)
}

func clampFactor(f int) int {
	if f < minAmplificationFactor {
		return minAmplificationFactor
	}
	if f > maxAmplificationFactor {
		return maxAmplificationFactor
	}
	return f
}
