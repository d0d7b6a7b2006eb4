package governance

import (
	"sync"

	"github.com/cyberviable/vsm/internal/types"
)

// viabilityWeights are the four composite-score inputs' relative weights,
// equally split in the absence of any operator-tuned weighting — see
// DESIGN.md for the reasoning.
const (
	weightPolicyCoherence         = 0.25
	weightResourceEfficiency      = 0.25
	weightCoordinationEffective   = 0.25
	weightPainPleasureBalance     = 0.25
)

// Viability is the composite viability score in [0,1] derived from four
// weighted inputs. All setters clamp to [0,1] so Score() is always valid.
type Viability struct {
	mu sync.Mutex

	policyCoherence       float64
	resourceEfficiency    float64
	coordinationEffective float64
	painPleasureBalance   float64

	recentPainFrequency float64 // decaying count of recent pain signals
}

// NewViability starts every input at a neutral 0.5.
func NewViability() *Viability {
	return &Viability{
		policyCoherence:       0.5,
		resourceEfficiency:    0.5,
		coordinationEffective: 0.5,
		painPleasureBalance:   0.5,
	}
}

// Score returns the weighted composite viability score.
func (v *Viability) Score() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.policyCoherence*weightPolicyCoherence +
		v.resourceEfficiency*weightResourceEfficiency +
		v.coordinationEffective*weightCoordinationEffective +
		v.painPleasureBalance*weightPainPleasureBalance
}

// SetPolicyCoherence, SetResourceEfficiency, and SetCoordinationEffectiveness
// let C8/C7 feed their own derived metrics into the composite score.
func (v *Viability) SetPolicyCoherence(score float64) { v.set(&v.policyCoherence, score) }
func (v *Viability) SetResourceEfficiency(score float64) { v.set(&v.resourceEfficiency, score) }
func (v *Viability) SetCoordinationEffectiveness(score float64) {
	v.set(&v.coordinationEffective, score)
}

func (v *Viability) set(field *float64, score float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	*field = clamp01(score)
}

// UpdateFromSignal applies one algedonic signal to the pain/pleasure
// balance input: pain moves it down proportional to intensity and recent
// pain frequency; pleasure moves it up proportional to intensity alone.
func (v *Viability) UpdateFromSignal(kind types.AlgedonicKind, intensity float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	intensity = clamp01(intensity)
	switch kind {
	case types.Pain:
		v.recentPainFrequency = clamp01(v.recentPainFrequency*0.9 + 0.1)
		delta := intensity * (0.1 + 0.2*v.recentPainFrequency)
		v.painPleasureBalance = clamp01(v.painPleasureBalance - delta)
	case types.Pleasure:
		v.recentPainFrequency = clamp01(v.recentPainFrequency * 0.9)
		delta := intensity * 0.1
		v.painPleasureBalance = clamp01(v.painPleasureBalance + delta)
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
