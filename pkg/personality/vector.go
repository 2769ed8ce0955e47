// Package personality holds the bounded persona trait vector and the state
// machine that evolves it once per turn.
package personality

import (
	"fmt"
	"sort"
)

type Trait string

const (
	Curiosity      Trait = "curiosity"
	Nostalgia      Trait = "nostalgia"
	Wisdom         Trait = "wisdom"
	Playfulness    Trait = "playfulness"
	Patience       Trait = "patience"
	Creativity     Trait = "creativity"
	Skepticism     Trait = "skepticism"
	Enthusiasm     Trait = "enthusiasm"
	TechnologyBias Trait = "technology_bias"
	PhilosophyBias Trait = "philosophy_bias"
)

// Traits lists every trait in a fixed order.
var Traits = []Trait{
	Curiosity, Nostalgia, Wisdom, Playfulness, Patience,
	Creativity, Skepticism, Enthusiasm, TechnologyBias, PhilosophyBias,
}

// Bounds is an inclusive [Min, Max] range.
type Bounds struct {
	Min float64
	Max float64
}

func (b Bounds) Clamp(v float64) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

type traitSpec struct {
	bounds     Bounds
	baseline   float64
	volatility float64
}

var traitSpecs = map[Trait]traitSpec{
	Curiosity:      {Bounds{0.3, 1.0}, 0.7, 0.20},
	Nostalgia:      {Bounds{0.2, 0.95}, 0.6, 0.15},
	Wisdom:         {Bounds{0.4, 1.0}, 0.7, 0.10},
	Playfulness:    {Bounds{0.1, 0.9}, 0.5, 0.25},
	Patience:       {Bounds{0.3, 1.0}, 0.7, 0.10},
	Creativity:     {Bounds{0.2, 1.0}, 0.6, 0.20},
	Skepticism:     {Bounds{0.0, 0.7}, 0.3, 0.15},
	Enthusiasm:     {Bounds{0.2, 1.0}, 0.6, 0.25},
	TechnologyBias: {Bounds{0.0, 1.0}, 0.5, 0.10},
	PhilosophyBias: {Bounds{0.0, 1.0}, 0.5, 0.10},
}

// TraitBounds returns the configured range of t.
func TraitBounds(t Trait) Bounds {
	return traitSpecs[t].bounds
}

// Volatility returns the per-trait blend factor used when moving toward a target.
func Volatility(t Trait) float64 {
	return traitSpecs[t].volatility
}

// Vector is the persisted persona trait vector. Every setter clamps to the
// trait's bounds.
type Vector struct {
	Curiosity      float64 `json:"curiosity"`
	Nostalgia      float64 `json:"nostalgia"`
	Wisdom         float64 `json:"wisdom"`
	Playfulness    float64 `json:"playfulness"`
	Patience       float64 `json:"patience"`
	Creativity     float64 `json:"creativity"`
	Skepticism     float64 `json:"skepticism"`
	Enthusiasm     float64 `json:"enthusiasm"`
	TechnologyBias float64 `json:"technology_bias"`
	PhilosophyBias float64 `json:"philosophy_bias"`

	CurrentEmotionalState State `json:"current_emotional_state"`
}

func (v *Vector) field(t Trait) *float64 {
	switch t {
	case Curiosity:
		return &v.Curiosity
	case Nostalgia:
		return &v.Nostalgia
	case Wisdom:
		return &v.Wisdom
	case Playfulness:
		return &v.Playfulness
	case Patience:
		return &v.Patience
	case Creativity:
		return &v.Creativity
	case Skepticism:
		return &v.Skepticism
	case Enthusiasm:
		return &v.Enthusiasm
	case TechnologyBias:
		return &v.TechnologyBias
	case PhilosophyBias:
		return &v.PhilosophyBias
	default:
		return nil
	}
}

// Get returns the value of t, or 0 for an unknown trait.
func (v Vector) Get(t Trait) float64 {
	if f := v.field(t); f != nil {
		return *f
	}
	return 0
}

// Set writes the clamped value of t.
func (v *Vector) Set(t Trait, value float64) {
	if f := v.field(t); f != nil {
		*f = TraitBounds(t).Clamp(value)
	}
}

// Nudge adds delta to t, clamped.
func (v *Vector) Nudge(t Trait, delta float64) {
	v.Set(t, v.Get(t)+delta)
}

// Clamp forces every trait into range and repairs an unknown state.
func (v *Vector) Clamp() {
	for _, t := range Traits {
		v.Set(t, v.Get(t))
	}
	if !v.CurrentEmotionalState.Valid() {
		v.CurrentEmotionalState = CurrentState(*v)
	}
}

// Validate reports the first out-of-range trait.
func (v Vector) Validate() error {
	for _, t := range Traits {
		b := TraitBounds(t)
		if val := v.Get(t); val < b.Min || val > b.Max {
			return fmt.Errorf("trait %s=%.3f outside [%.2f,%.2f]", t, val, b.Min, b.Max)
		}
	}
	if !v.CurrentEmotionalState.Valid() {
		return fmt.Errorf("unknown emotional state %q", v.CurrentEmotionalState)
	}
	return nil
}

// Map flattens the trait values for response metadata.
func (v Vector) Map() map[string]float64 {
	out := make(map[string]float64, len(Traits))
	for _, t := range Traits {
		out[string(t)] = v.Get(t)
	}
	return out
}

// Rand is the random source consumed by the state machine.
type Rand interface {
	Float64() float64
}

// NewVector draws a fresh vector around each trait's baseline (±0.1 jitter).
func NewVector(r Rand) Vector {
	var v Vector
	for _, t := range Traits {
		spec := traitSpecs[t]
		jitter := 0.0
		if r != nil {
			jitter = (r.Float64()*2 - 1) * 0.1
		}
		v.Set(t, spec.baseline+jitter)
	}
	v.CurrentEmotionalState = CurrentState(v)
	return v
}

// DefaultVector is the deterministic baseline vector.
func DefaultVector() Vector {
	return NewVector(nil)
}

func sortedTraits(m map[Trait]float64) []Trait {
	out := make([]Trait, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
