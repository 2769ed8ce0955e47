package personality

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/dotsetgreg/dotpersona/pkg/analysis"
)

type fixedRand struct{ v float64 }

func (f fixedRand) Float64() float64 { return f.v }

func TestNormalizedEdges_SumToOne(t *testing.T) {
	for _, s := range States {
		sum := 0.0
		for _, e := range NormalizedEdges(s) {
			if e.Probability < 0 {
				t.Fatalf("negative probability in %s row", s)
			}
			sum += e.Probability
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %s sums to %.6f", s, sum)
		}
	}
}

func TestTransition_UnassignedMassIsSelfLoop(t *testing.T) {
	// engaged assigns 0.65; any draw at or above that stays put.
	if got := Transition(StateEngaged, fixedRand{0.9}); got != StateEngaged {
		t.Fatalf("expected self-loop, got %s", got)
	}
	if got := Transition(StateEngaged, fixedRand{0.05}); got != StateReflective {
		t.Fatalf("expected first edge, got %s", got)
	}
	if got := Transition(StateEngaged, fixedRand{0.25}); got != StateCreative {
		t.Fatalf("expected second edge, got %s", got)
	}
}

func TestCurrentState_PriorityOrder(t *testing.T) {
	v := DefaultVector()
	if got := CurrentState(v); got != StateEngaged {
		t.Fatalf("baseline should be engaged, got %s", got)
	}

	v.Set(Creativity, 0.9)
	v.Set(Patience, 0.95)
	if got := CurrentState(v); got != StateCreative {
		t.Fatalf("creative outranks patient, got %s", got)
	}

	v.Set(Nostalgia, 0.9)
	if got := CurrentState(v); got != StateNostalgic {
		t.Fatalf("nostalgic outranks everything, got %s", got)
	}
}

func TestAdjustTraits_BlendsTowardTarget(t *testing.T) {
	v := DefaultVector()
	v.Set(Patience, 0.5)
	got := AdjustTraits(StatePatient, v)

	vol := Volatility(Patience)
	want := 0.5*(1-vol) + 0.9*vol
	if math.Abs(got.Patience-want) > 1e-9 {
		t.Fatalf("patience = %.4f, want %.4f", got.Patience, want)
	}
	if got.Curiosity != v.Curiosity {
		t.Fatalf("untargeted trait changed: %.4f -> %.4f", v.Curiosity, got.Curiosity)
	}
}

func TestAdvance_TraitsStayInBounds(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	m := NewMachine(r)
	v := NewVector(r)

	inputs := []analysis.Analysis{
		analysis.Analyze("Tell me about computers and software engineering"),
		analysis.Analyze("What is the meaning of existence?"),
		analysis.Analyze("I remember the old days of history"),
		analysis.Analyze("I love this wonderful day"),
	}
	for i := 0; i < 500; i++ {
		v = m.Advance(v, inputs[i%len(inputs)])
		if err := v.Validate(); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}
}

func TestVector_SetClamps(t *testing.T) {
	var v Vector
	v.Set(Skepticism, 5)
	if v.Skepticism != TraitBounds(Skepticism).Max {
		t.Fatalf("expected clamp to max, got %.2f", v.Skepticism)
	}
	v.Set(Wisdom, -1)
	if v.Wisdom != TraitBounds(Wisdom).Min {
		t.Fatalf("expected clamp to min, got %.2f", v.Wisdom)
	}
}

func TestNewVector_WithinBounds(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 100; i++ {
		v := NewVector(r)
		if err := v.Validate(); err != nil {
			t.Fatalf("fresh vector invalid: %v", err)
		}
	}
}
