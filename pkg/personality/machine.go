package personality

import (
	"github.com/dotsetgreg/dotpersona/pkg/analysis"
)

type State string

const (
	StateEngaged     State = "engaged"
	StateReflective  State = "reflective"
	StateCreative    State = "creative"
	StatePatient     State = "patient"
	StateNostalgic   State = "nostalgic"
	StateInstructive State = "instructive"
)

var States = []State{StateEngaged, StateReflective, StateCreative, StatePatient, StateNostalgic, StateInstructive}

func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

type stateRule struct {
	state State
	match func(Vector) bool
}

// Evaluated top to bottom; the first match wins.
var stateRules = []stateRule{
	{StateNostalgic, func(v Vector) bool { return v.Nostalgia > 0.8 }},
	{StateReflective, func(v Vector) bool { return v.Wisdom > 0.8 && v.PhilosophyBias > 0.6 }},
	{StateCreative, func(v Vector) bool { return v.Creativity > 0.8 }},
	{StatePatient, func(v Vector) bool { return v.Patience > 0.85 }},
	{StateInstructive, func(v Vector) bool { return v.Wisdom > 0.7 && v.TechnologyBias > 0.6 }},
}

// CurrentState derives the state implied by the trait thresholds.
func CurrentState(v Vector) State {
	for _, rule := range stateRules {
		if rule.match(v) {
			return rule.state
		}
	}
	return StateEngaged
}

type Edge struct {
	To          State
	Probability float64
}

// Authored outgoing probabilities. Rows may sum to less than 1.
var transitionTable = map[State][]Edge{
	StateEngaged:     {{StateReflective, 0.20}, {StateCreative, 0.20}, {StateNostalgic, 0.10}, {StateInstructive, 0.15}},
	StateReflective:  {{StateEngaged, 0.25}, {StateNostalgic, 0.20}, {StateInstructive, 0.15}},
	StateCreative:    {{StateEngaged, 0.30}, {StateReflective, 0.15}, {StatePatient, 0.10}},
	StatePatient:     {{StateEngaged, 0.20}, {StateReflective, 0.20}, {StateInstructive, 0.20}},
	StateNostalgic:   {{StateReflective, 0.30}, {StateEngaged, 0.20}, {StatePatient, 0.10}},
	StateInstructive: {{StateEngaged, 0.30}, {StateReflective, 0.20}, {StateCreative, 0.10}},
}

var traitTargets = map[State]map[Trait]float64{
	StateEngaged:     {Curiosity: 0.8, Enthusiasm: 0.75, Playfulness: 0.6},
	StateReflective:  {Wisdom: 0.85, PhilosophyBias: 0.7, Patience: 0.75},
	StateCreative:    {Creativity: 0.85, Playfulness: 0.7, Curiosity: 0.75},
	StatePatient:     {Patience: 0.9, Skepticism: 0.2},
	StateNostalgic:   {Nostalgia: 0.85, Wisdom: 0.7},
	StateInstructive: {Wisdom: 0.8, TechnologyBias: 0.65, Skepticism: 0.4},
}

// NormalizedEdges returns the outgoing row of s with the unassigned mass made
// explicit as a self-loop. Rows that over-assign are scaled down to sum to 1.
func NormalizedEdges(s State) []Edge {
	row := transitionTable[s]
	sum := 0.0
	for _, e := range row {
		sum += e.Probability
	}
	scale := 1.0
	if sum > 1 {
		scale = 1 / sum
		sum = 1
	}
	out := make([]Edge, 0, len(row)+1)
	for _, e := range row {
		out = append(out, Edge{To: e.To, Probability: e.Probability * scale})
	}
	if rest := 1 - sum; rest > 0 {
		out = append(out, Edge{To: s, Probability: rest})
	}
	return out
}

// Transition draws the next state from the normalized row of s.
func Transition(s State, r Rand) State {
	if !s.Valid() {
		s = StateEngaged
	}
	u := r.Float64()
	acc := 0.0
	for _, e := range NormalizedEdges(s) {
		acc += e.Probability
		if u < acc {
			return e.To
		}
	}
	return s
}

// AdjustTraits moves every trait targeted by s toward its target by the
// trait's volatility, then clamps.
func AdjustTraits(s State, v Vector) Vector {
	targets := traitTargets[s]
	for _, t := range sortedTraits(targets) {
		vol := Volatility(t)
		v.Set(t, v.Get(t)*(1-vol)+targets[t]*vol)
	}
	return v
}

const nudgeStep = 0.02

// applyAnalysis shifts the topical biases toward what the user talks about.
func applyAnalysis(v Vector, a analysis.Analysis) Vector {
	if a.HasTopic("technology") {
		v.Nudge(TechnologyBias, nudgeStep)
	}
	if a.HasTopic("philosophy") {
		v.Nudge(PhilosophyBias, nudgeStep)
	}
	if a.HasTopic("memory") || a.HasTopic("history") {
		v.Nudge(Nostalgia, nudgeStep)
	}
	if a.Sentiment.Label == analysis.SentimentPositive {
		v.Nudge(Enthusiasm, nudgeStep)
	}
	if a.ContainsQuestion {
		v.Nudge(Curiosity, nudgeStep/2)
	}
	return v
}

// Machine advances a vector once per turn.
type Machine struct {
	rand Rand
}

func NewMachine(r Rand) *Machine {
	return &Machine{rand: r}
}

// Advance applies analysis nudges, derives the current state, draws the next
// state and blends the traits toward it. The returned vector carries the new
// state as CurrentEmotionalState.
func (m *Machine) Advance(v Vector, a analysis.Analysis) Vector {
	v.Clamp()
	v = applyAnalysis(v, a)
	next := Transition(CurrentState(v), m.rand)
	v = AdjustTraits(next, v)
	v.CurrentEmotionalState = next
	return v
}
