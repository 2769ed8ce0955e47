package generation

import (
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/analysis"
	"github.com/dotsetgreg/dotpersona/pkg/memory"
	"github.com/dotsetgreg/dotpersona/pkg/personality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRand struct {
	f float64
	i int
}

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) IntN(n int) int   { return r.i % n }

func seededRanked(id string) []memory.RankedFragment {
	out := []memory.RankedFragment{}
	for i, f := range memory.SeedFragments(id, time.Now()) {
		f.ID = "frag-" + string(rune('a'+i))
		out = append(out, memory.RankedFragment{Fragment: f})
	}
	return out
}

func freshState() memory.ConversationState {
	return memory.NewConversationState("cv1:test", "u", "c", personality.DefaultVector(), time.Now())
}

func TestGenerate_AllStrategiesContribute(t *testing.T) {
	msg := "I love my wife Martha, tell me about family"
	in := Input{Message: msg, Analysis: analysis.Analyze(msg), State: freshState(), Memories: seededRanked("cv1:test")}
	pool := NewGenerator(fixedRand{}).Generate(in)

	counts := map[Source]int{}
	for _, c := range pool {
		counts[c.Source]++
		assert.GreaterOrEqual(t, c.Confidence, 0.0)
		assert.LessOrEqual(t, c.Confidence, 1.0)
		assert.NotEmpty(t, c.Provenance, c.Text)
		assert.Equal(t, 0.5, c.CoherenceScore, "no previous user message")
	}
	assert.GreaterOrEqual(t, counts[SourceTemplate], 3)
	assert.Equal(t, 3, counts[SourceMemory])
	assert.Equal(t, 4, counts[SourceGrammar], "reminisce and share, twice each")
	assert.Equal(t, 2, counts[SourceKnowledge])
}

func TestGenerate_TemplatesPadToThree(t *testing.T) {
	in := Input{Message: "Hello", Analysis: analysis.Analyze("Hello"), State: freshState()}
	pool := NewGenerator(fixedRand{}).Generate(in)
	templates := 0
	for _, c := range pool {
		if c.Source == SourceTemplate {
			templates++
		}
	}
	assert.Equal(t, 3, templates)
	assert.Equal(t, "It's always a pleasure to chat. What's been on your mind about Hello?", pool[0].Text)
}

func TestGenerate_MemoryTransform(t *testing.T) {
	msg := "tell me about music"
	mem := []memory.RankedFragment{{Fragment: memory.Fragment{
		ID: "m1", Type: memory.FragmentFact, Content: "my father played the piano", Weight: 0.9,
	}}}
	pool := NewGenerator(fixedRand{}).Generate(Input{Message: msg, Analysis: analysis.Analyze(msg), State: freshState(), Memories: mem})
	var found *Candidate
	for i := range pool {
		if pool[i].Source == SourceMemory {
			found = &pool[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "I recall that my father played the piano, which always brings me back to music", found.Text)
	assert.InDelta(t, 0.72, found.Confidence, 1e-9)
	assert.Equal(t, []string{"m1"}, found.Provenance)
}

func TestGenerate_SameSeedSameOutput(t *testing.T) {
	msg := "Why do we remember the old days so fondly? I miss my father."
	in := Input{Message: msg, Analysis: analysis.Analyze(msg), State: freshState(), Memories: seededRanked("cv1:test")}
	a := NewGenerator(rand.New(rand.NewPCG(3, 4))).Generate(in)
	b := NewGenerator(rand.New(rand.NewPCG(3, 4))).Generate(in)
	assert.Equal(t, a, b)
}

func TestGenerate_CoherenceAgainstPreviousUserMessage(t *testing.T) {
	st := freshState()
	st.Remember(memory.Message{Role: memory.RoleUser, Content: "my family and my garden"})
	msg := "tell me about family"
	pool := NewGenerator(fixedRand{}).Generate(Input{Message: msg, Analysis: analysis.Analyze(msg), State: st})
	for _, c := range pool {
		want := analysis.TopicJaccard(c.Text, "my family and my garden")
		assert.InDelta(t, want, c.CoherenceScore, 1e-9, c.Text)
	}
}

func TestSelect_FamilyScenarioPrefersFamilyProvenance(t *testing.T) {
	msg := "I love my wife Martha, tell me about family"
	a := analysis.Analyze(msg)
	st := freshState()
	mems := seededRanked("cv1:test")
	pool := NewGenerator(rand.New(rand.NewPCG(1, 2))).Generate(Input{Message: msg, Analysis: a, State: st, Memories: mems[:3]})

	sel := NewSelector(SelectorWeights{}).Select(pool, a, st)
	familyMem := map[string]bool{}
	for _, m := range mems[:3] {
		if m.HasTag("family") {
			familyMem[m.ID] = true
		}
	}
	require.NotEmpty(t, familyMem)
	found := false
	for _, id := range sel.Candidate.Provenance {
		if topic, ok := KnowledgeTopic(id); (ok && topic == "family") || familyMem[id] {
			found = true
		}
	}
	assert.True(t, found, "provenance %v has no family memory or knowledge", sel.Candidate.Provenance)
}

func TestSelect_EmptyPoolFallsBack(t *testing.T) {
	sel := NewSelector(DefaultSelectorWeights()).Select(nil, analysis.Analyze("Hello"), freshState())
	assert.Equal(t, SourceFallback, sel.Candidate.Source)
	assert.Equal(t, 0.3, sel.Candidate.Confidence)
	assert.Equal(t, FallbackText, sel.Candidate.Text)
}

func TestSelect_TiesKeepFirstCandidate(t *testing.T) {
	c := Candidate{Text: "A fine day for it.", Confidence: 0.5, CoherenceScore: 0.5}
	first, second := c, c
	first.Provenance = []string{"first"}
	second.Provenance = []string{"second"}
	sel := NewSelector(DefaultSelectorWeights()).Select([]Candidate{first, second}, analysis.Analyze("hello"), freshState())
	assert.Equal(t, []string{"first"}, sel.Candidate.Provenance)
}

func TestScoringComponents(t *testing.T) {
	a := analysis.Analyze("What do you think about computers?")
	assert.InDelta(t, 1.0, Relevance("I love my computer, do you?", a), 1e-9)
	assert.InDelta(t, 0.5, Relevance("The garden is quiet.", a), 1e-9)

	recent := []memory.Message{{Role: memory.RoleAgent, Content: "the garden is quiet"}}
	assert.InDelta(t, 0.1, Novelty("The garden is quiet", recent), 1e-9)
	assert.InDelta(t, 1.0, Novelty("anything", nil), 1e-9)

	v := personality.DefaultVector()
	assert.InDelta(t, 0.5, PersonalityMatch("I remember the radio", v), 1e-9)
	v.Set(personality.Nostalgia, 0.9)
	v.Set(personality.TechnologyBias, 0.9)
	v.Set(personality.PhilosophyBias, 0.9)
	assert.InDelta(t, 1.0, PersonalityMatch("I remember the radio and the meaning of it", v), 1e-9)

	pos := analysis.Analyze("what a wonderful day")
	assert.Equal(t, 0.8, SentimentFit("I am happy", pos))
	assert.Equal(t, 0.5, SentimentFit("The door", pos))
	assert.Equal(t, 0.3, SentimentFit("That is awful", pos))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "Hello there.", Normalize("  hello there "))
	assert.Equal(t, "Really?", Normalize("really?"))
	assert.Equal(t, "Wait.", Normalize("wait,"))
	assert.Equal(t, "", Normalize("   "))
}

func TestFinish_GatesClosedByTraits(t *testing.T) {
	v := personality.DefaultVector()
	v.Set(personality.Nostalgia, 0.3)
	v.Set(personality.Wisdom, 0.5)
	got := NewFinisher(fixedRand{f: 0}).Finish("hello", v, 0.1)
	assert.Equal(t, "Hello.", got.Text)
	assert.Empty(t, got.Embellishments)
}

func TestFinish_AllGatesOpen(t *testing.T) {
	v := personality.DefaultVector()
	v.Set(personality.Nostalgia, 0.9)
	v.Set(personality.Wisdom, 0.9)
	got := NewFinisher(fixedRand{f: 0, i: 0}).Finish("hello there", v, 0.8)
	assert.Equal(t, []string{"nostalgic_suffix", "wisdom_suffix", "reflective_preface"}, got.Embellishments)
	assert.Equal(t,
		"Thinking about all we've talked about, hello there. It reminds me of simpler times. In my experience, patience usually finds the answer.",
		got.Text)
}

func TestFinish_DrawsAboveChanceSkip(t *testing.T) {
	v := personality.DefaultVector()
	v.Set(personality.Nostalgia, 0.9)
	v.Set(personality.Wisdom, 0.9)
	got := NewFinisher(fixedRand{f: 0.5}).Finish("hello", v, 0.9)
	assert.Equal(t, "Hello.", got.Text)
	assert.True(t, strings.HasSuffix(got.Text, "."))
}
