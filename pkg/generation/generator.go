// Package generation turns an analysed message into scored reply candidates,
// picks one, and finishes it in the persona's voice.
package generation

import (
	"strings"
	"unicode"

	"github.com/dotsetgreg/dotpersona/pkg/analysis"
	"github.com/dotsetgreg/dotpersona/pkg/memory"
)

type Source string

const (
	SourceTemplate  Source = "template"
	SourceMemory    Source = "memory"
	SourceGrammar   Source = "grammar"
	SourceKnowledge Source = "knowledge"
	SourceFallback  Source = "fallback"
)

// Candidate is one generated reply proposal.
type Candidate struct {
	Text           string   `json:"text"`
	Confidence     float64  `json:"confidence"`
	Source         Source   `json:"source"`
	Complexity     float64  `json:"complexity"`
	CoherenceScore float64  `json:"coherence_score"`
	Provenance     []string `json:"provenance"`
}

// Rand is the random source for phrasing choices. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Input is everything a generation strategy may read.
type Input struct {
	Message  string
	Analysis analysis.Analysis
	// State is the conversation before the current message was remembered.
	State    memory.ConversationState
	Memories []memory.RankedFragment
}

// Generator runs every strategy and pools their candidates in a fixed order:
// templates, memory transforms, grammar fills, knowledge lookups.
type Generator struct {
	rand Rand
}

func NewGenerator(r Rand) *Generator {
	return &Generator{rand: r}
}

func (g *Generator) Generate(in Input) []Candidate {
	pool := []Candidate{}
	pool = append(pool, g.fromTemplates(in)...)
	pool = append(pool, g.fromMemories(in)...)
	pool = append(pool, g.fromGrammar(in)...)
	pool = append(pool, g.fromKnowledge(in)...)

	prev, hasPrev := in.State.LastUserMessage()
	for i := range pool {
		pool[i].Confidence = clamp01(pool[i].Confidence)
		pool[i].Complexity = analysis.Analyze(pool[i].Text).Complexity
		if hasPrev {
			pool[i].CoherenceScore = analysis.TopicJaccard(pool[i].Text, prev.Content)
		} else {
			pool[i].CoherenceScore = 0.5
		}
	}
	return pool
}

var memoryIntros = map[memory.FragmentType]string{
	memory.FragmentFact:           "I recall that ",
	memory.FragmentEmotionalState: "It still moves me that ",
	memory.FragmentPreference:     "You know, ",
	memory.FragmentConcept:        "I've often thought that ",
}

var memoryConnectors = []string{
	", which always brings me back to ",
	", and that says something about ",
	", and it ties right into ",
}

func (g *Generator) fromMemories(in Input) []Candidate {
	out := []Candidate{}
	topic := in.Analysis.PrimaryTopic()
	for i, m := range in.Memories {
		if i == 3 {
			break
		}
		intro, ok := memoryIntros[m.Type]
		if !ok {
			intro = "I recall that "
		}
		text := intro + m.Content + pick(g.rand, memoryConnectors) + topic
		out = append(out, Candidate{
			Text:       text,
			Confidence: m.Weight * 0.8,
			Source:     SourceMemory,
			Provenance: []string{m.ID},
		})
	}
	return out
}

func (g *Generator) fromKnowledge(in Input) []Candidate {
	out := []Candidate{}
	for _, topic := range in.Analysis.Topics {
		for i, item := range knowledgeBase[topic] {
			out = append(out, Candidate{
				Text:       pick(g.rand, knowledgeIntros) + item,
				Confidence: 0.7,
				Source:     SourceKnowledge,
				Provenance: []string{KnowledgeID(topic, i)},
			})
		}
	}
	return out
}

func pick(r Rand, options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[r.IntN(len(options))]
}

// focusWord returns the longest content word of message in its original
// casing, or "" when there is none.
func focusWord(message string) string {
	words := strings.FieldsFunc(message, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'')
	})
	best := ""
	for _, w := range words {
		w = strings.Trim(w, "'")
		if len([]rune(w)) < 3 || analysis.IsStopword(strings.ToLower(w)) {
			continue
		}
		if len([]rune(w)) > len([]rune(best)) {
			best = w
		}
	}
	return best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
