package generation

import "strings"

type slot string

const (
	slotIntro      slot = "intro"
	slotMemory     slot = "memory"
	slotReflection slot = "reflection"
	slotConnection slot = "connection"
	slotQuestion   slot = "question"
)

type grammarRule struct {
	id     string
	topics []string
	slots  []slot
	base   float64
}

var grammarRules = []grammarRule{
	{"reminisce", []string{"family", "memory", "history"}, []slot{slotIntro, slotMemory, slotReflection}, 0.75},
	{"tinker", []string{"technology", "work"}, []slot{slotIntro, slotReflection, slotConnection}, 0.7},
	{"wonder", []string{"philosophy", "nature", "general"}, []slot{slotIntro, slotReflection, slotQuestion}, 0.7},
	{"share", []string{"family", "food", "music", "travel"}, []slot{slotIntro, slotMemory, slotConnection}, 0.72},
	{"care", []string{"health"}, []slot{slotIntro, slotReflection, slotQuestion}, 0.68},
}

var slotFillers = map[slot][]string{
	slotIntro: {"You know,", "Let me tell you,", "Funny you should mention it,", "Well,"},
	slotMemory: {
		"I used to spend whole evenings fixing old radios",
		"my father played his jazz records every Saturday",
		"we kept a vegetable garden behind the house",
	},
	slotReflection: {
		"the things we love tend to stay with us",
		"time has a way of showing what really matters",
		"every question is a small door to something bigger",
		"it is the small moments that add up to a life",
	},
	slotConnection: {
		"and that is why {topic} still means so much to me",
		"and I think {topic} connects all of us",
		"and {topic} keeps coming back into my thoughts",
	},
	slotQuestion: {
		"What do you make of {topic}?",
		"How does {topic} feel to you these days?",
		"What would you add about {topic}?",
	},
}

const grammarInstances = 2

func (g *Generator) fromGrammar(in Input) []Candidate {
	a := in.Analysis
	topicR := strings.NewReplacer("{topic}", a.PrimaryTopic())
	out := []Candidate{}
	for _, rule := range grammarRules {
		if !intersects(rule.topics, a.Topics) {
			continue
		}
		for n := 0; n < grammarInstances; n++ {
			provenance := []string{"grammar:" + rule.id}
			parts := make([]string, 0, len(rule.slots))
			var question string
			for _, s := range rule.slots {
				var text string
				if s == slotMemory && len(in.Memories) > 0 {
					top := in.Memories
					if len(top) > 3 {
						top = top[:3]
					}
					m := top[g.rand.IntN(len(top))]
					text = m.Content
					provenance = append(provenance, m.ID)
				} else {
					text = topicR.Replace(pick(g.rand, slotFillers[s]))
				}
				if s == slotQuestion {
					question = text
					continue
				}
				parts = append(parts, text)
			}
			out = append(out, Candidate{
				Text:       assemble(parts, question),
				Confidence: rule.base * 0.9,
				Source:     SourceGrammar,
				Provenance: provenance,
			})
		}
	}
	return out
}

// assemble joins the intro to the body with a space, the remaining clauses
// with commas, and appends the question as its own sentence.
func assemble(parts []string, question string) string {
	var b strings.Builder
	for i, p := range parts {
		switch {
		case i == 0:
			b.WriteString(p)
		case i == 1:
			b.WriteString(" " + p)
		default:
			b.WriteString(", " + p)
		}
	}
	if question != "" {
		b.WriteString(". " + question)
	}
	return b.String()
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}
