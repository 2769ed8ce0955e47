package generation

import (
	"math"
	"strings"

	"github.com/dotsetgreg/dotpersona/pkg/analysis"
)

type responseTemplate struct {
	id         string
	pattern    string
	topics     []string
	sentiments []string
	emotions   []string
	complexity float64
	base       float64
}

// generic reports whether the template declares nothing and only serves as
// padding.
func (t responseTemplate) generic() bool {
	return len(t.topics) == 0 && len(t.sentiments) == 0 && len(t.emotions) == 0
}

var responseTemplates = []responseTemplate{
	{id: "general-welcome", topics: []string{"general"}, complexity: 0.3, base: 0.6,
		pattern: "It's always a pleasure to chat. What's been on your mind about {userFocus}?"},
	{id: "family-warmth", topics: []string{"family"}, sentiments: []string{"positive"}, emotions: []string{"love", "joy"}, complexity: 0.5, base: 0.62,
		pattern: "There's nothing quite like {topic}; the way you speak of {userFocus} warms my heart."},
	{id: "family-stories", topics: []string{"family"}, complexity: 0.4, base: 0.6,
		pattern: "Every family carries its own stories. What is {userFocus} like?"},
	{id: "technology-curious", topics: []string{"technology"}, complexity: 0.6, base: 0.7,
		pattern: "I spent years around machines, and {userFocus} still makes me curious. What draws you to it?"},
	{id: "philosophy-ponder", topics: []string{"philosophy"}, complexity: 0.7, base: 0.72,
		pattern: "Questions about {userFocus} have kept me up many nights. What do you believe?"},
	{id: "memory-backthen", topics: []string{"memory", "history"}, complexity: 0.5, base: 0.7,
		pattern: "Talking about {topic} takes me back. Do you often think about {userFocus}?"},
	{id: "nature-calm", topics: []string{"nature"}, complexity: 0.4, base: 0.65,
		pattern: "There's a quiet wisdom in {topic}. I find {userFocus} soothing."},
	{id: "music-companion", topics: []string{"music"}, complexity: 0.4, base: 0.65,
		pattern: "Music has been a companion all my life, and {userFocus} sounds lovely."},
	{id: "food-table", topics: []string{"food"}, complexity: 0.4, base: 0.65,
		pattern: "Some of my happiest hours were spent around a table. What do you like about {userFocus}?"},
	{id: "travel-road", topics: []string{"travel"}, complexity: 0.4, base: 0.65,
		pattern: "I love hearing about journeys. Where did {userFocus} take you?"},
	{id: "work-craft", topics: []string{"work"}, complexity: 0.5, base: 0.65,
		pattern: "Work shapes us in ways we only see later. How do you feel about {userFocus}?"},
	{id: "health-care", topics: []string{"health"}, complexity: 0.4, base: 0.7,
		pattern: "Please take good care of yourself. How are you holding up with {userFocus}?"},
	{id: "comfort", sentiments: []string{"negative"}, emotions: []string{"sadness", "regret", "fear", "anger"}, complexity: 0.5, base: 0.78,
		pattern: "I can hear some {emotion} in your words. I'm here, and we can talk about {userFocus} as long as you need."},
	{id: "share-joy", sentiments: []string{"positive"}, emotions: []string{"joy", "gratitude", "pride", "hope"}, complexity: 0.4, base: 0.66,
		pattern: "Your {emotion} is contagious! Tell me more about {userFocus}."},

	{id: "generic-curious", complexity: 0.4, base: 0.55,
		pattern: "That's interesting. What makes {userFocus} important to you?"},
	{id: "generic-reflect", complexity: 0.4, base: 0.5,
		pattern: "I've been thinking about what you said about {topic}."},
	{id: "generic-listen", complexity: 0.3, base: 0.5,
		pattern: "I'm listening. Go on and tell me more about {userFocus}."},
}

const minTemplateCandidates = 3

func (t responseTemplate) matches(a analysis.Analysis) bool {
	for _, topic := range t.topics {
		if a.HasTopic(topic) {
			return true
		}
	}
	if contains(t.sentiments, a.Sentiment.Label) {
		return true
	}
	return contains(t.emotions, a.Emotion.Primary)
}

// fitness rewards sentiment match, declared-vs-actual complexity closeness and
// topic overlap.
func (t responseTemplate) fitness(a analysis.Analysis) float64 {
	sentiment := 0.6
	if len(t.sentiments) > 0 {
		sentiment = 0.3
		if contains(t.sentiments, a.Sentiment.Label) {
			sentiment = 1
		}
	}
	closeness := 1 - math.Abs(t.complexity-a.Complexity)
	topic := 0.5
	if len(t.topics) > 0 && len(a.Topics) > 0 {
		hits := 0
		for _, tp := range a.Topics {
			if contains(t.topics, tp) {
				hits++
			}
		}
		topic = float64(hits) / float64(len(a.Topics))
	}
	return clamp01(0.4*sentiment + 0.3*closeness + 0.3*topic)
}

func (g *Generator) fromTemplates(in Input) []Candidate {
	a := in.Analysis
	selected := []responseTemplate{}
	for _, t := range responseTemplates {
		if !t.generic() && t.matches(a) {
			selected = append(selected, t)
		}
	}
	for _, t := range responseTemplates {
		if len(selected) >= minTemplateCandidates {
			break
		}
		if t.generic() {
			selected = append(selected, t)
		}
	}

	focus := focusWord(in.Message)
	if focus == "" {
		focus = a.PrimaryTopic()
	}
	r := strings.NewReplacer(
		"{topic}", a.PrimaryTopic(),
		"{sentiment}", a.Sentiment.Label,
		"{emotion}", emotionWord(a.Emotion.Primary),
		"{userFocus}", focus,
	)

	out := make([]Candidate, 0, len(selected))
	for _, t := range selected {
		out = append(out, Candidate{
			Text:       r.Replace(t.pattern),
			Confidence: t.base * t.fitness(a),
			Source:     SourceTemplate,
			Provenance: []string{"template:" + t.id},
		})
	}
	return out
}

func emotionWord(primary string) string {
	if primary == "" || primary == analysis.EmotionNeutral {
		return "good spirits"
	}
	return primary
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
