package generation

import (
	"math"
	"strings"

	"github.com/dotsetgreg/dotpersona/pkg/analysis"
	"github.com/dotsetgreg/dotpersona/pkg/memory"
	"github.com/dotsetgreg/dotpersona/pkg/personality"
)

// SelectorWeights are the coefficients of the candidate score.
type SelectorWeights struct {
	Confidence       float64 `json:"confidence"`
	Relevance        float64 `json:"relevance"`
	Novelty          float64 `json:"novelty"`
	Coherence        float64 `json:"coherence"`
	PersonalityMatch float64 `json:"personality_match"`
	SentimentFit     float64 `json:"sentiment_fit"`
}

func DefaultSelectorWeights() SelectorWeights {
	return SelectorWeights{
		Confidence:       0.30,
		Relevance:        0.25,
		Novelty:          0.15,
		Coherence:        0.15,
		PersonalityMatch: 0.10,
		SentimentFit:     0.05,
	}
}

const FallbackText = "I seem to have lost my train of thought for a moment. Could you tell me a little more?"

// FallbackCandidate is returned when no strategy produced anything.
func FallbackCandidate() Candidate {
	return Candidate{
		Text:           FallbackText,
		Confidence:     0.3,
		Source:         SourceFallback,
		CoherenceScore: 0.5,
		Provenance:     []string{},
	}
}

// Selection is the winning candidate and its composite score.
type Selection struct {
	Candidate Candidate
	Score     float64
}

type Selector struct {
	weights SelectorWeights
}

func NewSelector(w SelectorWeights) *Selector {
	if w == (SelectorWeights{}) {
		w = DefaultSelectorWeights()
	}
	return &Selector{weights: w}
}

// Select returns the highest scoring candidate. Only a strictly greater score
// displaces an earlier candidate.
func (s *Selector) Select(pool []Candidate, a analysis.Analysis, st memory.ConversationState) Selection {
	if len(pool) == 0 {
		fb := FallbackCandidate()
		return Selection{Candidate: fb, Score: fb.Confidence}
	}
	recent := st.RecentAgentMessages(3)
	best := Selection{Score: math.Inf(-1)}
	for _, c := range pool {
		score := s.Score(c, a, st.Personality, recent)
		if score > best.Score {
			best = Selection{Candidate: c, Score: score}
		}
	}
	return best
}

// Score computes the weighted composite of a single candidate.
func (s *Selector) Score(c Candidate, a analysis.Analysis, v personality.Vector, recent []memory.Message) float64 {
	w := s.weights
	return c.Confidence*w.Confidence +
		Relevance(c.Text, a)*w.Relevance +
		Novelty(c.Text, recent)*w.Novelty +
		c.CoherenceScore*w.Coherence +
		PersonalityMatch(c.Text, v)*w.PersonalityMatch +
		SentimentFit(c.Text, a)*w.SentimentFit
}

func Relevance(text string, a analysis.Analysis) float64 {
	rel := 0.5
	if intersects(analysis.ExtractTopics(text), a.Topics) {
		rel += 0.3
	}
	if a.ContainsQuestion && strings.Contains(text, "?") {
		rel += 0.2
	}
	return math.Min(1, rel)
}

// Novelty is 1 minus the highest token overlap with the recent agent replies,
// floored at 0.1.
func Novelty(text string, recent []memory.Message) float64 {
	maxSim := 0.0
	for _, m := range recent {
		if sim := analysis.TokenJaccard(text, m.Content); sim > maxSim {
			maxSim = sim
		}
	}
	return math.Max(0.1, 1-maxSim)
}

var (
	nostalgicVocabulary     = []string{"remember", "used to", "back then", "years ago", "those days", "takes me back"}
	technicalVocabulary     = []string{"machine", "computer", "radio", "engineer", "circuit", "software", "transistor", "system"}
	philosophicalVocabulary = []string{"meaning", "truth", "wisdom", "purpose", "believe", "soul"}
)

// PersonalityMatch adds 0.2 per trait whose vocabulary shows up in text while
// the trait is above its threshold.
func PersonalityMatch(text string, v personality.Vector) float64 {
	lowered := strings.ToLower(text)
	score := 0.5
	if v.Nostalgia > 0.7 && containsAny(lowered, nostalgicVocabulary) {
		score += 0.2
	}
	if v.TechnologyBias > 0.7 && containsAny(lowered, technicalVocabulary) {
		score += 0.2
	}
	if v.PhilosophyBias > 0.6 && containsAny(lowered, philosophicalVocabulary) {
		score += 0.2
	}
	return math.Min(1, score)
}

func SentimentFit(text string, a analysis.Analysis) float64 {
	label := analysis.SentimentOf(text).Label
	switch {
	case label == a.Sentiment.Label:
		return 0.8
	case label == analysis.SentimentNeutral:
		return 0.5
	default:
		return 0.3
	}
}

func containsAny(lowered string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}
