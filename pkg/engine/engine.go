package engine

import (
	"context"
	"strings"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/analysis"
	"github.com/dotsetgreg/dotpersona/pkg/generation"
	"github.com/dotsetgreg/dotpersona/pkg/memory"
	"github.com/dotsetgreg/dotpersona/pkg/personality"
	"github.com/google/uuid"
)

const (
	// IdleDecayAfter is the silence after which conversational depth decays.
	IdleDecayAfter  = 24 * time.Hour
	IdleDecayFactor = 0.8

	depthPerComplexity = 0.05
	depthPerTurn       = 0.01
)

// Response types reported in Metadata.ResponseType.
const (
	ResponseQuestion     = "question"
	ResponseConversation = "conversational"
	ResponseReminiscence = "reminiscence"
	ResponseReflection   = "reflection"
	ResponseInformative  = "informative"
	ResponseFallback     = "fallback"
)

// Recaller supplies ranked memory fragments for a turn. *memory.Ranker is the
// store-backed implementation; Snapshot serves a fixed set.
type Recaller interface {
	Retrieve(ctx context.Context, conversationID string, a analysis.Analysis, depth float64) []memory.RankedFragment
}

// Snapshot is a Recaller over an already retrieved fragment set.
type Snapshot []memory.RankedFragment

func (s Snapshot) Retrieve(context.Context, string, analysis.Analysis, float64) []memory.RankedFragment {
	return append([]memory.RankedFragment(nil), s...)
}

// Metadata accompanies every reply.
type Metadata struct {
	ConversationID       string             `json:"conversationId"`
	Topic                string             `json:"topic"`
	Sentiment            string             `json:"sentiment"`
	EmotionalState       string             `json:"emotionalState"`
	ContinuityScore      float64            `json:"continuityScore"`
	ResponseType         string             `json:"responseType"`
	Timestamp            time.Time          `json:"timestamp"`
	MemoryReferences     int                `json:"memoryReferences"`
	ConversationDepth    float64            `json:"conversationDepth"`
	InterestLevel        float64            `json:"interestLevel"`
	PersonalityVector    map[string]float64 `json:"personalityVector"`
	GenerativeConfidence float64            `json:"generativeConfidence"`
	ResponseOrigin       string             `json:"responseOrigin"`
	KnowledgeSources     []string           `json:"knowledgeSources"`
}

// ErrorMetadata is the neutral metadata sent with a failed turn.
func ErrorMetadata(conversationID string, now time.Time) Metadata {
	return Metadata{
		ConversationID:    conversationID,
		Topic:             "error",
		Sentiment:         analysis.SentimentNeutral,
		EmotionalState:    string(personality.StatePatient),
		ResponseType:      ResponseFallback,
		Timestamp:         now,
		PersonalityVector: map[string]float64{},
		ResponseOrigin:    string(generation.SourceFallback),
		KnowledgeSources:  []string{},
	}
}

// TurnResult is everything a turn produced. State is the updated aggregate;
// the caller decides what to persist.
type TurnResult struct {
	Response       string
	Metadata       Metadata
	State          memory.ConversationState
	UserMessage    memory.Message
	AgentMessage   memory.Message
	Fragments      []memory.Fragment
	Recalled       []string
	Selection      generation.Selection
	Embellishments []string
}

type Options struct {
	Rand     Rand
	Selector generation.SelectorWeights
	Now      func() time.Time
}

// Engine runs the response pipeline over an in-memory ConversationState. It
// performs no persistence of its own.
type Engine struct {
	machine   *personality.Machine
	generator *generation.Generator
	selector  *generation.Selector
	finisher  *generation.Finisher
	now       func() time.Time
}

func NewEngine(opts Options) *Engine {
	if opts.Rand == nil {
		opts.Rand = NewRand(0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		machine:   personality.NewMachine(opts.Rand),
		generator: generation.NewGenerator(opts.Rand),
		selector:  generation.NewSelector(opts.Selector),
		finisher:  generation.NewFinisher(opts.Rand),
		now:       opts.Now,
	}
}

// Turn answers text against prev. prev is not modified.
func (e *Engine) Turn(ctx context.Context, text string, prev memory.ConversationState, recall Recaller) TurnResult {
	now := e.now()
	a := analysis.Analyze(text)

	st := prev.Clone()
	st.Normalize()
	if !st.LastInteraction.IsZero() && now.Sub(st.LastInteraction) > IdleDecayAfter {
		st.SetDepth(st.ConversationalDepth * IdleDecayFactor)
	}

	st.Personality = e.machine.Advance(st.Personality, a)
	st.RecordEmotion(string(st.Personality.CurrentEmotionalState))

	var memories []memory.RankedFragment
	if recall != nil {
		memories = recall.Retrieve(ctx, st.ConversationID, a, st.ConversationalDepth)
	}

	pool := e.generator.Generate(generation.Input{
		Message:  text,
		Analysis: a,
		State:    st,
		Memories: memories,
	})
	sel := e.selector.Select(pool, a, st)
	fin := e.finisher.Finish(sel.Candidate.Text, st.Personality, st.ConversationalDepth)

	st.InteractionCount++
	st.SetDepth(st.ConversationalDepth + depthPerComplexity*a.Complexity + depthPerTurn)
	st.LastInteraction = now

	userMsg := memory.Message{
		ID:             uuid.NewString(),
		ConversationID: st.ConversationID,
		Role:           memory.RoleUser,
		Content:        text,
		CreatedAt:      now,
		Analysis:       &a,
	}
	agentMsg := memory.Message{
		ID:             uuid.NewString(),
		ConversationID: st.ConversationID,
		Role:           memory.RoleAgent,
		Content:        fin.Text,
		CreatedAt:      now,
	}
	st.Remember(userMsg)
	st.Remember(agentMsg)

	provenance := append([]string{}, sel.Candidate.Provenance...)
	return TurnResult{
		Response: fin.Text,
		Metadata: Metadata{
			ConversationID:       st.ConversationID,
			Topic:                a.PrimaryTopic(),
			Sentiment:            a.Sentiment.Label,
			EmotionalState:       string(st.Personality.CurrentEmotionalState),
			ContinuityScore:      sel.Candidate.CoherenceScore,
			ResponseType:         responseType(sel.Candidate, fin.Text),
			Timestamp:            now,
			MemoryReferences:     len(memories),
			ConversationDepth:    st.ConversationalDepth,
			InterestLevel:        interestLevel(st.Personality, a),
			PersonalityVector:    st.Personality.Map(),
			GenerativeConfidence: sel.Candidate.Confidence,
			ResponseOrigin:       string(sel.Candidate.Source),
			KnowledgeSources:     provenance,
		},
		State:          st,
		UserMessage:    userMsg,
		AgentMessage:   agentMsg,
		Fragments:      memory.ExtractFragments(st.ConversationID, text, a, now),
		Recalled:       memory.IDs(memories),
		Selection:      sel,
		Embellishments: fin.Embellishments,
	}
}

func responseType(c generation.Candidate, text string) string {
	if c.Source == generation.SourceFallback {
		return ResponseFallback
	}
	if strings.HasSuffix(strings.TrimSpace(text), "?") {
		return ResponseQuestion
	}
	switch c.Source {
	case generation.SourceMemory:
		return ResponseReminiscence
	case generation.SourceGrammar:
		return ResponseReflection
	case generation.SourceKnowledge:
		return ResponseInformative
	}
	return ResponseConversation
}

// interestLevel blends the persona's curiosity and enthusiasm with how novel
// the message reads.
func interestLevel(v personality.Vector, a analysis.Analysis) float64 {
	score := 0.4*v.Curiosity + 0.3*v.Enthusiasm + 0.3*a.NoveltyScore
	if a.ContainsQuestion {
		score += 0.1
	}
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}
