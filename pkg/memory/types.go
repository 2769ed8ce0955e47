package memory

import (
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/analysis"
	"github.com/dotsetgreg/dotpersona/pkg/personality"
)

const (
	// ShortTermCapacity bounds ConversationState.ShortTermMemory.
	ShortTermCapacity = 20
	// TrajectoryCapacity bounds ConversationState.EmotionalTrajectory.
	TrajectoryCapacity = 10
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one persisted conversation line.
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	CreatedAt      time.Time
	Analysis       *analysis.Analysis
}

// FragmentType classifies long-term memory fragments.
type FragmentType string

const (
	FragmentFact           FragmentType = "fact"
	FragmentEmotionalState FragmentType = "emotional_state"
	FragmentPreference     FragmentType = "preference"
	FragmentConcept        FragmentType = "concept"
)

func (t FragmentType) Valid() bool {
	switch t {
	case FragmentFact, FragmentEmotionalState, FragmentPreference, FragmentConcept:
		return true
	}
	return false
}

// Fragment is a weighted, tagged unit of background knowledge attached to a
// conversation.
type Fragment struct {
	ID             string
	ConversationID string
	Type           FragmentType
	Content        string
	Weight         float64
	AccessedCount  int
	LastAccessedAt time.Time
	CreatedAt      time.Time
	Tags           []string
}

func (f Fragment) HasTag(tag string) bool {
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ConversationState is the per-conversation aggregate carried between turns.
type ConversationState struct {
	ConversationID      string
	UserID              string
	ChatID              string
	Personality         personality.Vector
	ShortTermMemory     []Message
	EmotionalTrajectory []string
	InteractionCount    int
	ConversationalDepth float64
	LastInteraction     time.Time
	CreatedAt           time.Time
	// Version is the optimistic concurrency token; zero means never persisted.
	Version int64
}

// NewConversationState returns a fresh state owned by conversationID.
func NewConversationState(conversationID, userID, chatID string, vec personality.Vector, now time.Time) ConversationState {
	return ConversationState{
		ConversationID:      conversationID,
		UserID:              userID,
		ChatID:              chatID,
		Personality:         vec,
		ShortTermMemory:     []Message{},
		EmotionalTrajectory: []string{},
		CreatedAt:           now,
		LastInteraction:     now,
	}
}

// Clone returns a copy that shares no slices with s.
func (s ConversationState) Clone() ConversationState {
	out := s
	out.ShortTermMemory = append([]Message(nil), s.ShortTermMemory...)
	out.EmotionalTrajectory = append([]string(nil), s.EmotionalTrajectory...)
	return out
}

// Remember appends m and evicts the oldest messages beyond ShortTermCapacity.
func (s *ConversationState) Remember(m Message) {
	s.ShortTermMemory = append(s.ShortTermMemory, m)
	if over := len(s.ShortTermMemory) - ShortTermCapacity; over > 0 {
		s.ShortTermMemory = append([]Message(nil), s.ShortTermMemory[over:]...)
	}
}

// RecordEmotion appends state to the trajectory, evicting the oldest beyond
// TrajectoryCapacity.
func (s *ConversationState) RecordEmotion(state string) {
	s.EmotionalTrajectory = append(s.EmotionalTrajectory, state)
	if over := len(s.EmotionalTrajectory) - TrajectoryCapacity; over > 0 {
		s.EmotionalTrajectory = append([]string(nil), s.EmotionalTrajectory[over:]...)
	}
}

func (s *ConversationState) SetDepth(d float64) {
	switch {
	case d < 0:
		d = 0
	case d > 1:
		d = 1
	}
	s.ConversationalDepth = d
}

// Normalize repairs out-of-range fields loaded from storage.
func (s *ConversationState) Normalize() {
	s.Personality.Clamp()
	s.SetDepth(s.ConversationalDepth)
	if s.InteractionCount < 0 {
		s.InteractionCount = 0
	}
	if s.ShortTermMemory == nil {
		s.ShortTermMemory = []Message{}
	}
	if s.EmotionalTrajectory == nil {
		s.EmotionalTrajectory = []string{}
	}
	if over := len(s.ShortTermMemory) - ShortTermCapacity; over > 0 {
		s.ShortTermMemory = s.ShortTermMemory[over:]
	}
	if over := len(s.EmotionalTrajectory) - TrajectoryCapacity; over > 0 {
		s.EmotionalTrajectory = s.EmotionalTrajectory[over:]
	}
}

// LastUserMessage returns the newest user message in the short-term window.
func (s ConversationState) LastUserMessage() (Message, bool) {
	for i := len(s.ShortTermMemory) - 1; i >= 0; i-- {
		if s.ShortTermMemory[i].Role == RoleUser {
			return s.ShortTermMemory[i], true
		}
	}
	return Message{}, false
}

// RecentAgentMessages returns up to n agent messages, newest last.
func (s ConversationState) RecentAgentMessages(n int) []Message {
	out := []Message{}
	for i := len(s.ShortTermMemory) - 1; i >= 0 && len(out) < n; i-- {
		if s.ShortTermMemory[i].Role == RoleAgent {
			out = append(out, s.ShortTermMemory[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ConversationSummary is the listing view of a stored conversation.
type ConversationSummary struct {
	ConversationID   string
	UserID           string
	ChatID           string
	InteractionCount int
	MessageCount     int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FragmentQuery selects fragments of one conversation. Tags and ContentAny
// are OR-ed together; Types narrows the result further.
type FragmentQuery struct {
	ConversationID string
	AnyTags        []string
	ContentAny     []string
	Types          []FragmentType
	// OrderByRecent sorts by last access instead of weight.
	OrderByRecent bool
	Limit         int
}
