package memory

import (
	"context"
	"time"
)

// Store provides durable persistence for conversations, messages and fragments.
type Store interface {
	Close() error

	GetConversation(ctx context.Context, conversationID string) (ConversationState, error)
	CreateConversation(ctx context.Context, st ConversationState) (ConversationState, error)
	// UpdateConversationState persists st when the stored version equals
	// st.Version and returns the new version.
	UpdateConversationState(ctx context.Context, st ConversationState) (int64, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	ListConversations(ctx context.Context, userID string, limit int) ([]ConversationSummary, error)
	CountConversations(ctx context.Context) (int, error)

	AppendMessage(ctx context.Context, msg Message) error
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	QueryFragments(ctx context.Context, q FragmentQuery) ([]Fragment, error)
	InsertFragment(ctx context.Context, f Fragment) (Fragment, error)
	TouchFragments(ctx context.Context, ids []string, at time.Time) error

	Maintain(ctx context.Context) error
}
