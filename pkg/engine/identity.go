package engine

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

const conversationIDVersion = "cv1"

// DefaultMaxMessageChars is the longest accepted message.
const DefaultMaxMessageChars = 1000

// Request is one inbound chat message.
type Request struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
	ChatID  string `json:"chatId"`
	Action  string `json:"action,omitempty"`
}

// Validate checks the request against maxChars without touching any state.
func (r Request) Validate(maxChars int) error {
	if maxChars <= 0 {
		maxChars = DefaultMaxMessageChars
	}
	if strings.TrimSpace(r.Message) == "" {
		return &ValidationError{Reason: "message is required"}
	}
	if n := utf8.RuneCountInString(r.Message); n > maxChars {
		return &ValidationError{Reason: fmt.Sprintf("message is %d characters, limit is %d", n, maxChars)}
	}
	if strings.TrimSpace(r.UserID) == "" {
		return &ValidationError{Reason: "userId is required"}
	}
	if strings.TrimSpace(r.ChatID) == "" {
		return &ValidationError{Reason: "chatId is required"}
	}
	return nil
}

// Canonical is the normalized identity payload hashed into a conversation id.
func Canonical(userID, chatID string) string {
	return strings.ToLower(strings.TrimSpace(userID)) + "|" + strings.TrimSpace(chatID)
}

// ConversationID derives the stable conversation id owning all state for a
// user and chat pair.
func ConversationID(userID, chatID string) string {
	sum := sha1.Sum([]byte(Canonical(userID, chatID)))
	return conversationIDVersion + ":" + hex.EncodeToString(sum[:16])
}

func IsConversationID(id string) bool {
	rest, ok := strings.CutPrefix(strings.TrimSpace(id), conversationIDVersion+":")
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}
