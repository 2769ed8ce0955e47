package bus

// InboundMessage is a user message arriving from a chat channel.
type InboundMessage struct {
	Channel  string
	SenderID string
	ChatID   string
	Content  string
	// ConversationID is filled by the dispatcher once the turn ran.
	ConversationID string
	Metadata       map[string]string
}

// OutboundMessage is a persona reply addressed to a channel chat.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	// ReplyTo is the platform id of the message being answered, when known.
	ReplyTo string
}

// MessageHandler handles an inbound message for a specific channel.
type MessageHandler func(InboundMessage) error
