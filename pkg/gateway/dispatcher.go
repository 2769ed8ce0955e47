package gateway

import (
	"context"

	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/engine"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
)

// Dispatcher feeds inbound channel messages through the engine and publishes
// the persona's replies.
type Dispatcher struct {
	bus  *bus.MessageBus
	chat Chatter
}

func NewDispatcher(messageBus *bus.MessageBus, chat Chatter) *Dispatcher {
	return &Dispatcher{bus: messageBus, chat: chat}
}

// Run consumes until ctx is done or the bus closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		msg, ok := d.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		d.handle(ctx, msg)
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg bus.InboundMessage) {
	if hook, ok := d.bus.GetHandler(msg.Channel); ok {
		if err := hook(msg); err != nil {
			logger.WarnCF("gateway", "Inbound message rejected by channel hook", map[string]any{
				"channel": msg.Channel,
				"error":   err.Error(),
			})
			return
		}
	}

	reply, err := d.chat.Chat(ctx, engine.Request{
		Message: msg.Content,
		UserID:  msg.SenderID,
		ChatID:  msg.ChatID,
	})
	content := reply.Response
	if err != nil {
		content = ReplyFor(err)
		if !engine.IsValidation(err) {
			logger.ErrorCF("gateway", "Channel turn failed", map[string]any{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
	if content == "" {
		return
	}

	ok := d.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		ReplyTo: msg.Metadata["message_id"],
	})
	if !ok {
		logger.WarnCF("gateway", "Reply dropped, outbound queue full or closed", map[string]any{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
		})
	}
}
