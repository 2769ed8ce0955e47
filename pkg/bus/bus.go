package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Direction names a side of the bus in drop notifications.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// MessageBus carries chat traffic between channels and the turn dispatcher.
// Publishing never blocks longer than publishTimeout; overflow is counted and
// dropped.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	handlers map[string]MessageHandler
	closed   bool
	mu       sync.RWMutex

	droppedIn  atomic.Uint64
	droppedOut atomic.Uint64
	onDrop     func(Direction)
}

const publishTimeout = 100 * time.Millisecond

const defaultBufferSize = 100

func NewMessageBus() *MessageBus {
	return NewMessageBusSize(defaultBufferSize)
}

// NewMessageBusSize returns a bus whose inbound and outbound buffers hold size
// messages each.
func NewMessageBusSize(size int) *MessageBus {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, size),
		outbound: make(chan OutboundMessage, size),
		handlers: make(map[string]MessageHandler),
	}
}

// OnDrop registers fn to be called for every message dropped on overflow.
// It must not block.
func (mb *MessageBus) OnDrop(fn func(Direction)) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.onDrop = fn
}

// offer tries a non-blocking send, then waits up to publishTimeout.
func offer[T any](ch chan T, msg T) bool {
	select {
	case ch <- msg:
		return true
	default:
	}
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case ch <- msg:
		return true
	case <-timer.C:
		return false
	}
}

func (mb *MessageBus) dropped(dir Direction) {
	if dir == Inbound {
		mb.droppedIn.Add(1)
	} else {
		mb.droppedOut.Add(1)
	}
	if mb.onDrop != nil {
		mb.onDrop(dir)
	}
}

// PublishInbound queues msg for the dispatcher. It reports false when the bus
// is closed or the message was dropped.
func (mb *MessageBus) PublishInbound(msg InboundMessage) bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return false
	}
	if !offer(mb.inbound, msg) {
		mb.dropped(Inbound)
		return false
	}
	return true
}

// ConsumeInbound blocks for the next inbound message. ok is false once ctx
// is done or the bus is closed and drained.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (msg InboundMessage, ok bool) {
	select {
	case msg, ok = <-mb.inbound:
		return msg, ok
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound queues a reply for channel delivery and reports whether it
// was accepted.
func (mb *MessageBus) PublishOutbound(msg OutboundMessage) bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return false
	}
	if !offer(mb.outbound, msg) {
		mb.dropped(Outbound)
		return false
	}
	return true
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (msg OutboundMessage, ok bool) {
	select {
	case msg, ok = <-mb.outbound:
		return msg, ok
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// RegisterHandler installs a per-channel hook the dispatcher runs before a
// message reaches the engine.
func (mb *MessageBus) RegisterHandler(channel string, handler MessageHandler) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.handlers[channel] = handler
}

func (mb *MessageBus) GetHandler(channel string) (MessageHandler, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	handler, ok := mb.handlers[channel]
	return handler, ok
}

// Close stops accepting messages. Queued messages can still be consumed.
func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}

func (mb *MessageBus) DroppedInbound() uint64  { return mb.droppedIn.Load() }
func (mb *MessageBus) DroppedOutbound() uint64 { return mb.droppedOut.Load() }
