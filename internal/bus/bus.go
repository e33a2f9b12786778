package bus

import (
	"context"
	"log"
	"sync"
)

// OutboundHandler delivers an outbound message through one transmission
// identity.
type OutboundHandler func(msg OutboundMessage)

// MessageBus connects channels to the ingestion side and fans outbound
// responses back to the channel that owns the selected persona identity.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu       sync.RWMutex
	handlers map[string][]OutboundHandler // channel name -> handlers
}

// SubscribeAllChannels is the wildcard key for handlers that want to see
// every outbound message regardless of destination, such as a local
// console mirror.
const SubscribeAllChannels = "*"

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
		handlers: make(map[string][]OutboundHandler),
	}
}

// SubscribeOutbound registers a handler for outbound messages addressed
// to the named channel, or to every channel when given
// SubscribeAllChannels.
func (b *MessageBus) SubscribeOutbound(channel string, fn OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], fn)
}

// DispatchOutbound pumps the outbound queue into subscribed handlers until
// the context is cancelled. Messages nobody subscribed to are dropped
// with a log line.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			owners := b.handlers[msg.Channel]
			mirrors := b.handlers[SubscribeAllChannels]
			b.mu.RUnlock()
			if len(owners) == 0 && len(mirrors) == 0 {
				log.Printf("[bus] no outbound handler for channel %q, dropping message from %s", msg.Channel, msg.Persona)
			}
			for _, fn := range owners {
				fn(msg)
			}
			for _, fn := range mirrors {
				fn(msg)
			}
		case <-ctx.Done():
			return
		}
	}
}
