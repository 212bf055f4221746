// Package bus decouples bot sessions from the conversation engine: sessions
// publish decoded events inbound and deliver messages subscribed outbound.
package bus

import (
	"context"
	"sync"
	"time"

	"pixfunnel/pkg/logger"
)

const queueWriteTimeout = 2 * time.Second

type MessageBus struct {
	inbound   chan InboundEvent
	outbound  chan OutboundMessage
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundEvent, 100),
		outbound: make(chan OutboundMessage, 100),
	}
}

// PublishInbound enqueues a decoded event. Drops with a log entry if the
// queue stays full past the write timeout; sessions must never block on a
// slow engine.
func (mb *MessageBus) PublishInbound(ev InboundEvent) {
	mb.mu.RLock()
	if mb.closed {
		mb.mu.RUnlock()
		return
	}
	ch := mb.inbound
	mb.mu.RUnlock()

	defer func() {
		if recover() != nil {
			logger.WarnCF("bus", "PublishInbound on closed channel recovered", map[string]interface{}{
				logger.FieldBotID:  ev.BotID,
				logger.FieldChatID: ev.ChatID,
			})
		}
	}()

	select {
	case ch <- ev:
	case <-time.After(queueWriteTimeout):
		logger.ErrorCF("bus", "PublishInbound timeout (queue full)", map[string]interface{}{
			logger.FieldBotID:  ev.BotID,
			logger.FieldChatID: ev.ChatID,
		})
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundEvent, bool) {
	select {
	case ev, ok := <-mb.inbound:
		return ev, ok
	case <-ctx.Done():
		return InboundEvent{}, false
	}
}

func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	if mb.closed {
		mb.mu.RUnlock()
		return
	}
	ch := mb.outbound
	mb.mu.RUnlock()

	defer func() {
		if recover() != nil {
			logger.WarnCF("bus", "PublishOutbound on closed channel recovered", map[string]interface{}{
				logger.FieldBotID:  msg.BotID,
				logger.FieldChatID: msg.ChatID,
			})
		}
	}()

	select {
	case ch <- msg:
	case <-time.After(queueWriteTimeout):
		logger.ErrorCF("bus", "PublishOutbound timeout (queue full)", map[string]interface{}{
			logger.FieldBotID:  msg.BotID,
			logger.FieldChatID: msg.ChatID,
		})
	}
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		return msg, ok
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		mb.closed = true
		close(mb.inbound)
		close(mb.outbound)
		mb.mu.Unlock()
	})
}
