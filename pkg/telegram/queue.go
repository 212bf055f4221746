package telegram

import (
	"context"
	"sync"

	"pixfunnel/pkg/bus"
	"pixfunnel/pkg/logger"
	"pixfunnel/pkg/store"
)

type sendFunc func(ctx context.Context, msg bus.OutboundMessage) error

type queuedSend struct {
	send sendFunc
	msg  bus.OutboundMessage
}

// outboundQueues serializes sends per chat so messages leave in the order
// the engine published them, while distinct chats still fan out
// concurrently. The semaphore bounds total in-flight sends.
type outboundQueues struct {
	sem chan struct{}

	mu      sync.Mutex
	pending map[store.ChatKey][]queuedSend
	busy    map[store.ChatKey]bool
}

func newOutboundQueues(maxConcurrent int) *outboundQueues {
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}
	return &outboundQueues{
		sem:     make(chan struct{}, maxConcurrent),
		pending: make(map[store.ChatKey][]queuedSend),
		busy:    make(map[store.ChatKey]bool),
	}
}

// enqueue appends the message to its chat's queue and starts a drainer for
// that chat if none is running. Callers on the same goroutine therefore get
// strict per-chat ordering.
func (q *outboundQueues) enqueue(ctx context.Context, send sendFunc, msg bus.OutboundMessage) {
	key := store.ChatKey{BotID: msg.BotID, ChatID: msg.ChatID}

	q.mu.Lock()
	q.pending[key] = append(q.pending[key], queuedSend{send: send, msg: msg})
	if q.busy[key] {
		q.mu.Unlock()
		return
	}
	q.busy[key] = true
	q.mu.Unlock()

	go q.drain(ctx, key)
}

func (q *outboundQueues) drain(ctx context.Context, key store.ChatKey) {
	for {
		q.mu.Lock()
		queue := q.pending[key]
		if len(queue) == 0 {
			delete(q.pending, key)
			delete(q.busy, key)
			q.mu.Unlock()
			return
		}
		next := queue[0]
		q.pending[key] = queue[1:]
		q.mu.Unlock()

		select {
		case q.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		err := next.send(ctx, next.msg)
		<-q.sem

		if err != nil {
			logger.ErrorCF("telegram", "Error sending message", map[string]interface{}{
				logger.FieldBotID:  next.msg.BotID,
				logger.FieldChatID: next.msg.ChatID,
				logger.FieldError:  err.Error(),
			})
		}
	}
}
