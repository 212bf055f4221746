package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishConsumeInbound(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	mb.PublishInbound(InboundEvent{
		Type:     EventButtonPress,
		BotID:    "bot1",
		ChatID:   42,
		ButtonID: "b1",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Type != EventButtonPress || ev.ButtonID != "b1" || ev.ChatID != 42 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestPublishSubscribeOutbound(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	mb.PublishOutbound(OutboundMessage{
		BotID:  "bot1",
		ChatID: 42,
		Text:   "hello",
		Buttons: [][]Button{
			{{Text: "Monthly", Data: "btn_b1"}},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := mb.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("expected message")
	}
	if msg.Text != "hello" || len(msg.Buttons) != 1 {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestConsumeCancelled(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Error("expected ok=false on cancelled context")
	}
}

func TestPublishAfterClose(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()
	mb.Close()

	// Must not panic or block.
	mb.PublishInbound(InboundEvent{Type: EventText, BotID: "bot1"})
	mb.PublishOutbound(OutboundMessage{BotID: "bot1"})
}
