package telegram

import (
	"strings"

	"github.com/mymmrac/telego"

	"pixfunnel/pkg/bus"
)

// DecodeUpdate turns a raw Telegram update into a canonical event. This is
// the only place update shapes are inspected; unknown or unusable updates
// (edited messages, media without text, stray callbacks) return ok=false
// and are dropped.
func DecodeUpdate(botID string, update telego.Update) (bus.InboundEvent, bool) {
	switch {
	case update.Message != nil:
		return decodeMessage(botID, update.Message)
	case update.CallbackQuery != nil:
		return decodeCallback(botID, update.CallbackQuery)
	}
	return bus.InboundEvent{}, false
}

func decodeMessage(botID string, msg *telego.Message) (bus.InboundEvent, bool) {
	if msg.From == nil {
		return bus.InboundEvent{}, false
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return bus.InboundEvent{}, false
	}

	ev := bus.InboundEvent{
		BotID:     botID,
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		Username:  msg.From.Username,
		FirstName: msg.From.FirstName,
	}

	if text == "/start" || strings.HasPrefix(text, "/start ") {
		ev.Type = bus.EventStart
		return ev, true
	}

	ev.Type = bus.EventText
	ev.Text = text
	return ev, true
}

func decodeCallback(botID string, cq *telego.CallbackQuery) (bus.InboundEvent, bool) {
	if cq.Message == nil {
		// Message too old for Telegram to reference; nowhere to reply.
		return bus.InboundEvent{}, false
	}

	evType, id, ok := bus.ParseCallback(cq.Data)
	if !ok {
		return bus.InboundEvent{}, false
	}

	return bus.InboundEvent{
		Type:      evType,
		BotID:     botID,
		ChatID:    cq.Message.GetChat().ID,
		UserID:    cq.From.ID,
		Username:  cq.From.Username,
		FirstName: cq.From.FirstName,
		ButtonID:  id,
	}, true
}
