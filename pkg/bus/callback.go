package bus

import "strings"

// Callback tokens are the wire format for inline button presses. The token
// carries the event kind plus the button or transaction id; sessions decode
// tokens into events at the boundary so nothing downstream parses strings.
const (
	prefixButton          = "btn_"
	prefixOrderbumpAccept = "orderbump_accept_"
	prefixOrderbumpReject = "orderbump_reject_"
	prefixConfirm         = "confirm_"
)

func ButtonToken(buttonID string) string          { return prefixButton + buttonID }
func OrderbumpAcceptToken(buttonID string) string { return prefixOrderbumpAccept + buttonID }
func OrderbumpRejectToken(buttonID string) string { return prefixOrderbumpReject + buttonID }
func ConfirmToken(transactionID string) string    { return prefixConfirm + transactionID }

// ParseCallback decodes a callback token into an event type and its id.
// Unknown tokens return ok=false; sessions drop them after answering the
// callback so the Telegram client stops its spinner.
func ParseCallback(data string) (EventType, string, bool) {
	switch {
	case strings.HasPrefix(data, prefixOrderbumpAccept):
		return EventOrderbumpAccept, data[len(prefixOrderbumpAccept):], true
	case strings.HasPrefix(data, prefixOrderbumpReject):
		return EventOrderbumpReject, data[len(prefixOrderbumpReject):], true
	case strings.HasPrefix(data, prefixConfirm):
		return EventConfirmPayment, data[len(prefixConfirm):], true
	case strings.HasPrefix(data, prefixButton):
		return EventButtonPress, data[len(prefixButton):], true
	}
	return "", "", false
}
