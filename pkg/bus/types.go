package bus

// EventType classifies an inbound Telegram interaction after decoding.
// Raw updates are decoded once at the session boundary; everything past the
// bus works with these canonical events.
type EventType string

const (
	EventStart           EventType = "start"
	EventButtonPress     EventType = "button_press"
	EventOrderbumpAccept EventType = "orderbump_accept"
	EventOrderbumpReject EventType = "orderbump_reject"
	EventConfirmPayment  EventType = "confirm_payment"
	EventText            EventType = "text"
)

// InboundEvent is one user interaction, addressed by bot and chat.
type InboundEvent struct {
	Type      EventType `json:"type"`
	BotID     string    `json:"bot_id"`
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	ButtonID  string    `json:"button_id,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// Button is one inline keyboard button on an outbound message. Data is the
// callback token echoed back when pressed; Link makes a URL button instead.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data,omitempty"`
	Link string `json:"link,omitempty"`
}

// OutboundMessage is one message to deliver through a bot session. When
// PhotoPNG is set the message goes out as a photo with Text as caption;
// MediaURL likewise but fetched by Telegram from the URL.
type OutboundMessage struct {
	BotID    string     `json:"bot_id"`
	ChatID   int64      `json:"chat_id"`
	Text     string     `json:"text"`
	MediaURL string     `json:"media_url,omitempty"`
	PhotoPNG []byte     `json:"-"`
	Buttons  [][]Button `json:"buttons,omitempty"`
}

// EventHandler consumes decoded inbound events.
type EventHandler func(InboundEvent) error
