package logger

const (
	FieldBotID         = "bot_id"
	FieldChatID        = "chat_id"
	FieldFunnelID      = "funnel_id"
	FieldButtonID      = "button_id"
	FieldTransactionID = "transaction_id"
	FieldAmount        = "amount"
	FieldError         = "error"
)
