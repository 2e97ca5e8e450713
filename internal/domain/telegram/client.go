package telegram

// Client sends plain operational messages to a Telegram chat.
// The reminder pipeline never depends on the bot library directly.
type Client interface {
	SendMessage(chatID int64, text string) error
}
