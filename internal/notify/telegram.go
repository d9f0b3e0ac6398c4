package notify

import (
	"context"
	"fmt"
	"net/http"
)

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for a bot token and chat id.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: "https://api.telegram.org",
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: sendTimeout},
	}
}

// Send calls sendMessage with Markdown formatting and the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, t.client, "telegram", t.apiBase+"/bot"+t.token+"/sendMessage", map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	})
}

func (t *TelegramSender) Name() string { return "telegram" }
