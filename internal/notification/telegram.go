package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"demandindex-plus/internal/model"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// NewTelegramNotifier creates a notifier posting to chatID as the bot
// identified by botToken.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  telegramAPI,
		client:   newHTTPClient(),
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	msg := telegramMessage{
		ChatID:    t.chatID,
		Text:      telegramText(alert),
		ParseMode: "MarkdownV2",
	}
	url := t.apiBase + "/bot" + t.botToken + "/sendMessage"
	if err := postJSON(ctx, t.client, url, msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	log.Printf("[telegram] %s %s bar %d delivered", alert.Symbol, alert.Signal, alert.Index)
	return nil
}

// telegramText renders an alert as a MarkdownV2 message.
func telegramText(a Alert) string {
	marker := "ℹ️"
	switch a.Signal {
	case model.SignalCrossLong:
		marker = "🟢"
	case model.SignalCrossShort:
		marker = "🔴"
	case model.SignalReversalLong, model.SignalReversalShort:
		marker = "⚠️"
	}
	return fmt.Sprintf("%s *%s*\n\n%s\n_bar %d at %s_", marker,
		escapeMarkdown(a.Title), escapeMarkdown(a.Message),
		a.Index, escapeMarkdown(a.TS.UTC().Format(time.RFC3339)))
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

// escapeMarkdown escapes the characters MarkdownV2 reserves.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
