package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

// TelegramConfig holds Telegram notifier settings.
type TelegramConfig struct {
	Token       string
	ChatIDs     []int64
	APIEndpoint string // optional, format "https://host/bot%s/%s"
}

// Telegram sends poll summaries to a fixed set of chats.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chats  []int64
	logger *slog.Logger
}

// NewTelegram creates a Telegram notifier. It verifies the token with the
// Bot API.
func NewTelegram(cfg TelegramConfig, logger *slog.Logger) (*Telegram, error) {
	if len(cfg.ChatIDs) == 0 {
		return nil, fmt.Errorf("telegram: at least one chat id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	logger.Info("telegram notifier ready", "bot", bot.Self.UserName, "chats", len(cfg.ChatIDs))

	return &Telegram{bot: bot, chats: cfg.ChatIDs, logger: logger}, nil
}

// Notify sends the report summary to every chat. A chat that rejects the
// HTML rendering gets the plain text instead.
func (t *Telegram) Notify(_ context.Context, report *protocol.PollReport) error {
	summary := Summary(report)
	html := ToTelegramHTML(summary)

	var errs []error
	for _, chatID := range t.chats {
		msg := tgbotapi.NewMessage(chatID, html)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true

		_, err := t.bot.Send(msg)
		if err != nil {
			t.logger.Warn("HTML send failed, falling back to plain text",
				"chat_id", chatID,
				"error", err,
			)
			msg.Text = StripMarkdown(summary)
			msg.ParseMode = ""
			_, err = t.bot.Send(msg)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("telegram: chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}
