package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramSender is the slice of the bot API the sink needs
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink posts reminders to one Telegram chat
type TelegramSink struct {
	api    telegramSender
	chatID int64
}

// NewTelegramSink authorizes the bot token and targets chatID
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	api.Debug = false
	return &TelegramSink{api: api, chatID: chatID}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, c Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(s.chatID, formatMessage(c))
	_, err := s.api.Send(msg)
	return err
}

func formatMessage(c Content) string {
	if c.Body == "" {
		return c.Title
	}
	return c.Title + "\n" + c.Body
}
