package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"
)

// TelegramSender pushes notifications to a Telegram chat. The channel field
// of a notification is ignored; every channel maps to the configured chat.
type TelegramSender struct {
	bot    *tele.Bot
	chatID int64
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

func NewTelegramSender(cfg TelegramConfig) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id required")
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: bot, chatID: cfg.ChatID}, nil
}

func (t *TelegramSender) Push(_ context.Context, _ string, text string) error {
	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, text)
	return err
}

// LogSender is the fallback sender used when no Telegram credentials are
// configured: it only logs the would-be delivery.
type LogSender struct {
	Log zerolog.Logger
}

func (l LogSender) Push(_ context.Context, channel, text string) error {
	l.Log.Info().Str("channel", channel).Str("text", text).Msg("notification")
	return nil
}
