// Package alerting delivers operator alerts (escalations, payments that need
// manual reconciliation) to a Telegram chat.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Nop is used when no bot token is configured.
type Nop struct {
	Logger *slog.Logger
}

func (n Nop) Alert(ctx context.Context, text string) error {
	if n.Logger != nil {
		n.Logger.InfoContext(ctx, "Alert not delivered, Telegram is not configured", "text", text)
	}
	return nil
}

type TelegramAlerter struct {
	bot    *telego.Bot
	chatID int64
	logger *slog.Logger
}

func NewTelegramAlerter(token string, chatID int64, logger *slog.Logger) (*TelegramAlerter, error) {
	bot, err := telego.NewBot(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &TelegramAlerter{bot: bot, chatID: chatID, logger: logger.With("component", "telegram_alerter")}, nil
}

func (a *TelegramAlerter) Alert(ctx context.Context, text string) error {
	if _, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(a.chatID), text)); err != nil {
		a.logger.WarnContext(ctx, "Failed to send telegram alert", "error", err)
		return fmt.Errorf("sending telegram alert: %w", err)
	}
	return nil
}

// New returns a TelegramAlerter when token and chatID are set, Nop otherwise.
func New(token string, chatID int64, logger *slog.Logger) (Alerter, error) {
	if token == "" || chatID == 0 {
		return Nop{Logger: logger}, nil
	}
	return NewTelegramAlerter(token, chatID, logger)
}
