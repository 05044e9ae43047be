// Package notify pushes out-of-band alerts to the administrator over a
// Telegram bot. Delivery is fire-and-forget: a send runs on its own
// goroutine with its own deadline, and a failure never propagates to the
// request that triggered it.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/privatechat-app/privatechat-server/internal/log"
	"github.com/privatechat-app/privatechat-server/internal/xerrors"
)

// Telegram rejects messages beyond 4096 chars; bodies are clipped well
// under that so the alert stays readable.
const previewLen = 200

type Metrics interface {
	IncNotifyFailure()
}

// Sender is the slice of the bot API the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends admin alerts. A nil *Notifier is a valid no-op, so the
// services depending on it need no configuration awareness.
type Notifier struct {
	bot     Sender
	chatID  int64
	logger  log.Logger
	metrics Metrics
}

// New connects the bot. Call only when a token is configured.
func New(token string, adminChatID int64, logger log.Logger, metrics Metrics) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, xerrors.Wrap(err, "connect telegram bot")
	}
	bot.Debug = false
	return NewWithSender(bot, adminChatID, logger, metrics), nil
}

func NewWithSender(bot Sender, adminChatID int64, logger log.Logger, metrics Metrics) *Notifier {
	return &Notifier{bot: bot, chatID: adminChatID, logger: logger, metrics: metrics}
}

// UserRegistered alerts the admin that a new registration awaits review.
func (n *Notifier) UserRegistered(ctx context.Context, name, handle string) {
	n.send(ctx, fmt.Sprintf("New registration awaiting verification: %s (@%s)", name, handle))
}

// NewMessage alerts the admin that a user wrote in their chat.
func (n *Notifier) NewMessage(ctx context.Context, senderName, body string) {
	n.send(ctx, fmt.Sprintf("New message from %s: %s", senderName, clip(body)))
}

// StatusChanged records an admin-side verification decision.
func (n *Notifier) StatusChanged(ctx context.Context, handle, status string) {
	n.send(ctx, fmt.Sprintf("User @%s is now %s", handle, status))
}

func (n *Notifier) send(ctx context.Context, text string) {
	if n == nil || n.bot == nil {
		return
	}
	// detached from the request lifetime; the alert should survive the
	// response being written
	go func() {
		msg := tgbotapi.NewMessage(n.chatID, text)
		if _, err := n.bot.Send(msg); err != nil {
			if n.metrics != nil {
				n.metrics.IncNotifyFailure()
			}
			if n.logger != nil {
				n.logger.Warn(ctx, "admin notification failed", "error", err.Error())
			}
		}
	}()
}

func clip(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen] + "…"
}
