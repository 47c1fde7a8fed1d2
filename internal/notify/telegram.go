// Package notify sends trade lifecycle notifications to Telegram.
// A notifier with no credentials is a no-op, so callers never need to
// guard their Send calls.
package notify

import (
	"context"
	"fmt"
	"time"

	"binance-scalper-go/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const sendTimeout = 10 * time.Second

// Notifier delivers human-readable event messages.
type Notifier interface {
	Send(text string)
}

// TelegramNotifier posts messages through the Telegram Bot API.
// Delivery is fire-and-forget; failures are logged, never propagated.
type TelegramNotifier struct {
	client *resty.Client
	chatID string
	logger *zap.Logger
}

var _ Notifier = (*TelegramNotifier)(nil)

// NewTelegramNotifier builds a notifier from config. Returns a disabled
// notifier when the token or chat ID is empty.
func NewTelegramNotifier(cfg *config.Telegram, logger *zap.Logger) Notifier {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		logger.Info("Telegram notifications disabled")
		return noopNotifier{}
	}

	client := resty.New().
		SetBaseURL(fmt.Sprintf("https://api.telegram.org/bot%s", cfg.BotToken)).
		SetTimeout(sendTimeout)

	return &TelegramNotifier{
		client: client,
		chatID: cfg.ChatID,
		logger: logger,
	}
}

func (n *TelegramNotifier) Send(text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		resp, err := n.client.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"chat_id": n.chatID,
				"text":    text,
			}).
			Post("/sendMessage")
		if err != nil {
			n.logger.Warn("Telegram send failed", zap.Error(err))
			return
		}
		if resp.IsError() {
			n.logger.Warn("Telegram send rejected",
				zap.Int("status", resp.StatusCode()),
				zap.String("body", resp.String()),
			)
		}
	}()
}

type noopNotifier struct{}

func (noopNotifier) Send(string) {}
