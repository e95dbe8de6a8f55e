// Package notify fans user-visible and admin-visible events out to the
// chat front-end. Delivery failures are logged and never propagate into
// the transaction that produced the event.
package notify

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/nebulink/vpnbroker/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Button is one inline keyboard entry.
type Button struct {
	Text     string
	Callback string
}

// Message is the delivery contract to the chat transport: localized text
// with an optional structured button grid.
type Message struct {
	ChatID  int64
	Text    string
	Buttons [][]Button
}

// Messenger is the chat transport boundary. The Telegram implementation
// lives outside the core; a logging stand-in ships for development.
type Messenger interface {
	Send(ctx context.Context, msg Message) error
}

type Bus struct {
	log       *zap.Logger
	messenger Messenger
	redis     *redis.Client
	admins    []int64
	audit     int64
}

type BusParam struct {
	fx.In

	Log       *zap.Logger
	Messenger Messenger
	Redis     *redis.Client
	Cfg       config.Config
}

func NewBus(p BusParam) *Bus {
	return &Bus{
		log:       p.Log.Named("notify.bus"),
		messenger: p.Messenger,
		redis:     p.Redis,
		admins:    p.Cfg.Admin.ChatIDs,
		audit:     p.Cfg.Admin.AuditChannelID,
	}
}

// User delivers a message to one chat. Errors are swallowed after logging.
func (b *Bus) User(ctx context.Context, chatID int64, text string, buttons ...[]Button) {
	msg := Message{ChatID: chatID, Text: text}
	if len(buttons) > 0 {
		msg.Buttons = buttons
	}
	if err := b.messenger.Send(ctx, msg); err != nil {
		b.log.Warn("user notification failed",
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
	}
}

// Admins delivers an audit message to the admin channel and every
// configured operator chat.
func (b *Bus) Admins(ctx context.Context, text string) {
	targets := b.admins
	if b.audit != 0 {
		targets = append([]int64{b.audit}, targets...)
	}
	for _, chatID := range targets {
		if err := b.messenger.Send(ctx, Message{ChatID: chatID, Text: text}); err != nil {
			b.log.Warn("admin notification failed",
				zap.Int64("chat_id", chatID),
				zap.Error(err),
			)
		}
	}
}

// Once reports whether the bucket key fired within ttl already, and arms
// it if not. Used to cap repeated reminders (expiry warnings, autopay
// failures). When redis is unavailable the notification is allowed; a
// duplicate reminder beats a silent miss.
func (b *Bus) Once(ctx context.Context, key string, ttl time.Duration) bool {
	ok, err := b.redis.SetNX(ctx, "notified:"+key, 1, ttl).Result()
	if err != nil {
		b.log.Warn("notification dedupe unavailable", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

type logMessenger struct {
	log *zap.Logger
}

// NewLogMessenger returns a Messenger that only logs. Used in development
// and as the default until a chat transport is wired.
func NewLogMessenger(log *zap.Logger) Messenger {
	return &logMessenger{log: log.Named("notify.messenger")}
}

func (m *logMessenger) Send(_ context.Context, msg Message) error {
	m.log.Info("message",
		zap.Int64("chat_id", msg.ChatID),
		zap.String("text", msg.Text),
		zap.Int("button_rows", len(msg.Buttons)),
	)
	return nil
}

// Buttonf builds a button with a formatted callback payload.
func Buttonf(text, format string, args ...any) Button {
	return Button{Text: text, Callback: fmt.Sprintf(format, args...)}
}

// FormatKopeks renders an amount in kopeks as rubles for chat messages.
// Whole-ruble amounts drop the fraction.
func FormatKopeks(amount int64) string {
	if amount%100 == 0 {
		return fmt.Sprintf("%d ₽", amount/100)
	}
	return fmt.Sprintf("%d.%02d ₽", amount/100, amount%100)
}

var Module = fx.Module("notify",
	fx.Provide(NewLogMessenger),
	fx.Provide(NewBus),
)
