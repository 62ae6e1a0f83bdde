// Package notifierbot runs the Telegram listener that relays completion
// notices sent to the bot into the group chat.
package notifierbot

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/esus-pec-automation/internal/messaging/telegramclient"
	"github.com/wolfman30/esus-pec-automation/internal/notify"
	"github.com/wolfman30/esus-pec-automation/internal/observability/metrics"
	"github.com/wolfman30/esus-pec-automation/pkg/logging"
)

// StartReply answers /start.
const StartReply = "Bot iniciado! Pronto para receber notificações."

type botClient interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegramclient.Update, error)
	SendMessage(ctx context.Context, chatID, text string) (*telegramclient.Message, error)
	Reply(ctx context.Context, msg *telegramclient.Message, text string) (*telegramclient.Message, error)
}

// Bot long-polls Telegram until its context ends.
type Bot struct {
	client      botClient
	groupChatID string
	offsets     OffsetStore
	logger      *logging.Logger
	metrics     *metrics.BotMetrics
	pollTimeout time.Duration
	errorPause  time.Duration
	location    *time.Location
	now         func() time.Time
}

func NewBot(client botClient, groupChatID string, logger *logging.Logger) *Bot {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bot{
		client:      client,
		groupChatID: groupChatID,
		offsets:     &MemoryOffsetStore{},
		logger:      logger,
		pollTimeout: 30 * time.Second,
		errorPause:  5 * time.Second,
		location:    time.Local,
		now:         time.Now,
	}
}

func (b *Bot) WithOffsetStore(s OffsetStore) *Bot {
	if s != nil {
		b.offsets = s
	}
	return b
}

func (b *Bot) WithPollTimeout(d time.Duration) *Bot {
	if d >= 0 {
		b.pollTimeout = d
	}
	return b
}

func (b *Bot) WithErrorPause(d time.Duration) *Bot {
	if d > 0 {
		b.errorPause = d
	}
	return b
}

func (b *Bot) WithLocation(loc *time.Location) *Bot {
	if loc != nil {
		b.location = loc
	}
	return b
}

func (b *Bot) WithMetrics(m *metrics.BotMetrics) *Bot {
	b.metrics = m
	return b
}

func (b *Bot) WithClock(now func() time.Time) *Bot {
	if now != nil {
		b.now = now
	}
	return b
}

// Run polls for updates until ctx is canceled. Poll failures are logged and
// retried after a fixed pause.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("starting telegram bot", "group_chat_id", b.groupChatID)
	offset, err := b.offsets.Load(ctx)
	if err != nil {
		b.logger.Warn("offset unavailable, starting from latest", "error", err)
		offset = 0
	}
	for {
		if ctx.Err() != nil {
			b.logger.Info("telegram bot stopped")
			return
		}
		next, err := b.poll(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			b.metrics.ObservePollError()
			b.logger.Error("bot polling failed", "error", err, "retry_in", b.errorPause)
			sleep(ctx, b.errorPause)
			continue
		}
		if next != offset {
			offset = next
			if err := b.offsets.Save(ctx, offset); err != nil {
				b.logger.Warn("failed to persist offset", "error", err, "offset", offset)
			}
		}
	}
}

func (b *Bot) poll(ctx context.Context, offset int64) (int64, error) {
	updates, err := b.client.GetUpdates(ctx, offset, b.pollTimeout)
	if err != nil {
		return offset, err
	}
	for _, u := range updates {
		b.handle(ctx, u)
		if u.UpdateID >= offset {
			offset = u.UpdateID + 1
		}
	}
	return offset, nil
}

func (b *Bot) handle(ctx context.Context, u telegramclient.Update) {
	msg := u.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		b.metrics.ObserveUpdate("ignored")
		return
	}
	b.logger.Info("message received", "chat_id", msg.Chat.ID, "text", msg.Text)

	if msg.IsCommand() {
		if msg.Command() != "start" {
			b.metrics.ObserveUpdate("ignored")
			return
		}
		b.metrics.ObserveUpdate("start")
		if _, err := b.client.Reply(ctx, msg, StartReply); err != nil {
			b.logger.Error("failed to answer /start", "error", err, "chat_id", msg.Chat.ID)
			return
		}
		b.logger.Info("start command received")
		return
	}

	b.metrics.ObserveUpdate("unit")
	unit := msg.Text
	text := notify.ReceivedMessage(unit, b.now().In(b.location))
	b.logger.Info("automation completed", "unit", unit)
	_, err := b.client.SendMessage(ctx, b.groupChatID, text)
	b.metrics.ObserveRelay(err)
	if err != nil {
		b.logger.Error("failed to relay notice to group", "error", err, "group_chat_id", b.groupChatID)
		return
	}
	b.logger.Info("notice relayed to group", "group_chat_id", b.groupChatID, "text", text)
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
