// Package notify announces finished automation runs.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/esus-pec-automation/internal/messaging/telegramclient"
	"github.com/wolfman30/esus-pec-automation/pkg/logging"
)

// TimestampLayout renders HH:MM:SS DD/MM/YYYY.
const TimestampLayout = "15:04:05 02/01/2006"

var notifyTracer = otel.Tracer("esus.internal.notify")

// ChatSender posts to a chat and releases its connection afterwards.
type ChatSender interface {
	SendMessage(ctx context.Context, chatID, text string) (*telegramclient.Message, error)
	Close() error
}

// Dialer opens a sender for a single notification.
type Dialer func(ctx context.Context) (ChatSender, error)

// TelegramDialer builds a fresh Bot API client per notification.
func TelegramDialer(cfg telegramclient.Config) Dialer {
	return func(context.Context) (ChatSender, error) {
		return telegramclient.New(cfg)
	}
}

// Completion describes a successful run.
type Completion struct {
	Unit string
	URL  string
	At   time.Time
}

// CompletionMessage is the group announcement for a finished run.
func CompletionMessage(unit, url string, at time.Time) string {
	return fmt.Sprintf("Notificação recebida: Automação concluída com sucesso em %s e %s às %s",
		unit, url, at.Format(TimestampLayout))
}

// ReceivedMessage is what the notifier bot relays when someone sends a unit
// name.
func ReceivedMessage(unit string, at time.Time) string {
	return fmt.Sprintf("Notificação recebida: Automação concluída com sucesso em %s às %s",
		unit, at.Format(TimestampLayout))
}

// Service sends completion notices to the group chat, with an optional
// e-mail copy.
type Service struct {
	dial     Dialer
	chatID   string
	email    EmailSender
	emailTo  []string
	location *time.Location
	logger   *logging.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithEmail sends a copy of each notice to the recipients.
func WithEmail(sender EmailSender, recipients []string) Option {
	return func(s *Service) {
		s.email = sender
		s.emailTo = recipients
	}
}

// WithLocation renders timestamps in loc.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// NewService creates a notification service.
func NewService(dial Dialer, chatID string, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		dial:     dial,
		chatID:   chatID,
		location: time.Local,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NotifyCompletion posts the completion notice. The sender is closed whether
// or not the send succeeded. Callers treat the returned error as
// informational.
func (s *Service) NotifyCompletion(ctx context.Context, c Completion) (err error) {
	ctx, span := notifyTracer.Start(ctx, "notify.completion")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("notify.unit", c.Unit))

	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	text := CompletionMessage(c.Unit, c.URL, at.In(s.location))

	if s.dial == nil {
		return errors.New("notify: chat sender not configured")
	}
	sender, err := s.dial(ctx)
	if err != nil {
		s.logger.Error("notify: failed to open chat sender", "error", err)
		return fmt.Errorf("notify: open sender: %w", err)
	}
	defer func() {
		if cerr := sender.Close(); cerr != nil {
			s.logger.Warn("notify: failed to release chat sender", "error", cerr)
		}
	}()

	if _, err := sender.SendMessage(ctx, s.chatID, text); err != nil {
		s.logger.Error("notify: failed to send completion notice", "error", err, "chat_id", s.chatID)
		return fmt.Errorf("notify: send completion: %w", err)
	}
	s.logger.Info("notify: completion notice sent", "chat_id", s.chatID, "unit", c.Unit)

	s.sendEmailCopy(ctx, c, text)
	return nil
}

func (s *Service) sendEmailCopy(ctx context.Context, c Completion, text string) {
	if s.email == nil || len(s.emailTo) == 0 {
		return
	}
	subject := fmt.Sprintf("Automação concluída - %s", c.Unit)
	for _, recipient := range s.emailTo {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		msg := EmailMessage{To: recipient, Subject: subject, Body: text}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send email copy", "error", err, "to", recipient)
			continue
		}
		s.logger.Info("notify: email copy sent", "to", recipient)
	}
}
