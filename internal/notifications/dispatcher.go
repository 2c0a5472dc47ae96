package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/walletrecovery/internal/messages"
	"github.com/charlesng35/walletrecovery/internal/models"
	"github.com/charlesng35/walletrecovery/pkg/logger"
	"github.com/charlesng35/walletrecovery/pkg/mail"
	"github.com/charlesng35/walletrecovery/pkg/metrics"
	"github.com/charlesng35/walletrecovery/pkg/sms"
)

// Dispatcher delivers rendered messages. Failures are returned to the caller and never retried here.
type Dispatcher interface {
	SendSMS(ctx context.Context, to, text string) error
	SendEmail(ctx context.Context, to, subject, text, html string) error
}

// Options toggles the delivery channels.
type Options struct {
	EmailEnabled bool
	SMSEnabled   bool
	From         string
}

// Service delivers through SMTP and Twilio. Disabled channels log the destination and succeed.
type Service struct {
	mailer mail.Mailer
	sender sms.Sender
	opts   Options
	log    *zap.Logger
}

var _ Dispatcher = (*Service)(nil)

// NewService constructs a dispatcher. A channel that is enabled must have a backing client.
func NewService(mailer mail.Mailer, sender sms.Sender, opts Options) (*Service, error) {
	if opts.EmailEnabled && mailer == nil {
		return nil, errors.New("notifications: mailer is required when email delivery is enabled")
	}
	if opts.SMSEnabled && sender == nil {
		return nil, errors.New("notifications: sms sender is required when sms delivery is enabled")
	}
	return &Service{mailer: mailer, sender: sender, opts: opts, log: logger.WithModule("notifications")}, nil
}

func (s *Service) SendSMS(ctx context.Context, to, text string) error {
	if !s.opts.SMSEnabled {
		s.log.Info("sms delivery disabled, skipping", zap.String("to", to))
		metrics.MessagesDispatched.WithLabelValues("sms", "skipped").Inc()
		return nil
	}
	if err := s.sender.Send(ctx, to, text); err != nil {
		metrics.MessagesDispatched.WithLabelValues("sms", "error").Inc()
		return fmt.Errorf("notifications: %w", err)
	}
	metrics.MessagesDispatched.WithLabelValues("sms", "sent").Inc()
	return nil
}

func (s *Service) SendEmail(ctx context.Context, to, subject, text, html string) error {
	if !s.opts.EmailEnabled {
		s.log.Info("email delivery disabled, skipping", zap.String("to", to), zap.String("subject", subject))
		metrics.MessagesDispatched.WithLabelValues("email", "skipped").Inc()
		return nil
	}
	err := s.mailer.Send(ctx, mail.Message{
		From:     s.opts.From,
		To:       []string{to},
		Subject:  subject,
		Body:     text,
		HTMLBody: html,
	})
	if err != nil {
		metrics.MessagesDispatched.WithLabelValues("email", "error").Inc()
		return fmt.Errorf("notifications: %w", err)
	}
	metrics.MessagesDispatched.WithLabelValues("email", "sent").Inc()
	return nil
}

// IsSMS reports whether messages for the method go out as SMS.
func IsSMS(kind models.MethodKind) bool {
	return kind.Channel() == models.MethodPhone
}

// DeliverContent routes rendered content to the channel behind the method kind.
func DeliverContent(ctx context.Context, d Dispatcher, kind models.MethodKind, destination string, content messages.Content) error {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return fmt.Errorf("notifications: no destination for %s", kind)
	}
	switch kind.Channel() {
	case models.MethodPhone:
		return d.SendSMS(ctx, destination, content.Text)
	case models.MethodEmail:
		return d.SendEmail(ctx, destination, content.Subject, content.Text, content.HTML)
	default:
		return fmt.Errorf("notifications: %s methods cannot receive messages", kind)
	}
}
