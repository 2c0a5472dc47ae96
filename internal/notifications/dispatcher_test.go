package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/walletrecovery/internal/messages"
	"github.com/charlesng35/walletrecovery/internal/models"
	"github.com/charlesng35/walletrecovery/pkg/mail"
)

type recordingMailer struct {
	sent []mail.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg mail.Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

type recordingSender struct {
	to   []string
	body []string
	err  error
}

func (s *recordingSender) Send(ctx context.Context, to, body string) error {
	s.to = append(s.to, to)
	s.body = append(s.body, body)
	return s.err
}

func TestServiceSendEmail(t *testing.T) {
	mailer := &recordingMailer{}
	svc, err := NewService(mailer, nil, Options{EmailEnabled: true, From: "wallet@example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.SendEmail(context.Background(), "a@example.com", "Subject", "text", "<p>html</p>"))
	require.Len(t, mailer.sent, 1)
	require.Equal(t, []string{"a@example.com"}, mailer.sent[0].To)
	require.Equal(t, "wallet@example.com", mailer.sent[0].From)
	require.Equal(t, "<p>html</p>", mailer.sent[0].HTMLBody)
}

func TestServicePropagatesDeliveryErrors(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp down")}
	sender := &recordingSender{err: errors.New("twilio down")}
	svc, err := NewService(mailer, sender, Options{EmailEnabled: true, SMSEnabled: true})
	require.NoError(t, err)

	require.ErrorContains(t, svc.SendEmail(context.Background(), "a@example.com", "s", "t", ""), "smtp down")
	require.ErrorContains(t, svc.SendSMS(context.Background(), "+15551234567", "t"), "twilio down")
}

func TestServiceDisabledChannelsSkip(t *testing.T) {
	svc, err := NewService(nil, nil, Options{})
	require.NoError(t, err)

	require.NoError(t, svc.SendEmail(context.Background(), "a@example.com", "s", "t", ""))
	require.NoError(t, svc.SendSMS(context.Background(), "+15551234567", "t"))
}

func TestNewServiceRequiresBackendsForEnabledChannels(t *testing.T) {
	_, err := NewService(nil, nil, Options{EmailEnabled: true})
	require.Error(t, err)

	_, err = NewService(nil, nil, Options{SMSEnabled: true})
	require.Error(t, err)
}

func TestDeliverContentRoutesByKind(t *testing.T) {
	mailer := &recordingMailer{}
	sender := &recordingSender{}
	svc, err := NewService(mailer, sender, Options{EmailEnabled: true, SMSEnabled: true})
	require.NoError(t, err)

	content := messages.Content{Subject: "s", Text: "t", HTML: "h"}
	require.NoError(t, DeliverContent(context.Background(), svc, models.MethodTwoFactorSMS, "+15551234567", content))
	require.NoError(t, DeliverContent(context.Background(), svc, models.MethodEmail, "a@example.com", content))
	require.Error(t, DeliverContent(context.Background(), svc, models.MethodLedger, "x", content))
	require.Error(t, DeliverContent(context.Background(), svc, models.MethodEmail, " ", content))

	require.Equal(t, []string{"+15551234567"}, sender.to)
	require.Len(t, mailer.sent, 1)
	require.True(t, IsSMS(models.MethodPhone))
	require.False(t, IsSMS(models.MethodTwoFactorMail))
}
