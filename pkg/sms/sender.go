package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// MaxBodyLength is the longest SMS body the gateway accepts before rejecting the message.
const MaxBodyLength = 1600

// ErrSMSDisabled signals that SMS delivery is disabled via configuration.
var ErrSMSDisabled = errors.New("sms: delivery disabled")

// Sender delivers plain-text SMS messages.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// TwilioSettings capture the credentials required by the Twilio sender.
type TwilioSettings struct {
	Enabled    bool
	AccountSID string
	AuthToken  string
	From       string
}

type createMessageFunc func(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)

type twilioSender struct {
	cfg    TwilioSettings
	create createMessageFunc
}

// NewTwilioSender builds a Sender backed by the Twilio messages API.
func NewTwilioSender(cfg TwilioSettings) (Sender, error) {
	sender := &twilioSender{cfg: cfg}
	if !cfg.Enabled {
		return sender, nil
	}

	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("sms: twilio account sid and auth token are required when enabled")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("sms: from number is required when enabled")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	sender.create = client.Api.CreateMessage
	return sender, nil
}

func (s *twilioSender) Send(ctx context.Context, to, body string) error {
	if !s.cfg.Enabled {
		return ErrSMSDisabled
	}

	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("sms: recipient is required")
	}
	if len([]rune(body)) > MaxBodyLength {
		return fmt.Errorf("sms: body exceeds %d characters", MaxBodyLength)
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.cfg.From)
	params.SetBody(body)

	if _, err := s.create(params); err != nil {
		return fmt.Errorf("sms: send to %s: %w", to, err)
	}
	return nil
}
