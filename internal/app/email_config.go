package app

import (
	"github.com/charlesng35/walletrecovery/pkg/mail"
	"github.com/charlesng35/walletrecovery/pkg/sms"
)

// SMTPSettings converts EmailConfig to the mail package representation. Delivery is enabled only
// when the email_delivery feature is on.
func (c Config) SMTPSettings() mail.SMTPSettings {
	smtp := c.Email.SMTP
	return mail.SMTPSettings{
		Enabled:  smtp.Enabled && c.Features.EmailDelivery,
		Host:     smtp.Host,
		Port:     smtp.Port,
		Username: smtp.Username,
		Password: smtp.Password,
		From:     smtp.From,
		FromName: smtp.FromName,
		UseTLS:   smtp.UseTLS,
		Timeout:  smtp.Timeout,
	}
}

// TwilioSettings converts SMSConfig to the sms package representation.
func (c Config) TwilioSettings() sms.TwilioSettings {
	return sms.TwilioSettings{
		Enabled:    c.Features.SMSDelivery,
		AccountSID: c.SMS.Twilio.AccountSID,
		AuthToken:  c.SMS.Twilio.AuthToken,
		From:       c.SMS.Twilio.From,
	}
}
