package messages

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/charlesng35/walletrecovery/internal/chain"
)

// Kind selects the message copy.
type Kind string

const (
	KindVerifyTwoFactor      Kind = "verify-2fa-method"
	KindConfirmTx            Kind = "confirm-transaction"
	KindAddFullAccessKey     Kind = "add-full-access-key"
	KindVerifyRecoveryMethod Kind = "verify-recovery-method"
)

// Params carries everything the copy may interpolate.
type Params struct {
	AccountID    string
	SecurityCode string
	// Destination is the email address or phone number the code is sent to.
	Destination string
	Request     *chain.PendingRequest
	ForSMS      bool
}

// Content is a rendered message. HTML is empty for SMS.
type Content struct {
	Subject        string
	Text           string
	HTML           string
	RequestDetails []string
}

type htmlView struct {
	Title   string
	Intro   string
	Code    string
	Warning string
	Details []template.HTML
	Footer  string
}

var emailLayout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Helvetica, Arial, sans-serif; color: #24272a;">
  <h2>{{.Title}}</h2>
  {{- if .Warning}}
  <p style="color: #ff585d; font-weight: bold;">{{.Warning}}</p>
  {{- end}}
  <p>{{.Intro}}</p>
  <p style="font-size: 28px; letter-spacing: 6px; font-weight: bold;">{{.Code}}</p>
  {{- if .Details}}
  <ul>
    {{- range .Details}}
    <li>{{.}}</li>
    {{- end}}
  </ul>
  {{- end}}
  <p style="color: #72727a;">{{.Footer}}</p>
</body>
</html>
`))

// BuildMessageContent renders subject, text and html for the given kind.
func BuildMessageContent(kind Kind, p Params) (Content, error) {
	textOpts := plainRender
	if p.ForSMS {
		textOpts = smsRender
	}
	textDetails := formatRequest(p.Request, textOpts)

	var (
		subject string
		text    string
		view    htmlView
	)

	switch kind {
	case KindVerifyTwoFactor:
		subject = fmt.Sprintf("Confirm 2FA for %s", p.AccountID)
		text = fmt.Sprintf("NEAR Wallet security code: %s\n\nEnter this code to enable Two-Factor Authentication for %s using %s.",
			p.SecurityCode, p.AccountID, p.Destination)
		view = htmlView{
			Title: "Confirm Two-Factor Authentication",
			Intro: fmt.Sprintf("Enter this code to enable Two-Factor Authentication for %s using %s.", p.AccountID, p.Destination),
		}
	case KindConfirmTx:
		subject = fmt.Sprintf("Confirm Transaction from: %s", p.AccountID)
		text = fmt.Sprintf("NEAR Wallet security code: %s\n\n Important: By entering this code, you are authorizing the following transaction(s):\n\n%s",
			p.SecurityCode, strings.Join(textDetails, "\n"))
		view = htmlView{
			Title: "Confirm Transaction",
			Intro: fmt.Sprintf("Important: By entering this code, you are authorizing the following transaction(s) from %s:", p.AccountID),
		}
	case KindAddFullAccessKey:
		publicKey := fullAccessKey(p.Request)
		subject = fmt.Sprintf("WARNING: Confirm adding a FULL ACCESS key to %s", p.AccountID)
		warning := fmt.Sprintf("WARNING: Entering this code will give FULL ACCESS to your account %s to the key %s. "+
			"Anyone holding this key can take all of your funds. Only continue if you are recovering your own account "+
			"or adding a key you control. Never share this code.", p.AccountID, publicKey)
		text = fmt.Sprintf("NEAR Wallet security code: %s\n\n%s\n\n%s", p.SecurityCode, warning, strings.Join(textDetails, "\n"))
		view = htmlView{
			Title:   "Confirm Full Access Key",
			Warning: warning,
			Intro:   "You are authorizing the following transaction(s):",
		}
	case KindVerifyRecoveryMethod:
		subject = fmt.Sprintf("Your NEAR Wallet security code for %s", p.AccountID)
		text = fmt.Sprintf("NEAR Wallet security code: %s\n\nEnter this code to confirm %s as a recovery method for %s.",
			p.SecurityCode, p.Destination, p.AccountID)
		view = htmlView{
			Title: "Confirm Recovery Method",
			Intro: fmt.Sprintf("Enter this code to confirm %s as a recovery method for %s.", p.Destination, p.AccountID),
		}
	default:
		return Content{}, fmt.Errorf("messages: unknown kind %q", kind)
	}

	content := Content{Subject: subject, Text: text, RequestDetails: textDetails}
	if p.ForSMS {
		return content, nil
	}

	for _, line := range formatRequest(p.Request, htmlRender) {
		// formatAction escapes every interpolated value
		view.Details = append(view.Details, template.HTML(line))
	}
	view.Code = p.SecurityCode
	view.Footer = "If you did not request this code, you can ignore this message. NEAR Wallet will never ask you for this code."

	var buf bytes.Buffer
	if err := emailLayout.Execute(&buf, view); err != nil {
		return Content{}, fmt.Errorf("messages: render %s: %w", kind, err)
	}
	content.HTML = buf.String()
	return content, nil
}

func fullAccessKey(request *chain.PendingRequest) string {
	if request == nil {
		return ""
	}
	for _, action := range request.Actions {
		if action.Type == chain.ActionAddKey && action.Permission == nil {
			return action.PublicKey
		}
	}
	return ""
}
