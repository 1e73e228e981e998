package mail

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/pixelvide/ownmailer/pkg/email"
)

// MailgunMailer sends emails via Mailgun API
type MailgunMailer struct {
	client *mailgun.MailgunImpl
}

// NewMailgunMailer creates a Mailgun mailer; region "eu" selects the EU API
func NewMailgunMailer(domain, apiKey, region string) *MailgunMailer {
	mg := mailgun.NewMailgun(domain, apiKey)
	if region == "eu" {
		mg.SetAPIBase("https://api.eu.mailgun.net/v3")
	}
	return &MailgunMailer{client: mg}
}

// Send sends an email via Mailgun
func (m *MailgunMailer) Send(ctx context.Context, msg *Message) (string, error) {
	mm := m.client.NewMessage(msg.From, msg.Subject, msg.Text, msg.To...)
	if msg.HTML != "" {
		mm.SetHtml(msg.HTML)
	}
	for _, cc := range msg.Cc {
		mm.AddCC(cc)
	}
	for _, bcc := range msg.Bcc {
		mm.AddBCC(bcc)
	}
	if len(msg.ReplyTo) > 0 {
		mm.SetReplyTo(msg.ReplyTo[0])
	}
	for _, k := range sortedKeys(msg.Headers) {
		mm.AddHeader(k, msg.Headers[k])
	}
	for _, k := range sortedKeys(msg.Tags) {
		if err := mm.AddVariable(k, msg.Tags[k]); err != nil {
			return "", email.NewValidationError("tag "+k, err)
		}
	}
	for _, a := range msg.Attachments {
		if a.Inline {
			mm.AddReaderInline(a.Filename, io.NopCloser(bytes.NewReader(a.Content)))
			continue
		}
		mm.AddBufferAttachment(a.Filename, a.Content)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, id, err := m.client.Send(ctx, mm)
	if err != nil {
		return "", email.NewProviderError("mailgun send", err)
	}
	return id, nil
}
