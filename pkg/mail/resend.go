package mail

import (
	"context"
	"strings"

	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/resend/resend-go/v2"
)

// ResendMailer sends emails via Resend API
type ResendMailer struct {
	client *resend.Client
}

// NewResendMailer creates a new Resend mailer
func NewResendMailer(client *resend.Client) *ResendMailer {
	return &ResendMailer{client: client}
}

// Send sends an email via Resend
func (m *ResendMailer) Send(ctx context.Context, msg *Message) (string, error) {
	params := &resend.SendEmailRequest{
		From:    msg.From,
		To:      msg.To,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		ReplyTo: strings.Join(msg.ReplyTo, ", "),
		Subject: msg.Subject,
		Text:    msg.Text,
		Html:    msg.HTML,
		Headers: msg.Headers,
	}
	for _, k := range sortedKeys(msg.Tags) {
		params.Tags = append(params.Tags, resend.Tag{Name: k, Value: msg.Tags[k]})
	}
	for _, a := range msg.Attachments {
		params.Attachments = append(params.Attachments, &resend.Attachment{
			Content:     a.Content,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			ContentId:   a.CID,
		})
	}

	sent, err := m.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", email.NewProviderError("resend send", err)
	}
	return sent.Id, nil
}
