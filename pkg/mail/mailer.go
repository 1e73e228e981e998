package mail

import "context"

// Message represents an email message ready for a provider
type Message struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	ReplyTo     []string
	Subject     string
	Text        string
	HTML        string
	Headers     map[string]string
	Tags        map[string]string
	Attachments []Attachment
}

// Attachment is a file carried by a Message, already resolved to bytes
type Attachment struct {
	Filename    string
	Content     []byte
	ContentType string
	Headers     map[string]string
	CID         string
	Inline      bool
}

// Mailer is the interface for sending emails
type Mailer interface {
	// Send hands the message to the provider and returns the provider's id
	// for it.
	Send(ctx context.Context, msg *Message) (string, error)
}

// Identity is a sender identity (address or domain) known to the provider
type Identity struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	SendingEnabled bool   `json:"sendingEnabled"`
}

// IdentityLister is implemented by mailers that can report which identities
// are allowed to send
type IdentityLister interface {
	ListIdentities(ctx context.Context) ([]Identity, error)
}

func allRecipients(msg *Message) []string {
	recipients := make([]string, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	recipients = append(recipients, msg.To...)
	recipients = append(recipients, msg.Cc...)
	recipients = append(recipients, msg.Bcc...)
	return recipients
}
