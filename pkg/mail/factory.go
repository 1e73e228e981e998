package mail

import (
	"context"
	"fmt"

	"github.com/pixelvide/ownmailer/pkg/config"
	"github.com/resend/resend-go/v2"
)

// NewMailer creates a new Mailer based on the configuration
func NewMailer(ctx context.Context, cfg config.MailConfig) (Mailer, error) {
	switch cfg.Mailer {
	case "ses":
		client, err := config.LoadSESClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("load ses client: %w", err)
		}
		return NewSESMailer(client, cfg.SESConfigurationSet), nil
	case "resend":
		if cfg.ResendKey == "" {
			return nil, fmt.Errorf("resend mailer requires MAIL_RESEND_KEY")
		}
		return NewResendMailer(resend.NewClient(cfg.ResendKey)), nil
	case "mailgun":
		if cfg.MailgunDomain == "" || cfg.MailgunKey == "" {
			return nil, fmt.Errorf("mailgun mailer requires MAIL_MAILGUN_DOMAIN and MAIL_MAILGUN_KEY")
		}
		return NewMailgunMailer(cfg.MailgunDomain, cfg.MailgunKey, cfg.MailgunRegion), nil
	case "smtp":
		return NewSMTPMailer(cfg), nil
	case "log":
		return NewLogMailer(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported mailer: %s", cfg.Mailer)
	}
}
