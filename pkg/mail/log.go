package mail

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pixelvide/ownmailer/pkg/config"
	"github.com/rs/zerolog/log"
)

// LogMailer implements Mailer by logging messages
type LogMailer struct {
	cfg config.MailConfig
}

// NewLogMailer creates a new LogMailer
func NewLogMailer(cfg config.MailConfig) *LogMailer {
	return &LogMailer{cfg: cfg}
}

// Send logs the message details and returns a generated message id
func (m *LogMailer) Send(ctx context.Context, msg *Message) (string, error) {
	defaultFrom(m.cfg, msg)
	id := uuid.NewString()

	logger := log.Ctx(ctx).With().
		Str("mailer", "log").
		Str("message_id", id).
		Str("from", msg.From).
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Int("attachments", len(msg.Attachments)).
		Logger()

	if len(msg.Cc) > 0 {
		logger = logger.With().Strs("cc", msg.Cc).Logger()
	}
	if len(msg.Bcc) > 0 {
		logger = logger.With().Strs("bcc", msg.Bcc).Logger()
	}

	logger.Info().Msg("Sending email")

	// the point of this mailer is to see the email
	if msg.Text != "" {
		logger.Info().Msgf("Text:\n%s", msg.Text)
	}
	if msg.HTML != "" {
		logger.Info().Msgf("HTML:\n%s", msg.HTML)
	}

	return id, nil
}

// defaultFrom fills in the configured sender when the message has none
func defaultFrom(cfg config.MailConfig, msg *Message) {
	if msg.From != "" || cfg.FromAddress == "" {
		return
	}
	msg.From = cfg.FromAddress
	if cfg.FromName != "" {
		msg.From = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}
}
