package mail

import (
	"context"

	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/pixelvide/ownmailer/pkg/request"
)

// Sender composes normalized send requests and hands them to a Mailer.
type Sender struct {
	Composer *Composer
	Mailer   Mailer
}

func NewSender(mailer Mailer) *Sender {
	return &Sender{Composer: NewComposer(), Mailer: mailer}
}

// Send returns the provider's id for the message. Failures that are not
// already classified are reported as provider errors.
func (s *Sender) Send(ctx context.Context, req request.SendRequest) (string, error) {
	msg, err := s.Composer.Compose(ctx, req)
	if err != nil {
		return "", err
	}
	id, err := s.Mailer.Send(ctx, msg)
	if err != nil {
		if email.ReasonOf(err) == "" {
			return "", email.NewProviderError("send email", err)
		}
		return "", err
	}
	return id, nil
}

// ListIdentities lists the sender identities when the mailer supports it.
func (s *Sender) ListIdentities(ctx context.Context) ([]Identity, error) {
	lister, ok := s.Mailer.(IdentityLister)
	if !ok {
		return nil, email.NewProviderError("the configured mailer cannot list identities", nil)
	}
	return lister.ListIdentities(ctx)
}
