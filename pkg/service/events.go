package service

import (
	"context"
	"encoding/json"

	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/pixelvide/ownmailer/pkg/notification"
	"github.com/pixelvide/ownmailer/pkg/queue"
	"github.com/pixelvide/ownmailer/pkg/telemetry"
)

// SourceResend is the queue source of Resend webhook deliveries.
const SourceResend = "resend"

// ResendDelivery is the queued form of a Resend webhook: the body plus the
// svix-id header that identifies the delivery.
type ResendDelivery struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

// HandleSNS handles an SNS message. Subscription confirmations are
// confirmed, notifications are reported, and everything else is dropped.
func (s *Service) HandleSNS(ctx context.Context, body []byte) error {
	d, err := notification.DecodeSNS(body)
	if err != nil {
		return err
	}
	return s.handle(ctx, d)
}

// HandleSESEvent handles a bare SES event, keyed by eventID for dedup.
func (s *Service) HandleSESEvent(ctx context.Context, body []byte, eventID string) error {
	ev, err := notification.DecodeSES(body, eventID)
	if err != nil {
		return err
	}
	return s.handle(ctx, notification.Decoded{Event: ev})
}

// HandleResend handles a Resend webhook body.
func (s *Service) HandleResend(ctx context.Context, body []byte, deliveryID string) error {
	ev, err := notification.DecodeResend(body, deliveryID)
	if err != nil {
		return err
	}
	return s.handle(ctx, notification.Decoded{Event: ev})
}

func (s *Service) handle(ctx context.Context, d notification.Decoded) error {
	logger := telemetry.LoggerFromContext(ctx)
	switch {
	case d.Confirmation != nil:
		if err := notification.Confirm(ctx, s.http, d.Confirmation); err != nil {
			return err
		}
		logger.Info().Str("topic", d.Confirmation.TopicArn).Msg("SNS subscription confirmed")
		return nil
	case d.Ignored():
		logger.Debug().Msg("notification ignored")
		return nil
	}
	return s.ReportProviderEvent(ctx, *d.Event)
}

// RegisterJobs registers the queue handlers for provider notifications.
func (s *Service) RegisterJobs() {
	queue.Register(queue.SourceSNS, s.sesJob)
	queue.Register(SourceResend, s.resendJob)
}

func (s *Service) sesJob(ctx context.Context, job *queue.Job) error {
	data := job.Envelope.Data
	var probe struct {
		Type string `json:"Type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return email.NewValidationError("malformed SES job", err)
	}
	if probe.Type != "" {
		return s.HandleSNS(ctx, data)
	}
	return s.HandleSESEvent(ctx, data, job.Envelope.UUID)
}

func (s *Service) resendJob(ctx context.Context, job *queue.Job) error {
	var d ResendDelivery
	if err := json.Unmarshal(job.Envelope.Data, &d); err != nil {
		return email.NewValidationError("malformed Resend job", err)
	}
	return s.HandleResend(ctx, d.Body, d.ID)
}
