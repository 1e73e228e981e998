// Package service implements the operations exposed to API callers and
// provider webhooks on top of the store and the ingestion pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/pixelvide/ownmailer/pkg/ingest"
	"github.com/pixelvide/ownmailer/pkg/mail"
	"github.com/pixelvide/ownmailer/pkg/request"
	"github.com/pixelvide/ownmailer/pkg/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sender hands a normalized request to the sending provider and returns the
// provider's id for the message.
type Sender interface {
	Send(ctx context.Context, req request.SendRequest) (string, error)
}

// IdentityLister lists the identities the provider allows to send.
type IdentityLister interface {
	ListIdentities(ctx context.Context) ([]mail.Identity, error)
}

// Options tunes a Service. Zero fields take their defaults.
type Options struct {
	Now        func() time.Time
	IDs        func() string
	Grace      time.Duration
	Tracer     trace.Tracer
	Identities IdentityLister
	// HTTPClient confirms SNS subscriptions.
	HTTPClient *http.Client
	// SendTimeout bounds each provider call made by DispatchDue.
	SendTimeout time.Duration
}

// DefaultSendTimeout applies when Options.SendTimeout is zero.
const DefaultSendTimeout = 30 * time.Second

type Service struct {
	store      store.Store
	pipeline   *ingest.Pipeline
	sender     Sender
	identities IdentityLister
	normalizer request.Normalizer
	http       *http.Client
	ids        func() string
	now        func() time.Time
	tracer     trace.Tracer

	sendTimeout time.Duration

	// unrecorded holds the external ids of scheduled emails the provider
	// accepted but the store failed to mark sent, keyed by email id.
	mu         sync.Mutex
	unrecorded map[string]string
}

func New(s store.Store, p *ingest.Pipeline, sender Sender, opts Options) *Service {
	svc := &Service{
		store:      s,
		pipeline:   p,
		sender:     sender,
		identities: opts.Identities,
		http:       opts.HTTPClient,
		ids:        opts.IDs,
		now:        opts.Now,
		tracer:     opts.Tracer,

		sendTimeout: opts.SendTimeout,
		unrecorded:  make(map[string]string),
	}
	if svc.sendTimeout <= 0 {
		svc.sendTimeout = DefaultSendTimeout
	}
	if svc.ids == nil {
		svc.ids = uuid.NewString
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.tracer == nil {
		svc.tracer = otel.Tracer("ownmailer/service")
	}
	svc.normalizer = request.Normalizer{Now: svc.now, Grace: opts.Grace}
	return svc
}

// SendEmail validates body and either sends it right away or records it as
// scheduled. Nothing is persisted when the provider refuses the message.
func (s *Service) SendEmail(ctx context.Context, body request.SendBody) (*email.Email, error) {
	ctx, span := s.tracer.Start(ctx, "service.SendEmail")
	defer span.End()

	req, err := s.prepare(body)
	if err != nil {
		return nil, record(span, err)
	}
	e, err := s.send(ctx, req)
	if err != nil {
		return nil, record(span, err)
	}
	span.SetAttributes(attribute.String("email.id", e.ID), attribute.String("email.status", string(e.Status())))
	return e, nil
}

// SendEmailBatch validates every item before sending any of them. An invalid
// item fails the whole batch. Valid batches are sent in order and stop at the
// first failure, which is returned along with the emails already created.
func (s *Service) SendEmailBatch(ctx context.Context, bodies []request.SendBody) ([]*email.Email, error) {
	ctx, span := s.tracer.Start(ctx, "service.SendEmailBatch", trace.WithAttributes(attribute.Int("batch.size", len(bodies))))
	defer span.End()

	if len(bodies) == 0 {
		return nil, record(span, email.NewValidationError("batch must contain at least one email", nil))
	}

	reqs := make([]request.SendRequest, len(bodies))
	for i, body := range bodies {
		req, err := s.prepare(body)
		if err != nil {
			return nil, record(span, email.NewValidationError(fmt.Sprintf("batch[%d]", i), err))
		}
		reqs[i] = req
	}

	created := make([]*email.Email, 0, len(reqs))
	for i, req := range reqs {
		e, err := s.send(ctx, req)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Int("index", i).Int("created", len(created)).Msg("batch stopped")
			return created, record(span, &BatchError{Index: i, Err: err})
		}
		created = append(created, e)
	}
	return created, nil
}

// BatchError reports the item that stopped a batch. It unwraps to the
// item's error.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch[%d]: %s", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

func (s *Service) prepare(body request.SendBody) (request.SendRequest, error) {
	req, err := s.normalizer.Normalize(body)
	if err != nil {
		return request.SendRequest{}, err
	}
	if req.Scheduled(s.now()) && len(req.Attachments) > 0 {
		return request.SendRequest{}, email.NewValidationError("attachments cannot be combined with scheduledAt", nil)
	}
	return req, nil
}

func (s *Service) send(ctx context.Context, req request.SendRequest) (*email.Email, error) {
	now := s.now()
	id := s.ids()
	logger := zerolog.Ctx(ctx).With().Str("email_id", id).Logger()

	if req.Scheduled(now) {
		e, err := email.New(id, req.Content, email.Scheduled{Timestamp: now.Unix(), Until: req.ScheduledAt.Unix()}, now)
		if err != nil {
			return nil, err
		}
		created, err := s.store.Create(ctx, e)
		if err != nil {
			return nil, err
		}
		logger.Info().Time("until", *req.ScheduledAt).Msg("email scheduled")
		return created, nil
	}

	externalID, err := s.sender.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	e, err := email.New(id, req.Content, email.Sent{Timestamp: now.Unix()}, now)
	if err != nil {
		return nil, err
	}
	if err := e.SetExternalID(externalID); err != nil {
		return nil, err
	}
	created, err := s.store.Create(ctx, e)
	if err != nil {
		// the provider already has the message; the id is all that is left of it
		logger.Error().Err(err).Str("external_id", externalID).Msg("email sent but not recorded")
		return nil, err
	}
	logger.Info().Str("external_id", externalID).Msg("email sent")
	return created, nil
}

// ListEmails returns one page of emails, newest first.
func (s *Service) ListEmails(ctx context.Context, q request.Query) (store.Page, error) {
	return s.store.List(ctx, store.Filter{
		Status: q.Status,
		Search: q.Search,
		Cursor: q.Cursor,
		Limit:  q.Limit,
	})
}

func (s *Service) GetEmail(ctx context.Context, id string) (*email.Email, error) {
	return s.store.Get(ctx, id)
}

// CancelEmail cancels a scheduled email. Any other status is a conflict.
func (s *Service) CancelEmail(ctx context.Context, id string) (*email.Email, error) {
	return s.pipeline.Cancel(ctx, id)
}

// ReportProviderEvent records a delivery outcome reported by the provider.
func (s *Service) ReportProviderEvent(ctx context.Context, pe ingest.ProviderEvent) error {
	ctx, span := s.tracer.Start(ctx, "service.ReportProviderEvent", trace.WithAttributes(
		attribute.String("event.tag", pe.Tag),
		attribute.String("event.id", pe.EventID),
	))
	defer span.End()

	return record(span, s.pipeline.Report(ctx, pe))
}

func (s *Service) ListIdentities(ctx context.Context) ([]mail.Identity, error) {
	if s.identities == nil {
		return nil, email.NewProviderError("the configured mailer cannot list identities", nil)
	}
	return s.identities.ListIdentities(ctx)
}

// DispatchDue sends every scheduled email whose time has come. Each email is
// sent inside its own store mutation, so a concurrent cancel either wins
// before the send or fails with a conflict after it. It returns how many
// emails were sent; emails the provider refused stay scheduled and are
// retried on the next run. An email the provider accepted is never sent
// again: when recording it fails, later runs only retry the record.
func (s *Service) DispatchDue(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "service.DispatchDue")
	defer span.End()

	logger := zerolog.Ctx(ctx)
	now := s.now()
	sent := 0
	var errs []error

	filter := store.Filter{Status: email.StatusScheduled, Limit: request.MaxLimit}
	for {
		page, err := s.store.List(ctx, filter)
		if err != nil {
			return sent, record(span, err)
		}
		for _, e := range page.Data {
			if until, ok := e.ScheduledUntil(); !ok || until.After(now) {
				continue
			}
			if externalID, ok := s.pending(e.ID); ok {
				recorded, err := s.recordSent(ctx, e.ID, externalID)
				if err != nil {
					logger.Error().Err(err).Str("email_id", e.ID).Msg("sent email still not recorded")
					errs = append(errs, fmt.Errorf("%s: %w", e.ID, err))
					continue
				}
				if recorded {
					sent++
				}
				continue
			}
			dispatched, err := s.dispatch(ctx, e.ID)
			if err != nil {
				logger.Error().Err(err).Str("email_id", e.ID).Msg("scheduled email not sent")
				errs = append(errs, fmt.Errorf("%s: %w", e.ID, err))
				continue
			}
			if dispatched {
				sent++
			}
		}
		if !page.HasMore {
			break
		}
		filter.Cursor = page.NextCursor
	}

	span.SetAttributes(attribute.Int("dispatch.sent", sent))
	if sent > 0 {
		logger.Info().Int("sent", sent).Msg("scheduled emails dispatched")
	}
	return sent, record(span, errors.Join(errs...))
}

// dispatch sends one scheduled email. The provider call runs while the
// email's row is locked and is bounded by the send timeout.
func (s *Service) dispatch(ctx context.Context, id string) (bool, error) {
	accepted := false
	var externalID string
	_, err := s.store.AppendLog(ctx, id, func(e *email.Email) error {
		if e.Status() != email.StatusScheduled {
			return store.ErrNoChange
		}
		sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
		var err error
		externalID, err = s.sender.Send(sendCtx, requestOf(e))
		if err != nil {
			return err
		}
		accepted = true
		return markSent(ctx, e, externalID, s.now())
	})
	if err != nil && accepted {
		s.mu.Lock()
		s.unrecorded[id] = externalID
		s.mu.Unlock()
		zerolog.Ctx(ctx).Error().Err(err).Str("email_id", id).Str("external_id", externalID).
			Msg("email sent but not recorded, it will not be sent again")
	}
	return accepted && err == nil, err
}

func (s *Service) pending(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	externalID, ok := s.unrecorded[id]
	return externalID, ok
}

// recordSent marks an already accepted email as sent without calling the
// provider.
func (s *Service) recordSent(ctx context.Context, id, externalID string) (bool, error) {
	recorded := false
	_, err := s.store.AppendLog(ctx, id, func(e *email.Email) error {
		if e.Status() != email.StatusScheduled {
			return store.ErrNoChange
		}
		recorded = true
		return markSent(ctx, e, externalID, s.now())
	})
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	delete(s.unrecorded, id)
	s.mu.Unlock()
	return recorded, nil
}

// markSent records the provider acceptance. A provider that returns no id
// still sent the message, so the sent entry is appended without one.
func markSent(ctx context.Context, e *email.Email, externalID string, now time.Time) error {
	if externalID == "" {
		zerolog.Ctx(ctx).Warn().Str("email_id", e.ID).Msg("provider returned no message id")
		return e.Append(email.Sent{Timestamp: now.Unix()}, now)
	}
	return ingest.MarkSent(e, externalID, now)
}

// requestOf rebuilds the send request of a stored email.
func requestOf(e *email.Email) request.SendRequest {
	return request.SendRequest{
		Content: email.Content{
			From:     e.From,
			To:       e.To,
			Cc:       e.Cc,
			Bcc:      e.Bcc,
			ReplyTo:  e.ReplyTo,
			Subject:  e.Subject,
			Text:     e.Text,
			HTML:     e.HTML,
			Markdown: e.Markdown,
			Headers:  e.Headers,
			Tags:     e.Tags,
		},
		Attachments: []request.Attachment{},
	}
}

func record(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
