// Package ingest turns internal actions and provider callbacks into log
// entries and applies them to stored emails.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pixelvide/ownmailer/pkg/cache"
	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/pixelvide/ownmailer/pkg/store"
	"github.com/rs/zerolog"
)

// ExternalIDTTL is how long an external id to email id resolution is cached.
const ExternalIDTTL = 24 * time.Hour

// ProviderEvent is a delivery outcome reported by the sending provider. The
// email is addressed by EmailID or, when that is empty, by ExternalID.
type ProviderEvent struct {
	EmailID    string
	ExternalID string
	Tag        string
	// EventID is the provider's id for this notification. Events carrying an
	// id already present in the log are dropped.
	EventID string
	Payload json.RawMessage
	// Timestamp is nil when the provider document carries no time; the
	// event is then stamped with the clock when it is reported.
	Timestamp *int64
}

// At returns a pointer to ts for ProviderEvent.Timestamp.
func At(ts int64) *int64 {
	return &ts
}

// Pipeline appends lifecycle events to stored emails.
type Pipeline struct {
	store store.Store
	cache cache.Store
	now   func() time.Time
}

// NewPipeline creates a Pipeline. c may be nil to resolve external ids from
// the store every time.
func NewPipeline(s store.Store, c cache.Store, now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{store: s, cache: c, now: now}
}

func (p *Pipeline) append(ctx context.Context, id string, ev email.Event) (*email.Email, error) {
	return p.store.AppendLog(ctx, id, func(e *email.Email) error {
		return e.Append(ev, p.now())
	})
}

// Schedule records that the email is to be sent at until.
func (p *Pipeline) Schedule(ctx context.Context, id string, until time.Time) (*email.Email, error) {
	return p.append(ctx, id, email.Scheduled{Timestamp: p.now().Unix(), Until: until.Unix()})
}

// Cancel cancels a scheduled email. Any other status is a conflict.
func (p *Pipeline) Cancel(ctx context.Context, id string) (*email.Email, error) {
	e, err := p.append(ctx, id, email.Cancelled{Timestamp: p.now().Unix()})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("email_id", id).Msg("email cancelled")
	return e, nil
}

// MarkSent records the provider accepting the email under externalID.
func (p *Pipeline) MarkSent(ctx context.Context, id string, externalID string) (*email.Email, error) {
	return p.store.AppendLog(ctx, id, func(e *email.Email) error {
		return MarkSent(e, externalID, p.now())
	})
}

// MarkSent applies a provider acceptance to e in place. It is meant to run
// inside a store mutation.
func MarkSent(e *email.Email, externalID string, now time.Time) error {
	if err := e.SetExternalID(externalID); err != nil {
		return err
	}
	return e.Append(email.Sent{Timestamp: now.Unix()}, now)
}

// Report applies a provider event. Unknown tags are rejected before the
// store is touched.
func (p *Pipeline) Report(ctx context.Context, pe ProviderEvent) error {
	logger := zerolog.Ctx(ctx).With().
		Str("tag", pe.Tag).
		Str("external_id", pe.ExternalID).
		Str("event_id", pe.EventID).
		Logger()

	typ, err := Classify(pe.Tag)
	if err != nil {
		return err
	}
	ts := p.now().Unix()
	if pe.Timestamp != nil {
		ts = *pe.Timestamp
	}
	ev, err := email.NewOutcome(typ, ts, pe.EventID, pe.Payload)
	if err != nil {
		return err
	}

	id, err := p.resolve(ctx, pe)
	if err != nil {
		return err
	}

	duplicate := false
	e, err := p.store.AppendLog(ctx, id, func(e *email.Email) error {
		if e.HasEvent(pe.EventID) {
			duplicate = true
			return store.ErrNoChange
		}
		return e.Append(ev, p.now())
	})
	if err != nil {
		return err
	}

	if duplicate {
		logger.Debug().Str("email_id", id).Msg("duplicate provider event dropped")
		return nil
	}
	logger.Info().
		Str("email_id", id).
		Str("event_type", string(typ)).
		Str("status", string(e.Status())).
		Msg("provider event recorded")
	return nil
}

func (p *Pipeline) resolve(ctx context.Context, pe ProviderEvent) (string, error) {
	if pe.EmailID != "" {
		return pe.EmailID, nil
	}
	if pe.ExternalID == "" {
		return "", email.NewValidationError("provider event names no email", nil)
	}

	lookup := func() (string, error) {
		e, err := p.store.GetByExternalID(ctx, pe.ExternalID)
		if err != nil {
			return "", err
		}
		return e.ID, nil
	}
	if p.cache == nil {
		return lookup()
	}

	return cache.Remember(ctx, p.cache, "external_id:"+pe.ExternalID, ExternalIDTTL, lookup)
}
