// Package notification decodes delivery notifications published by the
// sending providers into provider events.
//
// SES publishes events to an SNS topic, which either calls the webhook
// directly or fans out to an SQS queue. Both paths carry the same SNS
// envelope around the SES event document. Resend posts its own webhook
// documents.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/pixelvide/ownmailer/pkg/ingest"
)

const (
	TypeNotification             = "Notification"
	TypeSubscriptionConfirmation = "SubscriptionConfirmation"
	TypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// snsHost matches the regional SNS endpoints, including the China regions.
var snsHost = regexp.MustCompile(`^sns\.[a-z0-9-]+\.amazonaws\.com(\.cn)?$`)

// CheckSubscribeURL accepts only https URLs on a regional SNS endpoint.
func CheckSubscribeURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return email.NewValidationError("invalid SubscribeURL", err)
	}
	if u.Scheme != "https" || u.User != nil || u.Port() != "" || !snsHost.MatchString(u.Hostname()) {
		return email.NewValidationError(fmt.Sprintf("SubscribeURL host %q is not an SNS endpoint", u.Host), nil)
	}
	return nil
}

// Envelope is the SNS message wrapper.
type Envelope struct {
	Type         string    `json:"Type"`
	MessageId    string    `json:"MessageId"`
	TopicArn     string    `json:"TopicArn"`
	Subject      string    `json:"Subject,omitempty"`
	Message      string    `json:"Message"`
	Timestamp    time.Time `json:"Timestamp"`
	SubscribeURL string    `json:"SubscribeURL,omitempty"`
	Token        string    `json:"Token,omitempty"`
}

// SESEvent is an SES event publishing document. Configuration sets fill
// EventType; the older identity notifications fill NotificationType.
type SESEvent struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             Mail   `json:"mail"`

	raw map[string]json.RawMessage
}

type Mail struct {
	Timestamp   string              `json:"timestamp"`
	Source      string              `json:"source"`
	MessageId   string              `json:"messageId"`
	Destination []string            `json:"destination"`
	Tags        map[string][]string `json:"tags,omitempty"`
}

// detailKeys names the object holding the details of each SES event type.
var detailKeys = map[string]string{
	"Bounce":            "bounce",
	"Complaint":         "complaint",
	"Delivery":          "delivery",
	"DeliveryDelay":     "deliveryDelay",
	"Reject":            "reject",
	"Open":              "open",
	"Click":             "click",
	"Subscription":      "subscription",
	"Send":              "send",
	"Rendering Failure": "failure",
}

// IgnoredSESTypes carry nothing the lifecycle tracks: the send is
// already recorded when the provider accepts the message.
var IgnoredSESTypes = map[string]bool{
	"Send":              true,
	"Rendering Failure": true,
}

func (e *SESEvent) UnmarshalJSON(data []byte) error {
	type plain SESEvent
	if err := json.Unmarshal(data, (*plain)(e)); err != nil {
		return err
	}
	return json.Unmarshal(data, &e.raw)
}

// Type returns the event type whichever field carries it.
func (e *SESEvent) Type() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.NotificationType
}

// Detail returns the per-type object verbatim, or an empty object when the
// document has none.
func (e *SESEvent) Detail() json.RawMessage {
	if raw, ok := e.raw[detailKeys[e.Type()]]; ok && len(raw) > 0 {
		return raw
	}
	return json.RawMessage(`{}`)
}

// Time returns the timestamp of the per-type object, falling back to the
// send time of the message.
func (e *SESEvent) Time() (time.Time, bool) {
	var detail struct {
		Timestamp string `json:"timestamp"`
	}
	_ = json.Unmarshal(e.Detail(), &detail)
	for _, ts := range []string{detail.Timestamp, e.Mail.Timestamp} {
		if ts == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Decoded is the outcome of decoding one notification. Exactly one of
// Confirmation and Event is set unless the notification is ignored.
type Decoded struct {
	Confirmation *Envelope
	Event        *ingest.ProviderEvent
}

// Ignored reports whether the notification carries nothing to act on.
func (d Decoded) Ignored() bool {
	return d.Confirmation == nil && d.Event == nil
}

// DecodeSNS decodes an SNS envelope. Notifications are decoded into a
// provider event whose EventID is the SNS message id.
func DecodeSNS(body []byte) (Decoded, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Decoded{}, email.NewValidationError("malformed SNS message", err)
	}

	switch env.Type {
	case TypeSubscriptionConfirmation:
		if env.SubscribeURL == "" {
			return Decoded{}, email.NewValidationError("subscription confirmation without SubscribeURL", nil)
		}
		if err := CheckSubscribeURL(env.SubscribeURL); err != nil {
			return Decoded{}, err
		}
		return Decoded{Confirmation: &env}, nil
	case TypeUnsubscribeConfirmation:
		return Decoded{}, nil
	case TypeNotification:
		ev, err := DecodeSES([]byte(env.Message), env.MessageId)
		if err != nil || ev == nil {
			return Decoded{}, err
		}
		if ev.Timestamp == nil && !env.Timestamp.IsZero() {
			ev.Timestamp = ingest.At(env.Timestamp.Unix())
		}
		return Decoded{Event: ev}, nil
	default:
		return Decoded{}, email.NewValidationError(fmt.Sprintf("unsupported SNS message type %q", env.Type), nil)
	}
}

// DecodeSES decodes a bare SES event document, as delivered by SQS with raw
// message delivery enabled. It returns nil for ignored event types.
func DecodeSES(body []byte, eventID string) (*ingest.ProviderEvent, error) {
	var ev SESEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, email.NewValidationError("malformed SES event", err)
	}
	if ev.Type() == "" {
		return nil, email.NewValidationError("SES event without eventType", nil)
	}
	if IgnoredSESTypes[ev.Type()] {
		return nil, nil
	}
	if ev.Mail.MessageId == "" {
		return nil, email.NewValidationError("SES event without mail.messageId", nil)
	}

	pe := &ingest.ProviderEvent{
		ExternalID: ev.Mail.MessageId,
		Tag:        ev.Type(),
		EventID:    eventID,
		Payload:    ev.Detail(),
	}
	if t, ok := ev.Time(); ok {
		pe.Timestamp = ingest.At(t.Unix())
	}
	return pe, nil
}

// ResendEvent is a Resend webhook document.
type ResendEvent struct {
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// Resend webhook types with no lifecycle counterpart.
var resendIgnored = map[string]bool{
	"email.sent":      true,
	"email.scheduled": true,
	"email.failed":    true,
}

// DecodeResend decodes a Resend webhook body. eventID is the svix-id header
// of the delivery. It returns nil for ignored event types.
func DecodeResend(body []byte, eventID string) (*ingest.ProviderEvent, error) {
	var ev ResendEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, email.NewValidationError("malformed Resend event", err)
	}
	if resendIgnored[ev.Type] {
		return nil, nil
	}
	var data struct {
		EmailID string `json:"email_id"`
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil || data.EmailID == "" {
		return nil, email.NewValidationError("Resend event without data.email_id", err)
	}

	pe := &ingest.ProviderEvent{
		ExternalID: data.EmailID,
		Tag:        ev.Type,
		EventID:    eventID,
		Payload:    ev.Data,
	}
	if !ev.CreatedAt.IsZero() {
		pe.Timestamp = ingest.At(ev.CreatedAt.Unix())
	}
	return pe, nil
}

// Confirm visits the SubscribeURL of a subscription confirmation. URLs
// outside SNS are refused without a request.
func Confirm(ctx context.Context, client *http.Client, env *Envelope) error {
	if err := CheckSubscribeURL(env.SubscribeURL); err != nil {
		return err
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.SubscribeURL, nil)
	if err != nil {
		return email.NewValidationError("invalid SubscribeURL", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return email.NewProviderError("confirm SNS subscription", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return email.NewProviderError(fmt.Sprintf("confirm SNS subscription: unexpected status %s", resp.Status), nil)
	}
	return nil
}
