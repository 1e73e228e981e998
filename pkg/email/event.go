package email

import (
	"encoding/json"
	"fmt"
)

// EventType is the discriminator of a lifecycle event.
type EventType string

const (
	EventScheduled    EventType = "scheduled"
	EventCancelled    EventType = "cancelled"
	EventRejected     EventType = "rejected"
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventDelayed      EventType = "delayed"
	EventBounced      EventType = "bounced"
	EventComplained   EventType = "complained"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventUnsubscribed EventType = "unsubscribed"
)

// Event is one immutable entry of an Email's log. The set of implementations
// is closed: only the eleven types declared in this file satisfy it.
type Event interface {
	Type() EventType
	Time() int64
	isEvent()
}

// Scheduled records a deferred send that should execute at Until.
type Scheduled struct {
	Timestamp int64
	Until     int64
}

// Cancelled records the cancellation of a scheduled send.
type Cancelled struct {
	Timestamp int64
}

// Sent records the provider accepting the message.
type Sent struct {
	Timestamp int64
}

// Outcome is the shared shape of every provider-reported event. External is
// the provider payload recorded verbatim. EventID is the provider's own
// identifier for the notification, used to drop redelivered callbacks.
type Outcome struct {
	Timestamp int64
	EventID   string
	External  json.RawMessage
}

type (
	Rejected     struct{ Outcome }
	Delivered    struct{ Outcome }
	Delayed      struct{ Outcome }
	Bounced      struct{ Outcome }
	Complained   struct{ Outcome }
	Opened       struct{ Outcome }
	Clicked      struct{ Outcome }
	Unsubscribed struct{ Outcome }
)

func (e Scheduled) Type() EventType    { return EventScheduled }
func (e Cancelled) Type() EventType    { return EventCancelled }
func (e Sent) Type() EventType         { return EventSent }
func (e Rejected) Type() EventType     { return EventRejected }
func (e Delivered) Type() EventType    { return EventDelivered }
func (e Delayed) Type() EventType      { return EventDelayed }
func (e Bounced) Type() EventType      { return EventBounced }
func (e Complained) Type() EventType   { return EventComplained }
func (e Opened) Type() EventType       { return EventOpened }
func (e Clicked) Type() EventType      { return EventClicked }
func (e Unsubscribed) Type() EventType { return EventUnsubscribed }

func (e Scheduled) Time() int64 { return e.Timestamp }
func (e Cancelled) Time() int64 { return e.Timestamp }
func (e Sent) Time() int64      { return e.Timestamp }
func (o Outcome) Time() int64   { return o.Timestamp }

func (Scheduled) isEvent() {}
func (Cancelled) isEvent() {}
func (Sent) isEvent()      {}
func (Outcome) isEvent()   {}

// Status returns the status an event of type t stands for.
func (t EventType) Status() Status {
	return Status(t)
}

// IsOutcome reports whether t is reported by the provider and carries an
// external payload.
func (t EventType) IsOutcome() bool {
	switch t {
	case EventRejected, EventDelivered, EventDelayed, EventBounced,
		EventComplained, EventOpened, EventClicked, EventUnsubscribed:
		return true
	}
	return false
}

// NewOutcome builds the provider-reported variant for t.
func NewOutcome(t EventType, timestamp int64, eventID string, external json.RawMessage) (Event, error) {
	if timestamp < 0 {
		return nil, NewValidationError("event timestamp must be non-negative", nil)
	}
	if len(external) == 0 {
		external = json.RawMessage("{}")
	}
	o := Outcome{Timestamp: timestamp, EventID: eventID, External: external}
	switch t {
	case EventRejected:
		return Rejected{o}, nil
	case EventDelivered:
		return Delivered{o}, nil
	case EventDelayed:
		return Delayed{o}, nil
	case EventBounced:
		return Bounced{o}, nil
	case EventComplained:
		return Complained{o}, nil
	case EventOpened:
		return Opened{o}, nil
	case EventClicked:
		return Clicked{o}, nil
	case EventUnsubscribed:
		return Unsubscribed{o}, nil
	}
	return nil, NewValidationError(fmt.Sprintf("%q is not a provider event type", t), nil)
}

// eventID returns the provider event id of ev, if it has one.
func eventID(ev Event) string {
	if o, ok := ev.(interface{ outcome() Outcome }); ok {
		return o.outcome().EventID
	}
	return ""
}

func (o Outcome) outcome() Outcome { return o }

// Log is the ordered, append-only history of an Email.
type Log []Event

type eventJSON struct {
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Until     *int64          `json:"until,omitempty"`
	EventID   string          `json:"eventId,omitempty"`
	External  json.RawMessage `json:"external,omitempty"`
}

func toJSON(ev Event) eventJSON {
	out := eventJSON{Type: ev.Type(), Timestamp: ev.Time()}
	switch e := ev.(type) {
	case Scheduled:
		until := e.Until
		out.Until = &until
	case interface{ outcome() Outcome }:
		o := e.outcome()
		out.EventID = o.EventID
		out.External = o.External
	}
	return out
}

func fromJSON(in eventJSON) (Event, error) {
	if in.Timestamp < 0 {
		return nil, fmt.Errorf("%s event: negative timestamp", in.Type)
	}
	switch in.Type {
	case EventScheduled:
		if in.Until == nil || *in.Until < 0 {
			return nil, fmt.Errorf("scheduled event: missing or negative until")
		}
		return Scheduled{Timestamp: in.Timestamp, Until: *in.Until}, nil
	case EventCancelled:
		return Cancelled{Timestamp: in.Timestamp}, nil
	case EventSent:
		return Sent{Timestamp: in.Timestamp}, nil
	}
	if !in.Type.IsOutcome() {
		return nil, fmt.Errorf("unknown event type %q", in.Type)
	}
	if len(in.External) == 0 {
		return nil, fmt.Errorf("%s event: missing external payload", in.Type)
	}
	return NewOutcome(in.Type, in.Timestamp, in.EventID, in.External)
}

func (l Log) MarshalJSON() ([]byte, error) {
	out := make([]eventJSON, len(l))
	for i, ev := range l {
		out[i] = toJSON(ev)
	}
	return json.Marshal(out)
}

func (l *Log) UnmarshalJSON(data []byte) error {
	var raw []eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	events := make(Log, 0, len(raw))
	for i, r := range raw {
		ev, err := fromJSON(r)
		if err != nil {
			return fmt.Errorf("log entry %d: %w", i, err)
		}
		events = append(events, ev)
	}
	*l = events
	return nil
}
