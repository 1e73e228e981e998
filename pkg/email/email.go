// Package email holds the outbound email entity, its append-only lifecycle
// log and the state machine that derives the email status from that log.
package email

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"
)

// Content is the message part of an Email, as accepted from a send request.
type Content struct {
	From     string
	To       []string
	Cc       []string
	Bcc      []string
	ReplyTo  []string
	Subject  string
	Text     string
	HTML     string
	Markdown string
	Headers  map[string]string
	Tags     map[string]string
}

// Email is a single outbound message. Its status is never stored on its own:
// it is recomputed every time an event is appended to the log.
type Email struct {
	ID         string
	ExternalID string
	CreatedAt  time.Time
	UpdatedAt  time.Time

	From    string
	To      []string
	Cc      []string
	Bcc     []string
	ReplyTo []string

	Subject  string
	Text     string
	HTML     string
	Markdown string

	Headers map[string]string
	Tags    map[string]string

	logs   Log
	status Status
}

// New creates an Email whose log starts with first.
func New(id string, c Content, first Event, now time.Time) (*Email, error) {
	if id == "" {
		return nil, NewValidationError("email id is required", nil)
	}
	if len(c.To) == 0 {
		return nil, NewValidationError("to must contain at least one address", nil)
	}
	e := &Email{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		From:      c.From,
		To:        slices.Clone(c.To),
		Cc:        nonNil(c.Cc),
		Bcc:       nonNil(c.Bcc),
		ReplyTo:   nonNil(c.ReplyTo),
		Subject:   c.Subject,
		Text:      c.Text,
		HTML:      c.HTML,
		Markdown:  c.Markdown,
		Headers:   nonNilMap(c.Headers),
		Tags:      nonNilMap(c.Tags),
	}
	if err := e.Append(first, now); err != nil {
		return nil, err
	}
	return e, nil
}

// Status returns the status derived from the log.
func (e *Email) Status() Status {
	return e.status
}

// Logs returns a copy of the log.
func (e *Email) Logs() Log {
	return slices.Clone(e.logs)
}

// Append applies ev to the current status and records it. When the state
// machine refuses the event the email is left untouched.
func (e *Email) Append(ev Event, now time.Time) error {
	next, err := Apply(e.status, ev)
	if err != nil {
		return err
	}
	e.logs = append(e.logs, ev)
	e.status = next
	e.UpdatedAt = now
	return nil
}

// HasEvent reports whether a provider event with the given id is already
// recorded.
func (e *Email) HasEvent(id string) bool {
	if id == "" {
		return false
	}
	for _, ev := range e.logs {
		if eventID(ev) == id {
			return true
		}
	}
	return false
}

// ScheduledUntil returns the send time of the latest scheduled event.
func (e *Email) ScheduledUntil() (time.Time, bool) {
	for i := len(e.logs) - 1; i >= 0; i-- {
		if s, ok := e.logs[i].(Scheduled); ok {
			return time.Unix(s.Until, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

// SetExternalID records the provider identifier. It can be set only once.
func (e *Email) SetExternalID(id string) error {
	if id == "" {
		return NewValidationError("external id must not be empty", nil)
	}
	if e.ExternalID != "" && e.ExternalID != id {
		return NewConflictError("email "+e.ID+" already has external id "+e.ExternalID, nil)
	}
	e.ExternalID = id
	return nil
}

// Matches reports whether the email contains term in its id, sender,
// recipients or subject, ignoring case.
func (e *Email) Matches(term string) bool {
	if term == "" {
		return true
	}
	term = strings.ToLower(term)
	fields := []string{e.ID, e.From, e.Subject}
	fields = append(fields, e.To...)
	fields = append(fields, e.Cc...)
	fields = append(fields, e.Bcc...)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (e *Email) Clone() *Email {
	c := *e
	c.To = slices.Clone(e.To)
	c.Cc = slices.Clone(e.Cc)
	c.Bcc = slices.Clone(e.Bcc)
	c.ReplyTo = slices.Clone(e.ReplyTo)
	c.Headers = maps.Clone(e.Headers)
	c.Tags = maps.Clone(e.Tags)
	c.logs = slices.Clone(e.logs)
	return &c
}

type emailJSON struct {
	ID         string            `json:"id"`
	ExternalID string            `json:"externalId,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	From       string            `json:"from"`
	To         []string          `json:"to"`
	Cc         []string          `json:"cc"`
	Bcc        []string          `json:"bcc"`
	ReplyTo    []string          `json:"replyTo"`
	Subject    string            `json:"subject"`
	Text       string            `json:"text,omitempty"`
	HTML       string            `json:"html,omitempty"`
	Markdown   string            `json:"markdown,omitempty"`
	Headers    map[string]string `json:"headers"`
	Tags       map[string]string `json:"tags"`
	Logs       Log               `json:"logs"`
	Status     Status            `json:"status"`
}

func (e *Email) MarshalJSON() ([]byte, error) {
	return json.Marshal(emailJSON{
		ID:         e.ID,
		ExternalID: e.ExternalID,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
		From:       e.From,
		To:         e.To,
		Cc:         nonNil(e.Cc),
		Bcc:        nonNil(e.Bcc),
		ReplyTo:    nonNil(e.ReplyTo),
		Subject:    e.Subject,
		Text:       e.Text,
		HTML:       e.HTML,
		Markdown:   e.Markdown,
		Headers:    nonNilMap(e.Headers),
		Tags:       nonNilMap(e.Tags),
		Logs:       e.logs,
		Status:     e.status,
	})
}

// UnmarshalJSON restores an Email and recomputes its status from the log.
// Any status present in data is ignored.
func (e *Email) UnmarshalJSON(data []byte) error {
	var in emailJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if len(in.To) == 0 {
		return NewValidationError("email "+in.ID+": to must contain at least one address", nil)
	}
	if len(in.Logs) == 0 {
		return NewValidationError("email "+in.ID+": log is empty", nil)
	}
	status, err := Fold(in.Logs)
	if err != nil {
		return NewValidationError("email "+in.ID+": inconsistent log", err)
	}
	*e = Email{
		ID:         in.ID,
		ExternalID: in.ExternalID,
		CreatedAt:  in.CreatedAt,
		UpdatedAt:  in.UpdatedAt,
		From:       in.From,
		To:         in.To,
		Cc:         nonNil(in.Cc),
		Bcc:        nonNil(in.Bcc),
		ReplyTo:    nonNil(in.ReplyTo),
		Subject:    in.Subject,
		Text:       in.Text,
		HTML:       in.HTML,
		Markdown:   in.Markdown,
		Headers:    nonNilMap(in.Headers),
		Tags:       nonNilMap(in.Tags),
		logs:       in.Logs,
		status:     status,
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}
