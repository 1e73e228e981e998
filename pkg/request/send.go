// Package request validates raw send and list requests and normalizes them
// into the canonical forms the rest of the system works with.
package request

import (
	"encoding/base64"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/pixelvide/ownmailer/pkg/email"
)

// DefaultGrace is how far in the past a scheduledAt may lie and still be
// accepted.
const DefaultGrace = 60 * time.Second

// SendBody is a send request as received.
type SendBody struct {
	From        string            `json:"from"`
	To          Recipients        `json:"to"`
	Cc          Recipients        `json:"cc,omitempty"`
	Bcc         Recipients        `json:"bcc,omitempty"`
	ReplyTo     Recipients        `json:"replyTo,omitempty"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text,omitempty"`
	HTML        string            `json:"html,omitempty"`
	Markdown    string            `json:"markdown,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Attachments []AttachmentBody  `json:"attachments,omitempty"`
	ScheduledAt *Date             `json:"scheduledAt,omitempty"`
}

type AttachmentBody struct {
	Filename    string            `json:"filename"`
	Content     string            `json:"content"`
	ContentType string            `json:"contentType,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	CID         string            `json:"cid,omitempty"`
	Inline      *bool             `json:"inline,omitempty"`
}

// Attachment is a validated attachment. Exactly one of Data and URL is set.
type Attachment struct {
	Filename    string
	Data        []byte
	URL         string
	ContentType string
	Headers     map[string]string
	CID         string
	Inline      bool
}

// SendRequest is a normalized send request. Every slice and map is non-nil
// and owned by the request.
type SendRequest struct {
	email.Content
	Attachments []Attachment
	ScheduledAt *time.Time
}

// Normalizer turns a SendBody into a SendRequest. The zero value uses the
// wall clock and DefaultGrace.
type Normalizer struct {
	Now   func() time.Time
	Grace time.Duration
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n Normalizer) grace() time.Duration {
	if n.Grace > 0 {
		return n.Grace
	}
	return DefaultGrace
}

// Normalize validates body and returns its canonical form.
func (n Normalizer) Normalize(body SendBody) (SendRequest, error) {
	if strings.TrimSpace(body.From) == "" {
		return SendRequest{}, email.NewValidationError("from is required", nil)
	}
	if len(body.To) == 0 {
		return SendRequest{}, email.NewValidationError("to must contain at least one address", nil)
	}
	if slices.Contains(body.To, "") {
		return SendRequest{}, email.NewValidationError("to contains an empty address", nil)
	}

	req := SendRequest{
		Content: email.Content{
			From:     body.From,
			To:       slices.Clone([]string(body.To)),
			Cc:       list(body.Cc),
			Bcc:      list(body.Bcc),
			ReplyTo:  list(body.ReplyTo),
			Subject:  body.Subject,
			Text:     body.Text,
			HTML:     body.HTML,
			Markdown: body.Markdown,
			Headers:  mapping(body.Headers),
			Tags:     mapping(body.Tags),
		},
		Attachments: make([]Attachment, 0, len(body.Attachments)),
	}

	for i, a := range body.Attachments {
		att, err := normalizeAttachment(a)
		if err != nil {
			return SendRequest{}, email.NewValidationError(fmt.Sprintf("attachments[%d]", i), err)
		}
		req.Attachments = append(req.Attachments, att)
	}

	if body.ScheduledAt != nil {
		at := body.ScheduledAt.Time
		if !at.After(n.now().Add(-n.grace())) {
			return SendRequest{}, email.NewValidationError(
				fmt.Sprintf("scheduledAt %s must be in the future", at.UTC().Format(time.RFC3339)), nil)
		}
		req.ScheduledAt = &at
	}

	return req, nil
}

func normalizeAttachment(a AttachmentBody) (Attachment, error) {
	if a.Filename == "" {
		return Attachment{}, fmt.Errorf("filename is required")
	}
	att := Attachment{
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Headers:     mapping(a.Headers),
		CID:         a.CID,
	}
	if a.Inline != nil {
		att.Inline = *a.Inline
	}

	if data, err := base64.StdEncoding.Strict().DecodeString(a.Content); err == nil && a.Content != "" {
		att.Data = data
		return att, nil
	}
	if u, err := url.Parse(a.Content); err == nil && u.Scheme != "" && u.Host != "" {
		att.URL = a.Content
		return att, nil
	}
	return Attachment{}, fmt.Errorf("content must be base64 or a URL")
}

// Scheduled reports whether the request asks for a send later than now.
func (r SendRequest) Scheduled(now time.Time) bool {
	return r.ScheduledAt != nil && r.ScheduledAt.After(now)
}

func list(r Recipients) []string {
	if r == nil {
		return []string{}
	}
	return slices.Clone([]string(r))
}

func mapping(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}
