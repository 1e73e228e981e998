package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/pixelvide/ownmailer/pkg/request"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// MaxAttachmentSize bounds attachments fetched from a URL.
const MaxAttachmentSize = 10 << 20

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderMarkdown converts a markdown body to HTML.
func RenderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Composer builds provider messages from normalized send requests.
type Composer struct {
	Client *http.Client
}

// NewComposer returns a Composer fetching attachment URLs with a 30s timeout.
func NewComposer() *Composer {
	return &Composer{Client: &http.Client{Timeout: 30 * time.Second}}
}

// Compose renders the markdown body when no HTML body is given and resolves
// every attachment to bytes.
func (c *Composer) Compose(ctx context.Context, req request.SendRequest) (*Message, error) {
	msg := &Message{
		From:        req.From,
		To:          req.To,
		Cc:          req.Cc,
		Bcc:         req.Bcc,
		ReplyTo:     req.ReplyTo,
		Subject:     req.Subject,
		Text:        req.Text,
		HTML:        req.HTML,
		Headers:     req.Headers,
		Tags:        req.Tags,
		Attachments: make([]Attachment, 0, len(req.Attachments)),
	}

	if msg.HTML == "" && req.Markdown != "" {
		rendered, err := RenderMarkdown(req.Markdown)
		if err != nil {
			return nil, email.NewValidationError("render markdown body", err)
		}
		msg.HTML = rendered
		if msg.Text == "" {
			msg.Text = req.Markdown
		}
	}

	for i, a := range req.Attachments {
		content := a.Data
		if a.URL != "" {
			fetched, err := c.fetch(ctx, a.URL)
			if err != nil {
				return nil, email.NewValidationError(fmt.Sprintf("attachments[%d]: fetch %s", i, a.URL), err)
			}
			content = fetched
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename:    a.Filename,
			Content:     content,
			ContentType: a.ContentType,
			Headers:     a.Headers,
			CID:         a.CID,
			Inline:      a.Inline,
		})
	}
	return msg, nil
}

func (c *Composer) fetch(ctx context.Context, url string) ([]byte, error) {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxAttachmentSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxAttachmentSize {
		return nil, fmt.Errorf("attachment larger than %d bytes", MaxAttachmentSize)
	}
	return data, nil
}
