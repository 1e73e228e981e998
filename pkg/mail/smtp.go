package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pixelvide/ownmailer/pkg/config"
	"github.com/pixelvide/ownmailer/pkg/email"
)

// SMTPMailer implements Mailer using net/smtp
type SMTPMailer struct {
	cfg config.MailConfig
	now func() time.Time
}

// NewSMTPMailer creates a new SMTPMailer
func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, now: time.Now}
}

// Send sends the given message using SMTP. The returned id is the
// Message-ID header generated for it.
func (m *SMTPMailer) Send(ctx context.Context, msg *Message) (string, error) {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	defaultFrom(m.cfg, msg)

	fromAddr, err := parseEmailAddress(msg.From)
	if err != nil {
		return "", email.NewValidationError("invalid from address", err)
	}

	id := messageID(fromAddr)
	body, err := buildEmailBody(msg, id, m.now())
	if err != nil {
		return "", email.NewProviderError("build email body", err)
	}

	// Determine authentication
	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	recipients := allRecipients(msg)

	// Handle Implicit TLS (usually port 465)
	if m.cfg.Encryption == "ssl" || m.cfg.Port == 465 {
		err = m.sendWithImplicitTLS(ctx, addr, auth, fromAddr, recipients, body)
	} else {
		// smtp.SendMail handles STARTTLS automatically if the server supports it
		err = smtp.SendMail(addr, auth, fromAddr, recipients, body)
	}
	if err != nil {
		return "", email.NewProviderError("smtp send", err)
	}
	return id, nil
}

func (m *SMTPMailer) sendWithImplicitTLS(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	dialer := &tls.Dialer{Config: &tls.Config{ServerName: m.cfg.Host}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial TLS: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() {
		_ = client.Quit()
	}()

	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err = client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}

	for _, t := range to {
		if err = client.Rcpt(t); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", t, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to get data writer: %w", err)
	}

	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err = w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}

	return nil
}

func messageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

func sanitize(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r", ""), "\n", "")
}

// buildEmailBody renders msg as a MIME document. Text and HTML become a
// multipart/alternative part; attachments wrap it in multipart/mixed.
func buildEmailBody(msg *Message, id string, date time.Time) ([]byte, error) {
	var buf bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, sanitize(v))
	}

	header("From", msg.From)
	header("To", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		header("Cc", strings.Join(msg.Cc, ", "))
	}
	if len(msg.ReplyTo) > 0 {
		header("Reply-To", strings.Join(msg.ReplyTo, ", "))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", sanitize(msg.Subject)))
	header("Date", date.Format(time.RFC1123Z))
	header("Message-ID", id)
	header("MIME-Version", "1.0")

	for _, k := range sortedKeys(msg.Headers) {
		header(k, msg.Headers[k])
	}

	if len(msg.Attachments) == 0 {
		if err := writeBody(&buf, msg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mixed := multipart.NewWriter(&buf)
	header("Content-Type", "multipart/mixed; boundary="+mixed.Boundary())
	buf.WriteString("\r\n")

	var body bytes.Buffer
	if err := writeBody(&body, msg); err != nil {
		return nil, err
	}
	bodyHeader, content, _ := bytes.Cut(body.Bytes(), []byte("\r\n\r\n"))
	part, err := mixed.CreatePart(parseHeader(bodyHeader))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}

	for _, a := range msg.Attachments {
		if err := writeAttachment(mixed, a); err != nil {
			return nil, err
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBody writes the Content-Type header, a blank line and the body.
func writeBody(buf *bytes.Buffer, msg *Message) error {
	switch {
	case msg.Text != "" && msg.HTML != "":
		alt := multipart.NewWriter(buf)
		fmt.Fprintf(buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", alt.Boundary())
		for _, p := range []struct{ typ, body string }{{"text/plain", msg.Text}, {"text/html", msg.HTML}} {
			w, err := alt.CreatePart(textproto.MIMEHeader{"Content-Type": {p.typ + "; charset=UTF-8"}})
			if err != nil {
				return err
			}
			if _, err := w.Write([]byte(p.body)); err != nil {
				return err
			}
		}
		return alt.Close()
	case msg.HTML != "":
		fmt.Fprintf(buf, "Content-Type: text/html; charset=UTF-8\r\n\r\n%s", msg.HTML)
	default:
		fmt.Fprintf(buf, "Content-Type: text/plain; charset=UTF-8\r\n\r\n%s", msg.Text)
	}
	return nil
}

func parseHeader(raw []byte) textproto.MIMEHeader {
	h := textproto.MIMEHeader{}
	for _, line := range strings.Split(string(raw), "\r\n") {
		if k, v, ok := strings.Cut(line, ": "); ok {
			h.Add(k, v)
		}
	}
	return h
}

func writeAttachment(w *multipart.Writer, a Attachment) error {
	contentType := a.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(a.Filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := "attachment"
	if a.Inline {
		disposition = "inline"
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": a.Filename}))
	if a.CID != "" {
		h.Set("Content-ID", "<"+a.CID+">")
	}
	for k, v := range a.Headers {
		h.Set(k, sanitize(v))
	}

	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(a.Content)
	for len(encoded) > 76 {
		if _, err := fmt.Fprintf(part, "%s\r\n", encoded[:76]); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = fmt.Fprintf(part, "%s\r\n", encoded)
	return err
}

// parseEmailAddress extracts the address part using net/mail
func parseEmailAddress(input string) (string, error) {
	addr, err := mail.ParseAddress(input)
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}
