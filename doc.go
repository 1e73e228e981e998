// Package ownmailer is a self-hosted email service. It sends mail through a
// configured provider (SES, Resend, Mailgun, SMTP or a log), keeps an
// append-only log of everything that happens to each email, and derives the
// email's status from that log.
//
// Key subpackages:
//
//	github.com/pixelvide/ownmailer/pkg/email        - Email record, event log and status rules
//	github.com/pixelvide/ownmailer/pkg/request      - Send and list request validation
//	github.com/pixelvide/ownmailer/pkg/store        - Email stores (memory, SQL)
//	github.com/pixelvide/ownmailer/pkg/ingest       - Applies internal and provider events
//	github.com/pixelvide/ownmailer/pkg/service      - Send, list, cancel and dispatch operations
//	github.com/pixelvide/ownmailer/pkg/notification - SES/SNS and Resend webhook decoding
//	github.com/pixelvide/ownmailer/pkg/api          - HTTP API and webhooks
//	github.com/pixelvide/ownmailer/pkg/queue        - Job envelopes, publisher and handler registry
//	github.com/pixelvide/ownmailer/pkg/worker       - Worker pool for queued provider events
//	github.com/pixelvide/ownmailer/pkg/schedule     - Cron kernel with distributed locks
//	github.com/pixelvide/ownmailer/pkg/driver       - Queue drivers (redis, database, sqs)
//	github.com/pixelvide/ownmailer/pkg/config       - Configuration from the environment
//
// Example usage:
//
//	s := store.NewMemoryStore()
//	p := ingest.NewPipeline(s, cache.NewMemoryStore(), nil)
//	svc := service.New(s, p, mail.NewSender(mail.NewLogMailer(cfg.Mail)), service.Options{})
//	e, err := svc.SendEmail(ctx, request.SendBody{
//		From:    "hello@example.com",
//		To:      request.Recipients{"bob@example.com"},
//		Subject: "Hi",
//		Text:    "hello",
//	})
package ownmailer
