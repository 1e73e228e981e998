// Package api serves the HTTP interface: the email operations for API
// clients and the webhooks providers report delivery outcomes to.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/pixelvide/ownmailer/pkg/mail"
	"github.com/pixelvide/ownmailer/pkg/request"
	"github.com/pixelvide/ownmailer/pkg/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Service is what the handlers need from the service layer.
type Service interface {
	SendEmail(ctx context.Context, body request.SendBody) (*email.Email, error)
	SendEmailBatch(ctx context.Context, bodies []request.SendBody) ([]*email.Email, error)
	ListEmails(ctx context.Context, q request.Query) (store.Page, error)
	GetEmail(ctx context.Context, id string) (*email.Email, error)
	CancelEmail(ctx context.Context, id string) (*email.Email, error)
	ListIdentities(ctx context.Context) ([]mail.Identity, error)
	HandleSNS(ctx context.Context, body []byte) error
	HandleResend(ctx context.Context, body []byte, deliveryID string) error
}

// Publisher queues webhook bodies for a worker.
type Publisher interface {
	Dispatch(ctx context.Context, queueName string, source string, data any) (string, error)
}

// Handler holds all API handler state.
type Handler struct {
	svc          Service
	apiKey       string
	webhookToken string

	// publisher is nil when webhooks are handled in the request.
	publisher Publisher
	queueName string
}

// Options configures a Handler.
type Options struct {
	APIKey       string
	WebhookToken string
	Publisher    Publisher
	QueueName    string
}

// NewHandler creates a new API handler.
func NewHandler(svc Service, opts Options) *Handler {
	return &Handler{
		svc:          svc,
		apiKey:       opts.APIKey,
		webhookToken: opts.WebhookToken,
		publisher:    opts.Publisher,
		queueName:    opts.QueueName,
	}
}

// NewRouter returns a router with the common middleware and every route
// mounted.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLog)
	r.Use(chimw.Recoverer)
	h.Routes(r)
	return r
}

// Routes mounts the API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.bearerAuth)

			r.Route("/emails", func(r chi.Router) {
				r.Post("/", h.SendEmail)
				r.Post("/batch", h.SendEmailBatch)
				r.Get("/", h.ListEmails)
				r.Get("/{id}", h.GetEmail)
				r.Post("/{id}/cancel", h.CancelEmail)
			})
			r.Get("/identities", h.ListIdentities)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Use(h.webhookAuth)
			r.Post("/ses", h.SESWebhook)
			r.Post("/resend", h.ResendWebhook)
		})
	})
}

// bearerAuth checks the Authorization header against the API key.
func (h *Handler) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if auth == "" || token == auth || !equal(token, h.apiKey) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// webhookAuth checks the token query parameter. Webhooks are open when no
// token is configured.
func (h *Handler) webhookAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.webhookToken != "" && !equal(r.URL.Query().Get("token"), h.webhookToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid webhook token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requestLog puts a request scoped logger in the context and logs each
// request once it is served.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := log.Logger.With().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))

		var ev *zerolog.Event
		if ww.Status() >= http.StatusInternalServerError {
			ev = logger.Error()
		} else {
			ev = logger.Debug()
		}
		ev.Int("status", ww.Status()).Dur("took", time.Since(start)).Msg("request served")
	})
}
