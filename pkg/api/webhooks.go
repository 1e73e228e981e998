package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/pixelvide/ownmailer/pkg/queue"
	"github.com/pixelvide/ownmailer/pkg/service"
	"github.com/rs/zerolog"
)

const maxWebhookBytes = 1 << 20

func readWebhook(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		return nil, email.NewValidationError("unreadable webhook body", err)
	}
	if !json.Valid(body) {
		return nil, email.NewValidationError("webhook body is not JSON", nil)
	}
	return body, nil
}

// SESWebhook handles POST /api/webhooks/ses, the HTTPS endpoint of an SNS
// subscription. SNS posts with a text/plain content type.
func (h *Handler) SESWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readWebhook(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	if h.publisher != nil {
		h.enqueue(w, r, queue.SourceSNS, body)
		return
	}
	if err := h.svc.HandleSNS(r.Context(), body); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResendWebhook handles POST /api/webhooks/resend. The svix-id header
// identifies the delivery and is kept for dedup.
func (h *Handler) ResendWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readWebhook(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	deliveryID := r.Header.Get("svix-id")

	if h.publisher != nil {
		h.enqueue(w, r, service.SourceResend, service.ResendDelivery{ID: deliveryID, Body: body})
		return
	}
	if err := h.svc.HandleResend(r.Context(), body, deliveryID); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, source string, data any) {
	id, err := h.publisher.Dispatch(r.Context(), h.queueName, source, data)
	if err != nil {
		fail(w, r, email.NewStoreError("queue webhook", err))
		return
	}
	zerolog.Ctx(r.Context()).Debug().Str("job_id", id).Str("source", source).Msg("webhook queued")
	w.WriteHeader(http.StatusAccepted)
}
