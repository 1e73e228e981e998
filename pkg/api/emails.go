package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/pixelvide/ownmailer/pkg/request"
	"github.com/pixelvide/ownmailer/pkg/service"
)

// maxBodyBytes bounds request bodies; attachments arrive base64 encoded.
const maxBodyBytes = 40 << 20

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return email.NewValidationError("invalid request body", err)
	}
	return nil
}

// SendEmail handles POST /api/emails
func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var body request.SendBody
	if err := decode(r, &body); err != nil {
		fail(w, r, err)
		return
	}
	e, err := h.svc.SendEmail(r.Context(), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// SendEmailBatch handles POST /api/emails/batch
func (h *Handler) SendEmailBatch(w http.ResponseWriter, r *http.Request) {
	var bodies []request.SendBody
	if err := decode(r, &bodies); err != nil {
		fail(w, r, err)
		return
	}
	created, err := h.svc.SendEmailBatch(r.Context(), bodies)
	if err != nil {
		var batchErr *service.BatchError
		if errors.As(err, &batchErr) {
			failBatch(w, r, created, batchErr)
			return
		}
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListEmails handles GET /api/emails
func (h *Handler) ListEmails(w http.ResponseWriter, r *http.Request) {
	q, err := request.ParseListQuery(r.URL.Query())
	if err != nil {
		fail(w, r, err)
		return
	}
	page, err := h.svc.ListEmails(r.Context(), q)
	if err != nil {
		fail(w, r, err)
		return
	}
	if page.Data == nil {
		page.Data = []*email.Email{}
	}
	writeJSON(w, http.StatusOK, page)
}

// GetEmail handles GET /api/emails/{id}
func (h *Handler) GetEmail(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.GetEmail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// CancelEmail handles POST /api/emails/{id}/cancel
func (h *Handler) CancelEmail(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.CancelEmail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// ListIdentities handles GET /api/identities
func (h *Handler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.ListIdentities(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}
