package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pixelvide/ownmailer/pkg/email"
	"github.com/pixelvide/ownmailer/pkg/service"
	"github.com/rs/zerolog"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// batchErrorResponse carries the emails a stopped batch created before
// failing.
type batchErrorResponse struct {
	Error errorBody      `json:"error"`
	Index int            `json:"index"`
	Data  []*email.Email `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// statusOf maps an error to its HTTP status. Unclassified errors are
// internal.
func statusOf(err error) int {
	switch email.ReasonOf(err) {
	case email.REASON_VALIDATION:
		return http.StatusBadRequest
	case email.REASON_NOT_FOUND:
		return http.StatusNotFound
	case email.REASON_CONFLICT:
		return http.StatusConflict
	case email.REASON_PROVIDER:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func bodyOf(err error) errorBody {
	var e *email.Error
	if errors.As(err, &e) {
		msg := e.Message
		if e.Cause != nil && e.Reason == email.REASON_VALIDATION {
			msg += ": " + e.Cause.Error()
		}
		return errorBody{Code: string(e.Reason), Message: msg}
	}
	return errorBody{Code: "INTERNAL_ERROR", Message: "internal error"}
}

// fail writes err and logs what the client does not get to see.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
	} else {
		logger.Debug().Err(err).Msg("request rejected")
	}
	writeJSON(w, status, errorResponse{Error: bodyOf(err)})
}

func failBatch(w http.ResponseWriter, r *http.Request, created []*email.Email, err *service.BatchError) {
	zerolog.Ctx(r.Context()).Warn().Err(err).Int("index", err.Index).Msg("batch stopped")
	if created == nil {
		created = []*email.Email{}
	}
	writeJSON(w, statusOf(err), batchErrorResponse{Error: bodyOf(err), Index: err.Index, Data: created})
}
