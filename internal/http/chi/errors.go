package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/httplog"
	"github.com/marcelsud/webhook-dispatch/webhook"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// writeError maps domain errors to status codes. Unexpected errors are
// logged and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr      *webhook.ValidationError
		nf        *webhook.NotFoundError
		forbidden *webhook.ForbiddenError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: nf.Error()})
	case errors.As(err, &forbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: forbidden.Error()})
	case errors.Is(err, webhook.ErrDeliveryInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		logger := httplog.LogEntry(r.Context())
		logger.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
