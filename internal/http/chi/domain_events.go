package chi

import (
	"encoding/json"
	"net/http"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/event"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
)

type domainEventRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// postDomainEvent handles POST /v1/domain-events. It lets upstream systems
// raise business events over HTTP; fan-out happens asynchronously.
func postDomainEvent(emitter event.Emitter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domainEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}

		t := payload.Type(req.Type)
		if err := t.Validate(); err != nil {
			writeError(w, r, &webhook.ValidationError{Field: "type", Reason: err.Error()})
			return
		}
		if len(req.Data) == 0 {
			req.Data = json.RawMessage("{}")
		}

		p, err := payload.Decode(t, req.Data)
		if err != nil {
			writeError(w, r, &webhook.ValidationError{Field: "data", Reason: err.Error()})
			return
		}

		emitter.Emit(r.Context(), p)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "type": req.Type})
	})
}
