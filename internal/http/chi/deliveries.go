package chi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marcelsud/webhook-dispatch/monitor"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
)

type eventResponse struct {
	ID            string          `json:"id"`
	EndpointID    string          `json:"endpoint_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type retryResponse struct {
	Attempt webhook.Attempt `json:"attempt"`
	Event   eventResponse   `json:"event"`
}

type testDeliveryRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

func toEventResponse(e webhook.Event) eventResponse {
	return eventResponse{
		ID:            e.ID,
		EndpointID:    e.EndpointID,
		EventType:     string(e.Type),
		Payload:       webhook.Sanitize(e.Payload),
		Status:        e.Status.String(),
		Attempts:      e.Attempts,
		LastAttemptAt: e.LastAttemptAt,
		NextRetryAt:   e.NextRetryAt,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

// getEndpointEvents handles GET /v1/endpoints/{id}/events
func getEndpointEvents(delivery webhook.DeliveryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		limit, ok := queryLimit(w, r)
		if !ok {
			return
		}
		filter := webhook.EventFilter{Type: q.Get("type"), Limit: limit}

		if raw := q.Get("status"); raw != "" {
			filter.Status = webhook.NewStatus(raw)
			if err := filter.Status.Validate(); err != nil {
				badRequest(w, "status must be PENDING, DELIVERED or FAILED")
				return
			}
		}

		var err error
		if filter.From, err = queryTime(q.Get("from")); err != nil {
			badRequest(w, "from must be an RFC3339 timestamp")
			return
		}
		if filter.To, err = queryTime(q.Get("to")); err != nil {
			badRequest(w, "to must be an RFC3339 timestamp")
			return
		}

		events, err := delivery.History(r.Context(), chi.URLParam(r, "id"), identity(r), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}

		result := make([]eventResponse, 0, len(events))
		for _, e := range events {
			result = append(result, toEventResponse(e))
		}
		writeJSON(w, http.StatusOK, result)
	})
}

// postTestDelivery handles POST /v1/endpoints/{id}/test.
// An empty body sends a ping.
func postTestDelivery(delivery webhook.DeliveryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req testDeliveryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(w, "invalid JSON body")
			return
		}

		var test webhook.TestRequest
		if req.EventType != "" {
			raw := req.Payload
			if len(raw) == 0 {
				raw = json.RawMessage("{}")
			}
			p, err := payload.Decode(payload.Type(req.EventType), raw)
			if err != nil {
				writeError(w, r, &webhook.ValidationError{Field: "payload", Reason: err.Error()})
				return
			}
			test.Payload = p
		}

		attempt, err := delivery.TestDelivery(r.Context(), chi.URLParam(r, "id"), identity(r), test)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, attempt)
	})
}

// getEventAttempts handles GET /v1/events/{id}/attempts
func getEventAttempts(delivery webhook.DeliveryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts, err := delivery.Attempts(r.Context(), chi.URLParam(r, "id"), identity(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if attempts == nil {
			attempts = []webhook.Attempt{}
		}
		writeJSON(w, http.StatusOK, attempts)
	})
}

// postEventRetry handles POST /v1/events/{id}/retry
func postEventRetry(delivery webhook.DeliveryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt, ev, err := delivery.Retry(r.Context(), chi.URLParam(r, "id"), identity(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, retryResponse{Attempt: attempt, Event: toEventResponse(ev)})
	})
}

// getEndpointStats handles GET /v1/endpoints/{id}/stats?window=7d
func getEndpointStats(registry webhook.RegistryUseCase, mon monitor.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		window, err := parseWindow(r.URL.Query().Get("window"))
		if err != nil {
			badRequest(w, "window must be a duration such as 24h or 7d")
			return
		}

		ep, err := registry.Get(r.Context(), chi.URLParam(r, "id"), identity(r))
		if err != nil {
			writeError(w, r, err)
			return
		}

		stats, err := mon.Stats(r.Context(), ep.ID, window)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})
}

// getEndpointHealth handles GET /v1/endpoints/{id}/health
func getEndpointHealth(registry webhook.RegistryUseCase, mon monitor.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ep, err := registry.Get(r.Context(), chi.URLParam(r, "id"), identity(r))
		if err != nil {
			writeError(w, r, err)
			return
		}

		report, err := mon.Health(r.Context(), ep.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})
}

// parseWindow accepts Go durations plus a whole-day "Nd" form.
// Empty means the monitor default.
func parseWindow(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 1 {
			return 0, errors.New("invalid day count")
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, errors.New("invalid duration")
	}
	return d, nil
}

func queryTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
