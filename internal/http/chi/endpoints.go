package chi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marcelsud/webhook-dispatch/internal/user"
	"github.com/marcelsud/webhook-dispatch/webhook"
)

/* HTTP layer DTOs for the endpoint API
 * Separate from domain entities to avoid leaking internal structure
 */

type endpointRequest struct {
	URL              string            `json:"url"`
	Events           []string          `json:"events"`
	RetryPolicy      string            `json:"retry_policy"`
	MaxRetries       int               `json:"max_retries"`
	BaseDelaySeconds int               `json:"base_delay_seconds"`
	TimeoutSeconds   int               `json:"timeout_seconds"`
	Headers          map[string]string `json:"headers"`
	Active           *bool             `json:"active"`
}

// endpointPatchRequest uses pointers so absent fields stay untouched
type endpointPatchRequest struct {
	URL              *string           `json:"url"`
	Events           []string          `json:"events"`
	RetryPolicy      *string           `json:"retry_policy"`
	MaxRetries       *int              `json:"max_retries"`
	BaseDelaySeconds *int              `json:"base_delay_seconds"`
	TimeoutSeconds   *int              `json:"timeout_seconds"`
	Headers          map[string]string `json:"headers"`
	Active           *bool             `json:"active"`
}

type endpointResponse struct {
	ID               string            `json:"id"`
	OwnerID          string            `json:"owner_id"`
	URL              string            `json:"url"`
	Events           []string          `json:"events"`
	Active           bool              `json:"active"`
	RetryPolicy      string            `json:"retry_policy"`
	MaxRetries       int               `json:"max_retries"`
	BaseDelaySeconds int               `json:"base_delay_seconds"`
	TimeoutSeconds   int               `json:"timeout_seconds"`
	Headers          map[string]string `json:"headers"`
	SecretHint       string            `json:"secret_hint"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// registeredResponse is the only response that carries the full secret
type registeredResponse struct {
	endpointResponse
	Secret string `json:"secret"`
}

type logResponse struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Outcome   string          `json:"outcome"`
	Detail    json.RawMessage `json:"detail"`
	CreatedAt time.Time       `json:"created_at"`
}

func toEndpointResponse(e webhook.Endpoint) endpointResponse {
	headers := e.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return endpointResponse{
		ID:               e.ID,
		OwnerID:          e.OwnerID,
		URL:              e.URL,
		Events:           e.EventTypes,
		Active:           e.Active,
		RetryPolicy:      e.Policy.Strategy.String(),
		MaxRetries:       e.Policy.MaxRetries,
		BaseDelaySeconds: e.Policy.BaseDelaySeconds,
		TimeoutSeconds:   e.Policy.TimeoutSeconds,
		Headers:          headers,
		SecretHint:       e.SecretHint,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func (p endpointPatchRequest) toPatch() webhook.EndpointPatch {
	patch := webhook.EndpointPatch{
		URL:        p.URL,
		EventTypes: p.Events,
		Headers:    p.Headers,
		Active:     p.Active,
	}
	if p.RetryPolicy != nil || p.MaxRetries != nil || p.BaseDelaySeconds != nil || p.TimeoutSeconds != nil {
		var in webhook.PolicyInput
		if p.RetryPolicy != nil {
			in.Strategy = *p.RetryPolicy
		}
		if p.MaxRetries != nil {
			in.MaxRetries = *p.MaxRetries
		}
		if p.BaseDelaySeconds != nil {
			in.BaseDelaySeconds = *p.BaseDelaySeconds
		}
		if p.TimeoutSeconds != nil {
			in.TimeoutSeconds = *p.TimeoutSeconds
		}
		patch.Policy = &in
	}
	return patch
}

func identity(r *http.Request) webhook.Identity {
	id, _ := user.FromContext(r.Context())
	return id
}

// postEndpoint handles POST /v1/endpoints
func postEndpoint(registry webhook.RegistryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req endpointRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}

		reg, err := registry.Register(r.Context(), identity(r).OwnerID, webhook.EndpointInput{
			URL:        req.URL,
			EventTypes: req.Events,
			Policy: webhook.PolicyInput{
				Strategy:         req.RetryPolicy,
				MaxRetries:       req.MaxRetries,
				BaseDelaySeconds: req.BaseDelaySeconds,
				TimeoutSeconds:   req.TimeoutSeconds,
			},
			Headers: req.Headers,
			Active:  req.Active,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		w.Header().Set("Location", "/v1/endpoints/"+reg.Endpoint.ID)
		writeJSON(w, http.StatusCreated, registeredResponse{
			endpointResponse: toEndpointResponse(reg.Endpoint),
			Secret:           reg.Secret,
		})
	})
}

// getEndpoints handles GET /v1/endpoints
func getEndpoints(registry webhook.RegistryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		all, err := registry.List(r.Context(), identity(r).OwnerID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		result := make([]endpointResponse, 0, len(all))
		for _, e := range all {
			result = append(result, toEndpointResponse(e))
		}
		writeJSON(w, http.StatusOK, result)
	})
}

// getEndpoint handles GET /v1/endpoints/{id}
func getEndpoint(registry webhook.RegistryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e, err := registry.Get(r.Context(), chi.URLParam(r, "id"), identity(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toEndpointResponse(e))
	})
}

// patchEndpoint handles PATCH /v1/endpoints/{id}
func patchEndpoint(registry webhook.RegistryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req endpointPatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}

		e, err := registry.Update(r.Context(), chi.URLParam(r, "id"), identity(r), req.toPatch())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toEndpointResponse(e))
	})
}

// deleteEndpoint handles DELETE /v1/endpoints/{id}
func deleteEndpoint(registry webhook.RegistryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := registry.Delete(r.Context(), chi.URLParam(r, "id"), identity(r)); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// postRotateSecret handles POST /v1/endpoints/{id}/rotate-secret
func postRotateSecret(registry webhook.RegistryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg, err := registry.RotateSecret(r.Context(), chi.URLParam(r, "id"), identity(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, registeredResponse{
			endpointResponse: toEndpointResponse(reg.Endpoint),
			Secret:           reg.Secret,
		})
	})
}

// getEndpointLogs handles GET /v1/endpoints/{id}/logs
func getEndpointLogs(registry webhook.RegistryUseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, ok := queryLimit(w, r)
		if !ok {
			return
		}

		logs, err := registry.Logs(r.Context(), chi.URLParam(r, "id"), identity(r), limit)
		if err != nil {
			writeError(w, r, err)
			return
		}

		result := make([]logResponse, 0, len(logs))
		for _, l := range logs {
			result = append(result, logResponse{
				ID:        l.ID,
				Action:    l.Action.String(),
				Outcome:   l.Outcome.String(),
				Detail:    l.Detail,
				CreatedAt: l.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, result)
	})
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

// queryLimit parses ?limit=, answering 400 itself on bad input
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		badRequest(w, "limit must be a positive integer")
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}
