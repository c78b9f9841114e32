package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/marcelsud/webhook-dispatch/internal/user"
	"github.com/marcelsud/webhook-dispatch/monitor"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/event"
	"github.com/rs/zerolog"
)

// Services are the use cases the API exposes
type Services struct {
	Registry webhook.RegistryUseCase
	Delivery webhook.DeliveryUseCase
	Monitor  monitor.UseCase
	Emitter  event.Emitter

	// Ping reports dependency health for GET /health; nil means always healthy
	Ping func(ctx context.Context) error
	// Metrics serves GET /metrics when set
	Metrics http.Handler
}

// Handlers sets up the API routes
func Handlers(logger zerolog.Logger, svc Services, requestTimeout time.Duration) *chi.Mux {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", getHealth(svc.Ping).ServeHTTP)
	if svc.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", svc.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(user.Middleware)

		// Routes that make delivery attempts are bounded by each endpoint's own timeout
		r.Method(http.MethodPost, "/endpoints/{id}/test", postTestDelivery(svc.Delivery))
		r.Method(http.MethodPost, "/events/{id}/retry", postEventRetry(svc.Delivery))
		r.Group(func(r chi.Router) {
			r.Use(user.RequireAdmin)
			r.Method(http.MethodPost, "/domain-events", postDomainEvent(svc.Emitter))
			r.Method(http.MethodPost, "/admin/retry", postBulkRetry(svc.Delivery))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Method(http.MethodPost, "/endpoints", postEndpoint(svc.Registry))
			r.Method(http.MethodGet, "/endpoints", getEndpoints(svc.Registry))
			r.Method(http.MethodGet, "/endpoints/{id}", getEndpoint(svc.Registry))
			r.Method(http.MethodPatch, "/endpoints/{id}", patchEndpoint(svc.Registry))
			r.Method(http.MethodDelete, "/endpoints/{id}", deleteEndpoint(svc.Registry))
			r.Method(http.MethodPost, "/endpoints/{id}/rotate-secret", postRotateSecret(svc.Registry))
			r.Method(http.MethodGet, "/endpoints/{id}/logs", getEndpointLogs(svc.Registry))

			r.Method(http.MethodGet, "/endpoints/{id}/events", getEndpointEvents(svc.Delivery))
			r.Method(http.MethodGet, "/endpoints/{id}/stats", getEndpointStats(svc.Registry, svc.Monitor))
			r.Method(http.MethodGet, "/endpoints/{id}/health", getEndpointHealth(svc.Registry, svc.Monitor))

			r.Method(http.MethodGet, "/events/{id}/attempts", getEventAttempts(svc.Delivery))

			r.Group(func(r chi.Router) {
				r.Use(user.RequireAdmin)
				r.Method(http.MethodGet, "/admin/dashboard", getDashboard(svc.Monitor))
				r.Method(http.MethodGet, "/admin/report", getReport(svc.Monitor))
				r.Method(http.MethodGet, "/admin/failed", getFailed(svc.Monitor))
				r.Method(http.MethodGet, "/admin/export", getExport(svc.Monitor))
			})
		})
	})

	return r
}

func getHealth(ping func(ctx context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				logger := httplog.LogEntry(r.Context())
				logger.Error().Err(err).Msg("health check failed")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
}
