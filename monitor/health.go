package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

// HealthStatus classifies an endpoint by its recent success rate
type HealthStatus int

const (
	Unknown HealthStatus = iota + 1
	Healthy
	Degraded
	Down
)

func (s HealthStatus) String() string {
	switch s {
	case Unknown:
		return "UNKNOWN"
	case Healthy:
		return "HEALTHY"
	case Degraded:
		return "DEGRADED"
	case Down:
		return "DOWN"
	default:
		return "INVALID"
	}
}

func (s HealthStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HealthReport is the health of one endpoint with remediation hints
type HealthReport struct {
	EndpointID      string       `json:"endpoint_id"`
	URL             string       `json:"url"`
	Active          bool         `json:"active"`
	Status          HealthStatus `json:"status"`
	SuccessRate     *float64     `json:"success_rate"`
	Delivered       int          `json:"delivered"`
	Failed          int          `json:"failed"`
	Pending         int          `json:"pending"`
	Window          string       `json:"window"`
	Recommendations []string     `json:"recommendations"`
	CheckedAt       time.Time    `json:"checked_at"`
}

// Classify maps a success rate to a health status. A nil rate is Unknown.
func (c Config) Classify(rate *float64) HealthStatus {
	switch {
	case rate == nil:
		return Unknown
	case *rate >= c.HealthyThreshold:
		return Healthy
	case *rate >= c.DegradedThreshold:
		return Degraded
	default:
		return Down
	}
}

// Health classifies an endpoint over the configured window. Reports are
// cached for CacheTTL.
func (m *Monitor) Health(ctx context.Context, endpointID string) (HealthReport, error) {
	if m.health != nil {
		if hr, ok := m.health.Get(endpointID); ok {
			return hr, nil
		}
	}

	ep, err := m.endpoint(ctx, endpointID)
	if err != nil {
		return HealthReport{}, err
	}

	now := m.clock.Now()
	from := now.Add(-m.cfg.Window)

	events, err := m.store.ListEvents(ctx, webhook.EventFilter{EndpointID: endpointID, From: from})
	if err != nil {
		return HealthReport{}, fmt.Errorf("listing events: %w", err)
	}
	attempts, err := m.store.ListAttempts(ctx, webhook.AttemptFilter{EndpointID: endpointID, From: from})
	if err != nil {
		return HealthReport{}, fmt.Errorf("listing attempts: %w", err)
	}

	var t tally
	for _, e := range events {
		t.event(e)
	}
	totals := t.totals()

	hr := HealthReport{
		EndpointID:  ep.ID,
		URL:         ep.URL,
		Active:      ep.Active,
		Status:      m.cfg.Classify(totals.SuccessRate),
		SuccessRate: totals.SuccessRate,
		Delivered:   totals.Delivered,
		Failed:      totals.Failed,
		Pending:     totals.Pending,
		Window:      m.cfg.Window.String(),
		CheckedAt:   now,
	}
	hr.Recommendations = recommend(ep, hr, attempts)

	if m.health != nil {
		m.health.Add(endpointID, hr)
	}
	return hr, nil
}

// recommend derives remediation hints from the status and the failure mix
func recommend(ep webhook.Endpoint, hr HealthReport, attempts []webhook.Attempt) []string {
	recs := []string{}

	if !ep.Active {
		recs = append(recs, "Endpoint is inactive; reactivate it to resume deliveries")
	}

	var timeouts, network, authErrors, serverErrors, rejected int
	for _, a := range attempts {
		if a.Succeeded() {
			continue
		}
		switch {
		case strings.HasPrefix(a.Error, webhook.KindTimeout.String()):
			timeouts++
		case a.StatusCode == nil:
			network++
		case *a.StatusCode == 401 || *a.StatusCode == 403:
			authErrors++
		case *a.StatusCode >= 500:
			serverErrors++
		default:
			rejected++
		}
	}

	switch hr.Status {
	case Unknown:
		recs = append(recs, "No completed deliveries in the window; send a test delivery to verify the endpoint")
		if hr.Pending > 0 {
			recs = append(recs, "Deliveries are pending retry; check the failed attempts for the cause")
		}
		return recs
	case Healthy:
		return recs
	case Down:
		recs = append(recs, "Most deliveries fail; verify the URL is reachable and returns a 2xx status")
	case Degraded:
		recs = append(recs, "Deliveries fail intermittently; review recent attempts for a pattern")
	}

	if timeouts > 0 {
		recs = append(recs, fmt.Sprintf("%d attempts timed out; respond faster or raise timeout_seconds above %d", timeouts, ep.Policy.TimeoutSeconds))
	}
	if network > 0 {
		recs = append(recs, fmt.Sprintf("%d attempts could not connect; check DNS and TLS configuration", network))
	}
	if authErrors > 0 {
		recs = append(recs, "Endpoint rejects requests as unauthorized; verify it checks X-Webhook-Signature with the current secret")
	}
	if serverErrors > 0 {
		recs = append(recs, fmt.Sprintf("%d attempts got a 5xx response; check the receiver's error logs", serverErrors))
	}
	if rejected > 0 {
		recs = append(recs, fmt.Sprintf("%d attempts got a non-2xx response; the receiver must answer 2xx to acknowledge", rejected))
	}
	if ep.Policy.MaxRetries < 3 {
		recs = append(recs, "Raise max_retries so transient failures are retried")
	}
	return recs
}
