package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

// Dashboard is the cross-endpoint summary for administrators
type Dashboard struct {
	Endpoints       int              `json:"endpoints"`
	ActiveEndpoints int              `json:"active_endpoints"`
	Window          string           `json:"window"`
	Totals          Totals           `json:"totals"`
	HealthCounts    map[string]int   `json:"health_counts"`
	Unhealthy       []HealthReport   `json:"unhealthy"`
	RecentFailures  []FailedDelivery `json:"recent_failures"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

const dashboardFailures = 10

func (m *Monitor) Dashboard(ctx context.Context) (Dashboard, error) {
	now := m.clock.Now()
	from := now.Add(-m.cfg.Window)

	endpoints, err := m.store.ListEndpoints(ctx, "")
	if err != nil {
		return Dashboard{}, fmt.Errorf("listing endpoints: %w", err)
	}

	d := Dashboard{
		Endpoints:    len(endpoints),
		Window:       m.cfg.Window.String(),
		HealthCounts: map[string]int{},
		Unhealthy:    []HealthReport{},
		GeneratedAt:  now,
	}

	for _, ep := range endpoints {
		if ep.Active {
			d.ActiveEndpoints++
		}
		hr, err := m.Health(ctx, ep.ID)
		if err != nil {
			return Dashboard{}, fmt.Errorf("health of %s: %w", ep.ID, err)
		}
		d.HealthCounts[hr.Status.String()]++
		if hr.Status == Degraded || hr.Status == Down {
			d.Unhealthy = append(d.Unhealthy, hr)
		}
	}

	events, err := m.store.ListEvents(ctx, webhook.EventFilter{From: from})
	if err != nil {
		return Dashboard{}, fmt.Errorf("listing events: %w", err)
	}
	attempts, err := m.store.ListAttempts(ctx, webhook.AttemptFilter{From: from})
	if err != nil {
		return Dashboard{}, fmt.Errorf("listing attempts: %w", err)
	}
	var t tally
	for _, e := range events {
		t.event(e)
	}
	for _, a := range attempts {
		t.attempt(a)
	}
	d.Totals = t.totals()

	d.RecentFailures, err = m.FailedDeliveries(ctx, dashboardFailures)
	if err != nil {
		return Dashboard{}, err
	}
	return d, nil
}
