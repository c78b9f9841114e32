package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/retry"
)

// Totals aggregates a set of events and their attempts
type Totals struct {
	Events       int      `json:"events"`
	Delivered    int      `json:"delivered"`
	Failed       int      `json:"failed"`
	Pending      int      `json:"pending"`
	Attempts     int      `json:"attempts"`
	SuccessRate  *float64 `json:"success_rate"`
	AvgLatencyMs *float64 `json:"avg_latency_ms"`
}

// Stats is the per-endpoint delivery summary over a trailing window
type Stats struct {
	EndpointID    string         `json:"endpoint_id"`
	Window        string         `json:"window"`
	From          time.Time      `json:"from"`
	To            time.Time      `json:"to"`
	Totals        Totals         `json:"totals"`
	ByEventType   map[string]int `json:"by_event_type"`
	RetryStrategy string         `json:"retry_policy"`
	RetrySchedule []int          `json:"retry_schedule_seconds"`
}

// tally accumulates events and attempts into Totals
type tally struct {
	delivered, failed, pending, events int
	attempts                           int
	latencySum                         int64
	latencyN                           int
}

func (t *tally) event(e webhook.Event) {
	t.events++
	switch e.Status {
	case webhook.Delivered:
		t.delivered++
	case webhook.Failed:
		t.failed++
	case webhook.Pending:
		t.pending++
	}
}

func (t *tally) attempt(a webhook.Attempt) {
	t.attempts++
	// Latency only counts when the endpoint actually answered
	if a.StatusCode != nil {
		t.latencySum += a.LatencyMs
		t.latencyN++
	}
}

func (t *tally) totals() Totals {
	out := Totals{
		Events:      t.events,
		Delivered:   t.delivered,
		Failed:      t.failed,
		Pending:     t.pending,
		Attempts:    t.attempts,
		SuccessRate: rate(t.delivered, t.failed),
	}
	if t.latencyN > 0 {
		avg := float64(t.latencySum) / float64(t.latencyN)
		out.AvgLatencyMs = &avg
	}
	return out
}

// Stats summarizes an endpoint's deliveries in the trailing window. A zero
// window uses the configured default.
func (m *Monitor) Stats(ctx context.Context, endpointID string, window time.Duration) (Stats, error) {
	if window < 0 {
		return Stats{}, &webhook.ValidationError{Field: "window", Reason: "must be positive"}
	}
	if window == 0 {
		window = m.cfg.Window
	}

	ep, err := m.endpoint(ctx, endpointID)
	if err != nil {
		return Stats{}, err
	}

	to := m.clock.Now()
	from := to.Add(-window)

	events, err := m.store.ListEvents(ctx, webhook.EventFilter{EndpointID: endpointID, From: from})
	if err != nil {
		return Stats{}, fmt.Errorf("listing events: %w", err)
	}
	attempts, err := m.store.ListAttempts(ctx, webhook.AttemptFilter{EndpointID: endpointID, From: from})
	if err != nil {
		return Stats{}, fmt.Errorf("listing attempts: %w", err)
	}

	var t tally
	byType := make(map[string]int)
	for _, e := range events {
		t.event(e)
		byType[string(e.Type)]++
	}
	for _, a := range attempts {
		t.attempt(a)
	}

	return Stats{
		EndpointID:    endpointID,
		Window:        window.String(),
		From:          from,
		To:            to,
		Totals:        t.totals(),
		ByEventType:   byType,
		RetryStrategy: ep.Policy.Strategy.String(),
		RetrySchedule: retry.Schedule(ep.Policy.Strategy, ep.Policy.BaseDelaySeconds, ep.Policy.MaxRetries),
	}, nil
}
