package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

const (
	DefaultFailedLimit = 50
	MaxFailedLimit     = 500

	// MaxReportRange bounds a performance report
	MaxReportRange = 366 * 24 * time.Hour
)

// EndpointPerformance is one endpoint's share of a report
type EndpointPerformance struct {
	EndpointID string `json:"endpoint_id"`
	URL        string `json:"url,omitempty"`
	Totals
}

// DailyBucket aggregates one UTC calendar day
type DailyBucket struct {
	Day string `json:"day"`
	Totals
}

// PerformanceReport covers [From, To)
type PerformanceReport struct {
	From        time.Time             `json:"from"`
	To          time.Time             `json:"to"`
	Totals      Totals                `json:"totals"`
	Endpoints   []EndpointPerformance `json:"endpoints"`
	ByEventType map[string]Totals     `json:"by_event_type"`
	Daily       []DailyBucket         `json:"daily"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// FailedDelivery is a FAILED event with its last recorded outcome, for triage
type FailedDelivery struct {
	EventID        string    `json:"event_id"`
	EndpointID     string    `json:"endpoint_id"`
	EndpointURL    string    `json:"endpoint_url,omitempty"`
	EventType      string    `json:"event_type"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error,omitempty"`
	LastStatusCode *int      `json:"last_status_code"`
	FailedAt       time.Time `json:"failed_at"`
}

// Report builds the performance report for events created in [from, to)
func (m *Monitor) Report(ctx context.Context, from, to time.Time) (PerformanceReport, error) {
	if from.IsZero() || to.IsZero() {
		return PerformanceReport{}, &webhook.ValidationError{Field: "range", Reason: "from and to are required"}
	}
	if !from.Before(to) {
		return PerformanceReport{}, &webhook.ValidationError{Field: "range", Reason: "from must be before to"}
	}
	if to.Sub(from) > MaxReportRange {
		return PerformanceReport{}, &webhook.ValidationError{Field: "range", Reason: "must not exceed 366 days"}
	}

	events, err := m.store.ListEvents(ctx, webhook.EventFilter{From: from, To: to})
	if err != nil {
		return PerformanceReport{}, fmt.Errorf("listing events: %w", err)
	}
	attempts, err := m.store.ListAttempts(ctx, webhook.AttemptFilter{From: from, To: to})
	if err != nil {
		return PerformanceReport{}, fmt.Errorf("listing attempts: %w", err)
	}

	var total tally
	perEndpoint := make(map[string]*tally)
	perType := make(map[string]*tally)
	perDay := make(map[string]*tally)
	eventType := make(map[string]string, len(events))

	bucket := func(set map[string]*tally, key string) *tally {
		t, ok := set[key]
		if !ok {
			t = &tally{}
			set[key] = t
		}
		return t
	}

	for _, e := range events {
		eventType[e.ID] = string(e.Type)
		total.event(e)
		bucket(perEndpoint, e.EndpointID).event(e)
		bucket(perType, string(e.Type)).event(e)
		bucket(perDay, e.CreatedAt.UTC().Format(time.DateOnly)).event(e)
	}
	for _, a := range attempts {
		total.attempt(a)
		bucket(perEndpoint, a.EndpointID).attempt(a)
		if t, ok := eventType[a.EventID]; ok {
			bucket(perType, t).attempt(a)
		}
		bucket(perDay, a.CreatedAt.UTC().Format(time.DateOnly)).attempt(a)
	}

	report := PerformanceReport{
		From:        from,
		To:          to,
		Totals:      total.totals(),
		Endpoints:   make([]EndpointPerformance, 0, len(perEndpoint)),
		ByEventType: make(map[string]Totals, len(perType)),
		Daily:       make([]DailyBucket, 0, len(perDay)),
		GeneratedAt: m.clock.Now(),
	}

	for id, t := range perEndpoint {
		ep := EndpointPerformance{EndpointID: id, Totals: t.totals()}
		if e, err := m.store.GetEndpoint(ctx, id); err == nil {
			ep.URL = e.URL
		} else if !errors.Is(err, webhook.ErrNotFound) {
			return PerformanceReport{}, fmt.Errorf("getting endpoint: %w", err)
		}
		report.Endpoints = append(report.Endpoints, ep)
	}
	sort.Slice(report.Endpoints, func(i, j int) bool {
		a, b := report.Endpoints[i], report.Endpoints[j]
		if a.Events != b.Events {
			return a.Events > b.Events
		}
		return a.EndpointID < b.EndpointID
	})

	for t, agg := range perType {
		report.ByEventType[t] = agg.totals()
	}

	for day, t := range perDay {
		report.Daily = append(report.Daily, DailyBucket{Day: day, Totals: t.totals()})
	}
	sort.Slice(report.Daily, func(i, j int) bool { return report.Daily[i].Day < report.Daily[j].Day })

	return report, nil
}

// FailedDeliveries lists the most recent FAILED events with their last error
func (m *Monitor) FailedDeliveries(ctx context.Context, limit int) ([]FailedDelivery, error) {
	if limit <= 0 {
		limit = DefaultFailedLimit
	}
	if limit > MaxFailedLimit {
		limit = MaxFailedLimit
	}

	events, err := m.store.ListEvents(ctx, webhook.EventFilter{Status: webhook.Failed})
	if err != nil {
		return nil, fmt.Errorf("listing failed events: %w", err)
	}

	// Most recent failure first: a FAILED event is last updated when it fails
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].UpdatedAt.After(events[j].UpdatedAt)
	})
	if len(events) > limit {
		events = events[:limit]
	}

	urls := make(map[string]string)
	out := make([]FailedDelivery, 0, len(events))
	for _, e := range events {
		fd := FailedDelivery{
			EventID:    e.ID,
			EndpointID: e.EndpointID,
			EventType:  string(e.Type),
			Attempts:   e.Attempts,
			FailedAt:   e.UpdatedAt,
		}

		attempts, err := m.store.ListAttempts(ctx, webhook.AttemptFilter{EventID: e.ID})
		if err != nil {
			return nil, fmt.Errorf("listing attempts: %w", err)
		}
		if n := len(attempts); n > 0 {
			last := attempts[n-1]
			fd.LastError = webhook.SanitizeString(last.Error)
			fd.LastStatusCode = last.StatusCode
		}

		url, seen := urls[e.EndpointID]
		if !seen {
			if ep, err := m.store.GetEndpoint(ctx, e.EndpointID); err == nil {
				url = ep.URL
			}
			urls[e.EndpointID] = url
		}
		fd.EndpointURL = url

		out = append(out, fd)
	}
	return out, nil
}
