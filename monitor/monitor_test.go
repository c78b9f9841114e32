package monitor_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/marcelsud/webhook-dispatch/monitor"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/memory"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

// fixture seeds a memory store with endpoints, events and attempts at fixed times
type fixture struct {
	t    *testing.T
	repo *memory.Repository
	seq  int
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, repo: memory.NewRepository()}
}

func (f *fixture) monitor(opts ...monitor.Option) *monitor.Monitor {
	opts = append([]monitor.Option{monitor.WithClock(webhook.ClockFunc(func() time.Time { return now }))}, opts...)
	return monitor.New(f.repo, zerolog.Nop(), opts...)
}

func (f *fixture) endpoint(id string, active bool) {
	f.t.Helper()
	require.NoError(f.t, f.repo.CreateEndpoint(context.Background(), webhook.Endpoint{
		ID:         id,
		OwnerID:    "owner-1",
		URL:        "https://hooks.example.com/" + id,
		EventTypes: []string{"*"},
		Active:     active,
		Policy:     webhook.DefaultPolicy(),
		CreatedAt:  now.Add(-72 * time.Hour),
	}, "whsec_test"))
}

// event stores an event created age ago with one attempt per status code.
// A zero code records a timeout.
func (f *fixture) event(endpointID string, typ payload.Type, st webhook.Status, age time.Duration, codes ...int) string {
	f.t.Helper()
	ctx := context.Background()
	f.seq++
	id := fmt.Sprintf("evt-%03d", f.seq)
	created := now.Add(-age)

	require.NoError(f.t, f.repo.CreateEvent(ctx, webhook.Event{
		ID:         id,
		EndpointID: endpointID,
		Type:       typ,
		Payload:    []byte(`{"amount":10,"card_number":"4111111111111111","note":"card 4111 1111 1111 1111"}`),
		Status:     st,
		Attempts:   len(codes),
		CreatedAt:  created,
		UpdatedAt:  created.Add(time.Minute),
	}))

	for i, c := range codes {
		a := webhook.Attempt{
			ID:         fmt.Sprintf("%s-att-%d", id, i),
			EventID:    id,
			EndpointID: endpointID,
			LatencyMs:  100,
			CreatedAt:  created.Add(time.Duration(i) * time.Second),
		}
		if c == 0 {
			a.Error = (&webhook.DeliveryError{Kind: webhook.KindTimeout}).Error()
		} else {
			code := c
			a.StatusCode = &code
			a.LatencyMs = int64(100 * (i + 1))
			if c >= 300 {
				a.Error = (&webhook.DeliveryError{Kind: webhook.KindStatus, StatusCode: c}).Error()
			}
		}
		require.NoError(f.t, f.repo.CreateAttempt(ctx, a))
	}
	return id
}

func TestHealth(t *testing.T) {
	ctx := context.Background()

	t.Run("zero attempts is unknown", func(t *testing.T) {
		f := newFixture(t)
		f.endpoint("ep-1", true)

		hr, err := f.monitor().Health(ctx, "ep-1")

		require.NoError(t, err)
		assert.Equal(t, monitor.Unknown, hr.Status)
		assert.Nil(t, hr.SuccessRate)
		assert.NotEmpty(t, hr.Recommendations)
	})

	t.Run("pending only is unknown", func(t *testing.T) {
		f := newFixture(t)
		f.endpoint("ep-1", true)
		f.event("ep-1", payload.PaymentSuccessType, webhook.Pending, time.Hour, 503)

		hr, err := f.monitor().Health(ctx, "ep-1")

		require.NoError(t, err)
		assert.Equal(t, monitor.Unknown, hr.Status)
		assert.Equal(t, 1, hr.Pending)
	})

	t.Run("rate at the healthy threshold is healthy", func(t *testing.T) {
		f := newFixture(t)
		f.endpoint("ep-1", true)
		for i := 0; i < 19; i++ {
			f.event("ep-1", payload.PaymentSuccessType, webhook.Delivered, time.Hour, 200)
		}
		f.event("ep-1", payload.PaymentSuccessType, webhook.Failed, time.Hour, 500, 500, 500, 500, 500)

		hr, err := f.monitor().Health(ctx, "ep-1")

		require.NoError(t, err)
		assert.Equal(t, monitor.Healthy, hr.Status)
		require.NotNil(t, hr.SuccessRate)
		assert.InDelta(t, 0.95, *hr.SuccessRate, 1e-9)
		assert.Empty(t, hr.Recommendations)
	})

	t.Run("degraded", func(t *testing.T) {
		f := newFixture(t)
		f.endpoint("ep-1", true)
		for i := 0; i < 3; i++ {
			f.event("ep-1", payload.BillCreatedType, webhook.Delivered, time.Hour, 200)
		}
		f.event("ep-1", payload.BillCreatedType, webhook.Failed, time.Hour, 503)
		f.event("ep-1", payload.BillCreatedType, webhook.Failed, time.Hour, 503)

		hr, err := f.monitor().Health(ctx, "ep-1")

		require.NoError(t, err)
		assert.Equal(t, monitor.Degraded, hr.Status)
		assert.Contains(t, hr.Recommendations[len(hr.Recommendations)-1], "5xx")
	})

	t.Run("down with timeouts and an inactive endpoint", func(t *testing.T) {
		f := newFixture(t)
		f.endpoint("ep-1", false)
		f.event("ep-1", payload.PaymentFailedType, webhook.Failed, time.Hour, 0, 0)
		f.event("ep-1", payload.PaymentFailedType, webhook.Failed, time.Hour, 401)

		hr, err := f.monitor().Health(ctx, "ep-1")

		require.NoError(t, err)
		assert.Equal(t, monitor.Down, hr.Status)
		joined := fmt.Sprint(hr.Recommendations)
		assert.Contains(t, joined, "inactive")
		assert.Contains(t, joined, "2 attempts timed out")
		assert.Contains(t, joined, "X-Webhook-Signature")
	})

	t.Run("events outside the window are ignored", func(t *testing.T) {
		f := newFixture(t)
		f.endpoint("ep-1", true)
		f.event("ep-1", payload.PaymentSuccessType, webhook.Failed, 48*time.Hour, 500)

		hr, err := f.monitor().Health(ctx, "ep-1")

		require.NoError(t, err)
		assert.Equal(t, monitor.Unknown, hr.Status)
	})

	t.Run("cached until ttl", func(t *testing.T) {
		f := newFixture(t)
		f.endpoint("ep-1", true)
		m := f.monitor()

		first, err := m.Health(ctx, "ep-1")
		require.NoError(t, err)
		f.event("ep-1", payload.PaymentSuccessType, webhook.Failed, time.Hour, 500)

		second, err := m.Health(ctx, "ep-1")
		require.NoError(t, err)
		assert.Equal(t, first.Status, second.Status)

		uncached := f.monitor(monitor.WithConfig(withoutCache()))
		third, err := uncached.Health(ctx, "ep-1")
		require.NoError(t, err)
		assert.Equal(t, monitor.Down, third.Status)
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.monitor().Health(ctx, "missing")

		var nf *webhook.NotFoundError
		assert.ErrorAs(t, err, &nf)
	})
}

func withoutCache() monitor.Config {
	cfg := monitor.DefaultConfig()
	cfg.CacheTTL = 0
	return cfg
}

func TestClassify(t *testing.T) {
	cfg := monitor.DefaultConfig()
	r := func(v float64) *float64 { return &v }

	assert.Equal(t, monitor.Unknown, cfg.Classify(nil))
	assert.Equal(t, monitor.Healthy, cfg.Classify(r(1)))
	assert.Equal(t, monitor.Healthy, cfg.Classify(r(0.95)))
	assert.Equal(t, monitor.Degraded, cfg.Classify(r(0.94)))
	assert.Equal(t, monitor.Degraded, cfg.Classify(r(0.5)))
	assert.Equal(t, monitor.Down, cfg.Classify(r(0.49)))
	assert.Equal(t, monitor.Down, cfg.Classify(r(0)))

	assert.NoError(t, cfg.Validate())
	cfg.DegradedThreshold = 0.99
	assert.Error(t, cfg.Validate())
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.endpoint("ep-1", true)
	f.event("ep-1", payload.PaymentSuccessType, webhook.Delivered, time.Hour, 503, 200)
	f.event("ep-1", payload.PaymentSuccessType, webhook.Failed, 2*time.Hour, 0, 0, 0, 0, 0)
	f.event("ep-1", payload.BillPaidType, webhook.Pending, 3*time.Hour, 500)
	f.event("ep-1", payload.BillPaidType, webhook.Delivered, 30*time.Hour, 200)
	m := f.monitor()

	t.Run("default window", func(t *testing.T) {
		s, err := m.Stats(ctx, "ep-1", 0)

		require.NoError(t, err)
		assert.Equal(t, 3, s.Totals.Events)
		assert.Equal(t, 1, s.Totals.Delivered)
		assert.Equal(t, 1, s.Totals.Failed)
		assert.Equal(t, 1, s.Totals.Pending)
		assert.Equal(t, 8, s.Totals.Attempts)
		require.NotNil(t, s.Totals.SuccessRate)
		assert.InDelta(t, 0.5, *s.Totals.SuccessRate, 1e-9)
		// 503 at 100ms, 200 at 200ms, 500 at 100ms; timeouts have no status code
		require.NotNil(t, s.Totals.AvgLatencyMs)
		assert.InDelta(t, 400.0/3.0, *s.Totals.AvgLatencyMs, 1e-9)
		assert.Equal(t, map[string]int{"payment.success": 2, "bill.paid": 1}, s.ByEventType)
		assert.Equal(t, "EXPONENTIAL", s.RetryStrategy)
		assert.Equal(t, []int{60, 120, 240, 480}, s.RetrySchedule)
	})

	t.Run("wider window", func(t *testing.T) {
		s, err := m.Stats(ctx, "ep-1", 48*time.Hour)

		require.NoError(t, err)
		assert.Equal(t, 4, s.Totals.Events)
		assert.Equal(t, 2, s.ByEventType["bill.paid"])
	})

	t.Run("no data", func(t *testing.T) {
		f.endpoint("ep-2", true)

		s, err := m.Stats(ctx, "ep-2", time.Hour)

		require.NoError(t, err)
		assert.Nil(t, s.Totals.SuccessRate)
		assert.Nil(t, s.Totals.AvgLatencyMs)
	})

	t.Run("negative window", func(t *testing.T) {
		_, err := m.Stats(ctx, "ep-1", -time.Hour)

		var verr *webhook.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.endpoint("ep-1", true)
	f.endpoint("ep-2", true)
	f.event("ep-1", payload.PaymentSuccessType, webhook.Delivered, 26*time.Hour, 200)
	f.event("ep-1", payload.PaymentSuccessType, webhook.Failed, 2*time.Hour, 500, 500)
	f.event("ep-2", payload.UserCreatedType, webhook.Delivered, time.Hour, 204)
	f.event("ep-2", payload.UserCreatedType, webhook.Delivered, 10*24*time.Hour, 200)
	m := f.monitor()

	t.Run("range totals and buckets", func(t *testing.T) {
		r, err := m.Report(ctx, now.Add(-3*24*time.Hour), now)

		require.NoError(t, err)
		assert.Equal(t, 3, r.Totals.Events)
		assert.Equal(t, 4, r.Totals.Attempts)
		require.Len(t, r.Endpoints, 2)
		assert.Equal(t, "ep-1", r.Endpoints[0].EndpointID)
		assert.Equal(t, "https://hooks.example.com/ep-1", r.Endpoints[0].URL)
		assert.Equal(t, 1, r.ByEventType["user.created"].Delivered)
		assert.Equal(t, 3, r.ByEventType["payment.success"].Attempts)
		require.Len(t, r.Daily, 2)
		assert.Equal(t, "2025-06-09", r.Daily[0].Day)
		assert.Equal(t, "2025-06-10", r.Daily[1].Day)
		assert.Equal(t, 2, r.Daily[1].Events)
	})

	t.Run("invalid ranges", func(t *testing.T) {
		var verr *webhook.ValidationError

		_, err := m.Report(ctx, now, now.Add(-time.Hour))
		assert.ErrorAs(t, err, &verr)

		_, err = m.Report(ctx, time.Time{}, now)
		assert.ErrorAs(t, err, &verr)

		_, err = m.Report(ctx, now.Add(-400*24*time.Hour), now)
		assert.ErrorAs(t, err, &verr)
	})
}

func TestFailedDeliveries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.endpoint("ep-1", true)
	older := f.event("ep-1", payload.BillOverdueType, webhook.Failed, 5*time.Hour, 500, 502)
	newer := f.event("ep-1", payload.BillOverdueType, webhook.Failed, time.Hour, 0)
	f.event("ep-1", payload.BillOverdueType, webhook.Delivered, time.Hour, 200)
	m := f.monitor()

	failed, err := m.FailedDeliveries(ctx, 0)

	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, newer, failed[0].EventID)
	assert.Nil(t, failed[0].LastStatusCode)
	assert.Contains(t, failed[0].LastError, "timeout")
	assert.Equal(t, older, failed[1].EventID)
	require.NotNil(t, failed[1].LastStatusCode)
	assert.Equal(t, 502, *failed[1].LastStatusCode)
	assert.Equal(t, 2, failed[1].Attempts)
	assert.Equal(t, "https://hooks.example.com/ep-1", failed[1].EndpointURL)

	limited, err := m.FailedDeliveries(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.endpoint("ep-ok", true)
	f.endpoint("ep-down", true)
	f.endpoint("ep-idle", false)
	f.event("ep-ok", payload.PaymentSuccessType, webhook.Delivered, time.Hour, 200)
	f.event("ep-down", payload.PaymentSuccessType, webhook.Failed, time.Hour, 500)

	d, err := f.monitor().Dashboard(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, d.Endpoints)
	assert.Equal(t, 2, d.ActiveEndpoints)
	assert.Equal(t, map[string]int{"HEALTHY": 1, "DOWN": 1, "UNKNOWN": 1}, d.HealthCounts)
	require.Len(t, d.Unhealthy, 1)
	assert.Equal(t, "ep-down", d.Unhealthy[0].EndpointID)
	assert.Equal(t, 2, d.Totals.Events)
	assert.Len(t, d.RecentFailures, 1)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.endpoint("ep-1", true)
	f.event("ep-1", payload.PaymentSuccessType, webhook.Delivered, time.Hour, 200)
	f.event("ep-1", payload.PaymentFailedType, webhook.Failed, 2*time.Hour, 500)
	m := f.monitor()

	t.Run("json is sanitized", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, m.Export(ctx, &buf, monitor.FormatJSON, monitor.ExportFilter{EndpointID: "ep-1"}))

		var records []monitor.ExportRecord
		require.NoError(t, json.Unmarshal(buf.Bytes(), &records))
		require.Len(t, records, 2)
		assert.Equal(t, "DELIVERED", records[0].Status)

		var p map[string]any
		require.NoError(t, json.Unmarshal(records[0].Payload, &p))
		assert.Equal(t, webhook.Redacted, p["card_number"])
		assert.Equal(t, "card ************1111", p["note"])
		assert.NotContains(t, buf.String(), "4111111111111111")
	})

	t.Run("csv with status filter", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, m.Export(ctx, &buf, monitor.FormatCSV, monitor.ExportFilter{Status: webhook.Failed}))

		rows, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "id", rows[0][0])
		assert.Equal(t, "payment.failed", rows[1][2])
		assert.Equal(t, "FAILED", rows[1][3])
		assert.NotContains(t, rows[1][5], "4111111111111111")
	})

	t.Run("invalid format", func(t *testing.T) {
		var verr *webhook.ValidationError
		assert.ErrorAs(t, m.Export(ctx, &bytes.Buffer{}, monitor.NewFormat("xml"), monitor.ExportFilter{}), &verr)
	})
}
