package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/event"
	"github.com/marcelsud/webhook-dispatch/webhook/memory"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/marcelsud/webhook-dispatch/webhook/signature"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type received struct {
	header http.Header
	body   []byte
}

// receiver answers with the queued statuses in order; the last one repeats
type receiver struct {
	mu       sync.Mutex
	statuses []int
	delay    time.Duration
	reply    string
	requests []received
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	rc.mu.Lock()
	rc.requests = append(rc.requests, received{header: r.Header.Clone(), body: body})
	code := http.StatusOK
	if len(rc.statuses) > 0 {
		code = rc.statuses[0]
		if len(rc.statuses) > 1 {
			rc.statuses = rc.statuses[1:]
		}
	}
	delay, reply := rc.delay, rc.reply
	rc.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if code >= 300 && code < 400 {
		w.Header().Set("Location", "https://elsewhere.example.com/")
	}
	w.WriteHeader(code)
	if reply == "" {
		reply = `{"ok":true}`
	}
	_, _ = w.Write([]byte(reply))
}

func (rc *receiver) set(statuses ...int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.statuses = statuses
}

func (rc *receiver) count() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.requests)
}

func (rc *receiver) last() received {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.requests[len(rc.requests)-1]
}

type harness struct {
	client   *http.Client
	repo     *memory.Repository
	clock    *testClock
	registry *webhook.Registry
	engine   *webhook.Engine
	rc       *receiver
	endpoint webhook.Endpoint
	secret   string
}

func newHarness(t *testing.T, policy webhook.PolicyInput, opts ...webhook.EngineOption) *harness {
	t.Helper()

	rc := &receiver{}
	srv := httptest.NewTLSServer(rc)
	t.Cleanup(srv.Close)

	repo := memory.NewRepository()
	clock := &testClock{now: fixedNow}
	registry := webhook.NewRegistry(repo, zerolog.Nop(), webhook.WithRegistryClock(clock))

	reg, err := registry.Register(context.Background(), "owner-1", webhook.EndpointInput{
		URL:        srv.URL + "/hooks",
		EventTypes: []string{"payment.*"},
		Policy:     policy,
		Headers:    map[string]string{"X-Tenant": "acme"},
	})
	require.NoError(t, err)

	base := []webhook.EngineOption{webhook.WithHTTPClient(srv.Client()), webhook.WithClock(clock)}
	engine := webhook.NewEngine(repo, zerolog.Nop(), append(base, opts...)...)

	return &harness{
		client:   srv.Client(),
		repo:     repo,
		clock:    clock,
		registry: registry,
		engine:   engine,
		rc:       rc,
		endpoint: reg.Endpoint,
		secret:   reg.Secret,
	}
}

func (h *harness) trigger(t *testing.T, p payload.Payload) webhook.Event {
	t.Helper()
	events, err := h.engine.Trigger(context.Background(), event.Domain{ID: "domain-1", Payload: p, OccurredAt: h.clock.Now()})
	require.NoError(t, err)
	require.Len(t, events, 1)
	return events[0]
}

func (h *harness) event(t *testing.T, id string) webhook.Event {
	t.Helper()
	ev, err := h.repo.GetEvent(context.Background(), id)
	require.NoError(t, err)
	return ev
}

func (h *harness) attempts(t *testing.T, eventID string) []webhook.Attempt {
	t.Helper()
	list, err := h.repo.ListAttempts(context.Background(), webhook.AttemptFilter{EventID: eventID})
	require.NoError(t, err)
	return list
}

func paymentSuccess() payload.PaymentSuccess {
	return payload.PaymentSuccess{Payment: payload.Payment{
		ID:         "pay_1",
		Amount:     99.9,
		Currency:   "BRL",
		UserID:     "user_1",
		CardNumber: "4111111111111111",
	}}
}

func TestTrigger(t *testing.T) {
	ctx := context.Background()

	t.Run("success on first attempt", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})
		p := paymentSuccess()

		ev := h.trigger(t, p)

		assert.Equal(t, webhook.Delivered, ev.Status)
		stored := h.event(t, ev.ID)
		assert.Equal(t, webhook.Delivered, stored.Status)
		assert.Equal(t, 0, stored.Attempts)
		assert.Nil(t, stored.NextRetryAt)

		attempts := h.attempts(t, ev.ID)
		require.Len(t, attempts, 1)
		assert.True(t, attempts[0].Succeeded())
		assert.False(t, attempts[0].Manual)

		require.Equal(t, 1, h.rc.count())
		req := h.rc.last()
		want, err := payload.Encode(p)
		require.NoError(t, err)
		assert.Equal(t, want, req.body)
		assert.True(t, signature.Verify(h.secret, req.body, req.header.Get(signature.Header)))
		assert.Equal(t, ev.ID, req.header.Get(signature.IDHeader))
		assert.Equal(t, "payment.success", req.header.Get(signature.EventHeader))
		assert.Equal(t, "application/json", req.header.Get("Content-Type"))
		assert.Equal(t, "webhook-dispatch/1.0", req.header.Get("User-Agent"))
		assert.Equal(t, "acme", req.header.Get("X-Tenant"))
		assert.NotEmpty(t, req.header.Get(signature.TimestampHeader))
	})

	t.Run("audit copy is sanitized, delivered bytes are not", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})
		h.trigger(t, paymentSuccess())

		assert.Contains(t, string(h.rc.last().body), "4111111111111111")

		logs, err := h.repo.ListLogs(ctx, h.endpoint.ID, 0)
		require.NoError(t, err)
		var triggered *webhook.LogEntry
		for i := range logs {
			if logs[i].Action == webhook.ActionTriggered {
				triggered = &logs[i]
			}
		}
		require.NotNil(t, triggered)
		assert.NotContains(t, string(triggered.Detail), "4111111111111111")
		assert.Contains(t, string(triggered.Detail), webhook.Redacted)
	})

	t.Run("unsubscribed event types are ignored", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})

		events, err := h.engine.Trigger(ctx, event.Domain{ID: "d", Payload: payload.BillCreated{Bill: payload.Bill{ID: "bill_1"}}})

		require.NoError(t, err)
		assert.Empty(t, events)
		assert.Equal(t, 0, h.rc.count())
	})

	t.Run("inactive endpoints are ignored", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})
		inactive := false
		_, err := h.registry.Update(ctx, h.endpoint.ID, webhook.Identity{OwnerID: "owner-1"}, webhook.EndpointPatch{Active: &inactive})
		require.NoError(t, err)

		events, err := h.engine.Trigger(ctx, event.Domain{ID: "d", Payload: paymentSuccess()})

		require.NoError(t, err)
		assert.Empty(t, events)
		assert.Equal(t, 0, h.rc.count())
	})

	t.Run("bus subscriber delivers", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})
		bus := event.NewBus(zerolog.Nop(), []event.Subscriber{h.engine.Subscriber()})

		bus.Emit(ctx, paymentSuccess())
		bus.Wait()

		assert.Equal(t, 1, h.rc.count())
	})

	t.Run("observer sees every attempt", func(t *testing.T) {
		obs := &recordingObserver{}
		h := newHarness(t, webhook.PolicyInput{}, webhook.WithObserver(obs))

		h.trigger(t, paymentSuccess())

		require.Len(t, obs.seen, 1)
		assert.Equal(t, "payment.success", obs.seen[0])
	})
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []string
}

func (o *recordingObserver) ObserveAttempt(_ string, eventType string, _ webhook.Attempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, eventType)
}

func TestRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("fixed policy fails after max retries", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{Strategy: "FIXED", MaxRetries: 3, BaseDelaySeconds: 10})
		h.rc.set(http.StatusInternalServerError)

		ev := h.trigger(t, paymentSuccess())
		assert.Equal(t, webhook.Pending, ev.Status)
		assert.Equal(t, 1, ev.Attempts)
		assert.Equal(t, fixedNow.Add(10*time.Second), *ev.NextRetryAt)

		n, err := h.engine.DeliverDueRetries(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n, "not due yet")

		h.clock.Advance(10 * time.Second)
		n, err = h.engine.DeliverDueRetries(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 2, h.event(t, ev.ID).Attempts)

		h.clock.Advance(10 * time.Second)
		n, err = h.engine.DeliverDueRetries(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		stored := h.event(t, ev.ID)
		assert.Equal(t, webhook.Failed, stored.Status)
		assert.Equal(t, 3, stored.Attempts)
		assert.Nil(t, stored.NextRetryAt)
		assert.Len(t, h.attempts(t, ev.ID), 3)

		h.clock.Advance(time.Hour)
		n, err = h.engine.DeliverDueRetries(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, 3, h.rc.count())

		logs, err := h.repo.ListLogs(ctx, h.endpoint.ID, 1)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, webhook.ActionFailed, logs[0].Action)
		assert.Equal(t, webhook.OutcomeError, logs[0].Outcome)
	})

	t.Run("exponential backoff then success", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{Strategy: "EXPONENTIAL", MaxRetries: 5, BaseDelaySeconds: 60})
		h.rc.set(http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK)

		ev := h.trigger(t, paymentSuccess())
		assert.Equal(t, fixedNow.Add(60*time.Second), *ev.NextRetryAt)

		h.clock.Advance(60 * time.Second)
		_, err := h.engine.DeliverDueRetries(ctx)
		require.NoError(t, err)

		stored := h.event(t, ev.ID)
		assert.Equal(t, webhook.Pending, stored.Status)
		assert.Equal(t, 2, stored.Attempts)
		assert.Equal(t, fixedNow.Add(180*time.Second), *stored.NextRetryAt)

		h.clock.Advance(119 * time.Second)
		n, err := h.engine.DeliverDueRetries(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		h.clock.Advance(time.Second)
		n, err = h.engine.DeliverDueRetries(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		stored = h.event(t, ev.ID)
		assert.Equal(t, webhook.Delivered, stored.Status)
		assert.Equal(t, 2, stored.Attempts)

		attempts, err := h.engine.Attempts(ctx, ev.ID, webhook.Identity{OwnerID: "owner-1"})
		require.NoError(t, err)
		require.Len(t, attempts, 3)
		assert.Equal(t, fixedNow, attempts[0].CreatedAt)
		assert.Equal(t, fixedNow.Add(60*time.Second), attempts[1].CreatedAt)
		assert.Equal(t, fixedNow.Add(180*time.Second), attempts[2].CreatedAt)
		assert.Equal(t, 200, *attempts[2].StatusCode)
	})

	t.Run("503 then 200 a minute later", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{Strategy: "EXPONENTIAL", MaxRetries: 3, BaseDelaySeconds: 60})
		h.rc.set(http.StatusServiceUnavailable, http.StatusOK)

		ev := h.trigger(t, paymentSuccess())
		require.Equal(t, webhook.Pending, ev.Status)

		h.clock.Advance(61 * time.Second)
		n, err := h.engine.DeliverDueRetries(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		assert.Equal(t, webhook.Delivered, h.event(t, ev.ID).Status)
		attempts := h.attempts(t, ev.ID)
		require.Len(t, attempts, 2)
		assert.Equal(t, http.StatusServiceUnavailable, *attempts[0].StatusCode)
		assert.Equal(t, http.StatusOK, *attempts[1].StatusCode)
	})

	t.Run("concurrent sweeps never double deliver", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{Strategy: "FIXED", MaxRetries: 5, BaseDelaySeconds: 10})
		h.rc.set(http.StatusInternalServerError)
		ev := h.trigger(t, paymentSuccess())

		h.rc.mu.Lock()
		h.rc.delay = 100 * time.Millisecond
		h.rc.mu.Unlock()
		h.clock.Advance(10 * time.Second)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.engine.DeliverDueRetries(ctx)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Len(t, h.attempts(t, ev.ID), 2)
		assert.Equal(t, 2, h.event(t, ev.ID).Attempts)
	})

	t.Run("pending events of a deleted endpoint are closed", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{Strategy: "FIXED", MaxRetries: 5, BaseDelaySeconds: 10})
		h.rc.set(http.StatusInternalServerError)
		ev := h.trigger(t, paymentSuccess())

		require.NoError(t, h.registry.Delete(ctx, h.endpoint.ID, webhook.Identity{OwnerID: "owner-1"}))
		h.clock.Advance(time.Minute)

		n, err := h.engine.DeliverDueRetries(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, webhook.Failed, h.event(t, ev.ID).Status)
		assert.Equal(t, 1, h.rc.count())
	})
}

func TestAttemptFailures(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{TimeoutSeconds: 1})
		h.rc.mu.Lock()
		h.rc.delay = 5 * time.Second
		h.rc.mu.Unlock()

		ev := h.trigger(t, paymentSuccess())

		attempts := h.attempts(t, ev.ID)
		require.Len(t, attempts, 1)
		assert.Nil(t, attempts[0].StatusCode)
		assert.Contains(t, attempts[0].Error, "timeout")
		assert.Equal(t, webhook.Pending, h.event(t, ev.ID).Status)
	})

	t.Run("redirects are not followed", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})
		h.rc.set(http.StatusFound)

		ev := h.trigger(t, paymentSuccess())

		attempts := h.attempts(t, ev.ID)
		require.Len(t, attempts, 1)
		assert.Equal(t, http.StatusFound, *attempts[0].StatusCode)
		assert.False(t, attempts[0].Succeeded())
		assert.Equal(t, 1, h.rc.count())
	})

	t.Run("response body is truncated and masked", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})
		h.rc.set(http.StatusBadRequest)
		h.rc.mu.Lock()
		h.rc.reply = "card 4111 1111 1111 1111 rejected " + strings.Repeat("x", 2000)
		h.rc.mu.Unlock()

		ev := h.trigger(t, paymentSuccess())

		attempts := h.attempts(t, ev.ID)
		require.Len(t, attempts, 1)
		body := attempts[0].ResponseBody
		assert.LessOrEqual(t, len(body), webhook.MaxResponseBodyBytes)
		assert.Contains(t, body, "************1111")
		assert.NotContains(t, body, "4111 1111")
		assert.Contains(t, attempts[0].Error, "400")
	})

	t.Run("response body is cut on a rune boundary", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})
		h.rc.mu.Lock()
		h.rc.reply = strings.Repeat("a", 1023) + "é" + "tail"
		h.rc.mu.Unlock()

		ev := h.trigger(t, paymentSuccess())

		attempts := h.attempts(t, ev.ID)
		require.Len(t, attempts, 1)
		body := attempts[0].ResponseBody
		assert.True(t, utf8.ValidString(body))
		assert.Equal(t, strings.Repeat("a", 1023), body)
	})

	t.Run("binary response body is stored as valid text", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})
		h.rc.mu.Lock()
		h.rc.reply = "bad\x00input\xff"
		h.rc.mu.Unlock()

		ev := h.trigger(t, paymentSuccess())

		attempts := h.attempts(t, ev.ID)
		require.Len(t, attempts, 1)
		body := attempts[0].ResponseBody
		assert.True(t, utf8.ValidString(body))
		assert.NotContains(t, body, "\x00")
		assert.Equal(t, "badinput\uFFFD", body)
	})

	t.Run("lock release failure is logged", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})
		var buf bytes.Buffer
		engine := webhook.NewEngine(h.repo, zerolog.New(&buf),
			webhook.WithHTTPClient(h.client),
			webhook.WithClock(h.clock),
			webhook.WithLocker(failingReleaseLocker{inner: webhook.NewLocalLocker()}),
		)

		events, err := engine.Trigger(context.Background(), event.Domain{ID: "domain-1", Payload: paymentSuccess()})

		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, webhook.Delivered, events[0].Status)
		assert.Contains(t, buf.String(), `"level":"warn"`)
		assert.Contains(t, buf.String(), "releasing delivery lock")
		assert.Contains(t, buf.String(), "connection reset")
	})
}

// gatedReceiver holds its first request until gate is closed
type gatedReceiver struct {
	mu      sync.Mutex
	calls   int
	status  int
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedReceiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)

	g.mu.Lock()
	g.calls++
	first, code := g.calls == 1, g.status
	g.mu.Unlock()

	if first {
		close(g.entered)
		<-g.gate
	}
	w.WriteHeader(code)
}

func TestTriggerRacingSweep(t *testing.T) {
	ctx := context.Background()

	rc := &gatedReceiver{status: http.StatusOK, entered: make(chan struct{}), gate: make(chan struct{})}
	srv := httptest.NewTLSServer(rc)
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		select {
		case <-rc.gate:
		default:
			close(rc.gate)
		}
	})

	repo := memory.NewRepository()
	clock := &testClock{now: fixedNow}
	registry := webhook.NewRegistry(repo, zerolog.Nop(), webhook.WithRegistryClock(clock))
	for _, path := range []string{"/a", "/b"} {
		_, err := registry.Register(ctx, "owner-1", webhook.EndpointInput{
			URL:        srv.URL + path,
			EventTypes: []string{"payment.*"},
			Policy:     webhook.PolicyInput{MaxRetries: 1},
		})
		require.NoError(t, err)
	}

	cfg := webhook.DefaultEngineConfig()
	cfg.Concurrency = 1
	engine := webhook.NewEngine(repo, zerolog.Nop(),
		webhook.WithHTTPClient(srv.Client()),
		webhook.WithClock(clock),
		webhook.WithEngineConfig(cfg),
	)

	type result struct {
		events []webhook.Event
		err    error
	}
	done := make(chan result, 1)
	go func() {
		events, err := engine.Trigger(ctx, event.Domain{ID: "domain-1", Payload: paymentSuccess(), OccurredAt: fixedNow})
		done <- result{events: events, err: err}
	}()

	select {
	case <-rc.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first delivery never reached the receiver")
	}

	// The sweep delivers the event still queued behind the concurrency limit
	attempted, err := engine.DeliverDueRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, attempted)

	rc.mu.Lock()
	rc.status = http.StatusInternalServerError
	rc.mu.Unlock()
	close(rc.gate)

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger never returned")
	}
	require.NoError(t, res.err)
	require.Len(t, res.events, 2)

	for _, ev := range res.events {
		assert.Equal(t, webhook.Delivered, ev.Status)

		stored, err := repo.GetEvent(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, webhook.Delivered, stored.Status)
		assert.Equal(t, 0, stored.Attempts)

		attempts, err := repo.ListAttempts(ctx, webhook.AttemptFilter{EventID: ev.ID})
		require.NoError(t, err)
		assert.Len(t, attempts, 1)
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	assert.Equal(t, 2, rc.calls)
}

func TestManualRetry(t *testing.T) {
	ctx := context.Background()
	owner := webhook.Identity{OwnerID: "owner-1"}

	t.Run("delivers a failed event without touching the counter", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{MaxRetries: 1})
		h.rc.set(http.StatusInternalServerError, http.StatusOK)
		ev := h.trigger(t, paymentSuccess())
		require.Equal(t, webhook.Failed, h.event(t, ev.ID).Status)

		h.clock.Advance(time.Minute)
		att, updated, err := h.engine.Retry(ctx, ev.ID, owner)

		require.NoError(t, err)
		assert.True(t, att.Manual)
		assert.True(t, att.Succeeded())
		assert.Equal(t, webhook.Delivered, updated.Status)
		assert.Equal(t, 1, updated.Attempts)
		assert.Len(t, h.attempts(t, ev.ID), 2)
	})

	t.Run("failed manual retry keeps state", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{MaxRetries: 1})
		h.rc.set(http.StatusInternalServerError)
		ev := h.trigger(t, paymentSuccess())

		h.clock.Advance(time.Minute)
		att, updated, err := h.engine.Retry(ctx, ev.ID, owner)

		require.NoError(t, err)
		assert.False(t, att.Succeeded())
		assert.Equal(t, webhook.Failed, updated.Status)
		assert.Equal(t, 1, updated.Attempts)
		assert.Equal(t, fixedNow.Add(time.Minute), *updated.LastAttemptAt)
	})

	t.Run("caller deadline does not cut the attempt short", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{MaxRetries: 1, TimeoutSeconds: 5})
		h.rc.set(http.StatusInternalServerError, http.StatusOK)
		ev := h.trigger(t, paymentSuccess())
		h.rc.mu.Lock()
		h.rc.delay = 300 * time.Millisecond
		h.rc.mu.Unlock()

		reqCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		att, updated, err := h.engine.Retry(reqCtx, ev.ID, owner)

		require.NoError(t, err)
		require.NotNil(t, att.StatusCode)
		assert.Equal(t, http.StatusOK, *att.StatusCode)
		assert.Empty(t, att.Error)
		assert.Equal(t, webhook.Delivered, updated.Status)
		assert.Len(t, h.attempts(t, ev.ID), 2)
	})

	t.Run("forbidden for other owners", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})
		ev := h.trigger(t, paymentSuccess())

		_, _, err := h.engine.Retry(ctx, ev.ID, webhook.Identity{OwnerID: "owner-2"})

		var forbidden *webhook.ForbiddenError
		assert.ErrorAs(t, err, &forbidden)
	})

	t.Run("unknown event", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})

		_, _, err := h.engine.Retry(ctx, "missing", owner)

		var nf *webhook.NotFoundError
		assert.ErrorAs(t, err, &nf)
	})

	t.Run("in-flight attempt blocks a manual retry", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})
		ev := h.trigger(t, paymentSuccess())

		busy := webhook.NewEngine(h.repo, zerolog.Nop(), webhook.WithLocker(busyLocker{}))
		_, _, err := busy.Retry(ctx, ev.ID, owner)

		assert.ErrorIs(t, err, webhook.ErrDeliveryInProgress)
	})

	t.Run("bulk retry is admin only", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{MaxRetries: 1})
		h.rc.set(http.StatusInternalServerError, http.StatusOK)
		ev := h.trigger(t, paymentSuccess())

		_, err := h.engine.BulkRetry(ctx, owner, []string{ev.ID})
		var forbidden *webhook.ForbiddenError
		require.ErrorAs(t, err, &forbidden)

		report, err := h.engine.BulkRetry(ctx, webhook.AdminIdentity(), []string{ev.ID, "missing"})
		require.NoError(t, err)
		assert.Equal(t, 2, report.Requested)
		assert.Equal(t, []string{ev.ID}, report.Delivered)
		assert.Empty(t, report.Failed)
		assert.Contains(t, report.Errors, "missing")
	})
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string, time.Duration) (func() error, bool, error) {
	return func() error { return nil }, false, nil
}

type failingReleaseLocker struct {
	inner *webhook.LocalLocker
}

func (l failingReleaseLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func() error, bool, error) {
	release, ok, err := l.inner.Acquire(ctx, key, ttl)
	return func() error {
		_ = release()
		return errors.New("connection reset")
	}, ok, err
}

func TestTestDelivery(t *testing.T) {
	ctx := context.Background()
	owner := webhook.Identity{OwnerID: "owner-1"}

	t.Run("ping is signed and nothing is persisted", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})

		att, err := h.engine.TestDelivery(ctx, h.endpoint.ID, owner, webhook.TestRequest{})

		require.NoError(t, err)
		assert.True(t, att.Succeeded())

		req := h.rc.last()
		assert.Equal(t, webhook.TestEventType, req.header.Get(signature.EventHeader))
		assert.True(t, signature.Verify(h.secret, req.body, req.header.Get(signature.Header)))
		var body map[string]any
		require.NoError(t, json.Unmarshal(req.body, &body))
		assert.Equal(t, webhook.TestEventType, body["type"])

		events, err := h.repo.ListEvents(ctx, webhook.EventFilter{EndpointID: h.endpoint.ID})
		require.NoError(t, err)
		assert.Empty(t, events)
		attempts, err := h.repo.ListAttempts(ctx, webhook.AttemptFilter{EndpointID: h.endpoint.ID})
		require.NoError(t, err)
		assert.Empty(t, attempts)
	})

	t.Run("custom payload", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})

		_, err := h.engine.TestDelivery(ctx, h.endpoint.ID, owner, webhook.TestRequest{Payload: paymentSuccess()})

		require.NoError(t, err)
		assert.Equal(t, "payment.success", h.rc.last().header.Get(signature.EventHeader))
	})

	t.Run("forbidden for other owners", func(t *testing.T) {
		h := newHarness(t, webhook.PolicyInput{})

		_, err := h.engine.TestDelivery(ctx, h.endpoint.ID, webhook.Identity{OwnerID: "owner-2"}, webhook.TestRequest{})

		var forbidden *webhook.ForbiddenError
		assert.ErrorAs(t, err, &forbidden)
		assert.Equal(t, 0, h.rc.count())
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, webhook.PolicyInput{})
	h.trigger(t, paymentSuccess())
	h.clock.Advance(time.Second)
	h.trigger(t, payload.PaymentFailed{Payment: payload.Payment{ID: "pay_2"}, Reason: "declined"})

	events, err := h.engine.History(ctx, h.endpoint.ID, webhook.Identity{OwnerID: "owner-1"}, webhook.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, payload.PaymentFailedType, events[0].Type)

	filtered, err := h.engine.History(ctx, h.endpoint.ID, webhook.AdminIdentity(), webhook.EventFilter{Type: "payment.success"})
	require.NoError(t, err)
	assert.Len(t, filtered, 1)

	_, err = h.engine.History(ctx, h.endpoint.ID, webhook.Identity{OwnerID: "owner-2"}, webhook.EventFilter{})
	var forbidden *webhook.ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}
