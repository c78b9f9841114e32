package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-dispatch/webhook/event"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/marcelsud/webhook-dispatch/webhook/retry"
	"github.com/marcelsud/webhook-dispatch/webhook/signature"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TestEventType is sent in the event header of test deliveries
const TestEventType = "webhook.test"

// maxDrainBytes bounds how much of an unread response body is discarded before closing
const maxDrainBytes = 64 << 10

// ErrDeliveryInProgress is returned when a manual retry races an in-flight attempt
var ErrDeliveryInProgress = errors.New("a delivery attempt for this event is already in progress")

// Observer receives every attempt outcome, e.g. for metrics
type Observer interface {
	ObserveAttempt(endpointID string, eventType string, a Attempt)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, string, Attempt) {}

// EngineConfig tunes the delivery engine
type EngineConfig struct {
	// Concurrency bounds parallel deliveries per fan-out or retry batch
	Concurrency int
	// BatchSize bounds how many due events one DeliverDueRetries call loads
	BatchSize        int
	UserAgent        string
	MaxResponseBytes int
	Jitter           retry.Jitter
	// LockTTL must exceed the longest per-attempt timeout
	LockTTL time.Duration
}

// DefaultEngineConfig returns the engine defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Concurrency:      8,
		BatchSize:        100,
		UserAgent:        "webhook-dispatch/1.0",
		MaxResponseBytes: MaxResponseBodyBytes,
		LockTTL:          3 * time.Minute,
	}
}

// TestRequest describes a test delivery. A nil Payload sends a ping.
type TestRequest struct {
	Payload payload.Payload
}

// BulkRetryReport summarizes a bulk manual retry
type BulkRetryReport struct {
	Requested int               `json:"requested"`
	Delivered []string          `json:"delivered"`
	Failed    []string          `json:"failed"`
	Errors    map[string]string `json:"errors"`
}

// DeliveryUseCase defines the delivery operations
type DeliveryUseCase interface {
	Trigger(ctx context.Context, d event.Domain) ([]Event, error)
	DeliverDueRetries(ctx context.Context) (int, error)
	Retry(ctx context.Context, eventID string, who Identity) (Attempt, Event, error)
	BulkRetry(ctx context.Context, who Identity, eventIDs []string) (BulkRetryReport, error)
	TestDelivery(ctx context.Context, endpointID string, who Identity, req TestRequest) (Attempt, error)
	History(ctx context.Context, endpointID string, who Identity, f EventFilter) ([]Event, error)
	Attempts(ctx context.Context, eventID string, who Identity) ([]Attempt, error)
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

func WithHTTPClient(c *http.Client) EngineOption {
	return func(e *Engine) { e.client = c }
}

func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

func WithLocker(l Locker) EngineOption {
	return func(e *Engine) { e.locker = l }
}

func WithEngineConfig(cfg EngineConfig) EngineOption {
	return func(e *Engine) { e.cfg = cfg }
}

/* Engine runs the per-event state machine
 * PENDING -> DELIVERED on a 2xx, PENDING -> FAILED once attempts reach MaxRetries
 */
type Engine struct {
	Repo     Repository
	client   *http.Client
	clock    Clock
	logger   zerolog.Logger
	observer Observer
	locker   Locker
	cfg      EngineConfig
}

// NewEngine creates a delivery engine with dependency injection
func NewEngine(repo Repository, logger zerolog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		Repo:     repo,
		client:   &http.Client{},
		clock:    SystemClock(),
		logger:   logger.With().Str("component", "delivery-engine").Logger(),
		observer: nopObserver{},
		locker:   NewLocalLocker(),
		cfg:      DefaultEngineConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}

	// Redirects are failures: following one could leave https
	c := *e.client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	e.client = &c

	if e.cfg.Concurrency < 1 {
		e.cfg.Concurrency = 1
	}
	if e.cfg.BatchSize < 1 {
		e.cfg.BatchSize = DefaultEngineConfig().BatchSize
	}
	if e.cfg.MaxResponseBytes < 1 {
		e.cfg.MaxResponseBytes = MaxResponseBodyBytes
	}
	if e.cfg.LockTTL <= 0 {
		e.cfg.LockTTL = DefaultEngineConfig().LockTTL
	}
	return e
}

// Subscriber adapts the engine to the event bus
func (e *Engine) Subscriber() event.Subscriber {
	return engineSubscriber{e: e}
}

type engineSubscriber struct{ e *Engine }

func (s engineSubscriber) Name() string { return "delivery-engine" }

func (s engineSubscriber) Handle(ctx context.Context, d event.Domain) event.Result {
	events, err := s.e.Trigger(ctx, d)
	return event.Result{
		Subscriber: s.Name(),
		Err:        err,
		Detail:     fmt.Sprintf("%d deliveries", len(events)),
	}
}

func (e *Engine) audit() auditor {
	return auditor{logs: e.Repo, clock: e.clock, logger: e.logger}
}

// Trigger creates one PENDING event per subscribed endpoint and makes the first attempt
func (e *Engine) Trigger(ctx context.Context, d event.Domain) ([]Event, error) {
	body, err := payload.Encode(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	endpoints, err := e.Repo.ListActiveEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active endpoints: %w", err)
	}

	type job struct {
		ep Endpoint
		ev Event
	}

	var jobs []job
	var errs []error
	for _, ep := range endpoints {
		if !ep.Subscribes(d.Type()) {
			continue
		}

		now := e.clock.Now()
		ev := Event{
			ID:          uuid.New().String(),
			EndpointID:  ep.ID,
			Type:        d.Type(),
			Payload:     body,
			Status:      Pending,
			Attempts:    0,
			NextRetryAt: &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if err := e.Repo.CreateEvent(ctx, ev); err != nil {
			e.audit().record(ctx, ep.ID, ActionTriggered, OutcomeError, map[string]any{
				"domain_event_id": d.ID,
				"event_type":      d.Type(),
				"error":           err.Error(),
			})
			errs = append(errs, fmt.Errorf("creating event for endpoint %s: %w", ep.ID, err))
			continue
		}

		e.audit().record(ctx, ep.ID, ActionTriggered, OutcomeSuccess, map[string]any{
			"event_id":        ev.ID,
			"domain_event_id": d.ID,
			"event_type":      d.Type(),
			"payload":         json.RawMessage(body),
		})
		jobs = append(jobs, job{ep: ep, ev: ev})
	}

	out := make([]Event, len(jobs))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			out[i] = e.deliverLocked(ctx, j.ep, j.ev)
			return nil
		})
	}
	_ = g.Wait()

	return out, errors.Join(errs...)
}

// DeliverDueRetries attempts every PENDING event whose retry time has passed.
// It returns how many attempts were made.
func (e *Engine) DeliverDueRetries(ctx context.Context) (int, error) {
	now := e.clock.Now()
	due, err := e.Repo.DueEvents(ctx, now, e.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("loading due events: %w", err)
	}

	var attempted atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for _, ev := range due {
		g.Go(func() error {
			if e.deliverDue(ctx, ev.ID) {
				attempted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := attempted.Load(); n > 0 {
		e.logger.Info().Int64("attempted", n).Int("due", len(due)).Msg("delivered due retries")
	}
	return int(attempted.Load()), nil
}

// deliverDue re-reads the event under lock and attempts it only if it is still due
func (e *Engine) deliverDue(ctx context.Context, eventID string) bool {
	release, ok, err := e.locker.Acquire(ctx, lockKey(eventID), e.cfg.LockTTL)
	if err != nil {
		e.logger.Error().Err(err).Str("event_id", eventID).Msg("acquiring delivery lock")
		return false
	}
	if !ok {
		return false
	}
	defer e.unlock(release, eventID)

	ev, err := e.Repo.GetEvent(ctx, eventID)
	if err != nil {
		e.logger.Error().Err(err).Str("event_id", eventID).Msg("reloading due event")
		return false
	}

	now := e.clock.Now()
	if ev.Status != Pending || ev.NextRetryAt == nil || ev.NextRetryAt.After(now) {
		return false
	}

	ep, err := e.Repo.GetEndpoint(ctx, ev.EndpointID)
	switch {
	case errors.Is(err, ErrNotFound):
		e.closeOrphan(ctx, ev, "endpoint deleted")
		return false
	case err != nil:
		e.logger.Error().Err(err).Str("event_id", ev.ID).Msg("loading endpoint for due event")
		return false
	case !ep.Active:
		e.closeOrphan(ctx, ev, "endpoint inactive")
		return false
	}

	e.transition(ctx, ep, ev)
	return true
}

// closeOrphan fails a pending event whose endpoint can no longer receive it
func (e *Engine) closeOrphan(ctx context.Context, ev Event, reason string) {
	if err := e.Repo.MarkFailed(ctx, ev.ID, e.clock.Now()); err != nil {
		e.transitionError(err, ev.ID, "failing orphaned event")
		return
	}
	e.audit().record(ctx, ev.EndpointID, ActionFailed, OutcomeError, map[string]any{
		"event_id": ev.ID,
		"attempts": ev.Attempts,
		"reason":   reason,
	})
}

func (e *Engine) deliverLocked(ctx context.Context, ep Endpoint, ev Event) Event {
	release, ok, err := e.locker.Acquire(ctx, lockKey(ev.ID), e.cfg.LockTTL)
	if err != nil {
		e.logger.Error().Err(err).Str("event_id", ev.ID).Msg("acquiring delivery lock")
		return ev
	}
	if !ok {
		// The scheduler picked it up first
		return ev
	}
	defer e.unlock(release, ev.ID)

	current, err := e.Repo.GetEvent(ctx, ev.ID)
	if err != nil {
		e.logger.Error().Err(err).Str("event_id", ev.ID).Msg("reloading new event")
		return ev
	}
	// A sweep may have made the first attempt while this one waited for a slot
	if current.Status != Pending || current.Attempts > 0 || current.LastAttemptAt != nil {
		return current
	}
	return e.transition(ctx, ep, current)
}

// transition performs one automatic attempt and applies the state machine.
// The attempt and its bookkeeping outlive the caller's cancellation; the
// endpoint's timeout bounds the attempt.
func (e *Engine) transition(ctx context.Context, ep Endpoint, ev Event) Event {
	ctx = context.WithoutCancel(ctx)
	att := e.attempt(ctx, ep, ev.ID, string(ev.Type), ev.Payload, false)
	e.recordAttempt(ctx, att)

	now := e.clock.Now()
	ev.LastAttemptAt = &now
	ev.UpdatedAt = now

	if att.Succeeded() {
		if err := e.Repo.MarkDelivered(ctx, ev.ID, now); err != nil {
			e.logger.Error().Err(err).Str("event_id", ev.ID).Msg("marking event delivered")
			return ev
		}
		ev.Status = Delivered
		ev.NextRetryAt = nil
		return ev
	}

	attempts, err := e.Repo.IncrementAttempts(ctx, ev.ID, now)
	if err != nil {
		e.transitionError(err, ev.ID, "incrementing attempts")
		return ev
	}
	ev.Attempts = attempts

	if attempts < ep.Policy.MaxRetries {
		next := now.Add(e.cfg.Jitter.Apply(ep.Policy.Delay(attempts)))
		if err := e.Repo.ScheduleRetry(ctx, ev.ID, next); err != nil {
			e.transitionError(err, ev.ID, "scheduling retry")
			return ev
		}
		ev.NextRetryAt = &next
		e.logger.Warn().
			Str("event_id", ev.ID).
			Str("endpoint_id", ep.ID).
			Int("attempts", attempts).
			Time("next_retry_at", next).
			Msg("delivery failed, retry scheduled")
		return ev
	}

	if err := e.Repo.MarkFailed(ctx, ev.ID, now); err != nil {
		e.transitionError(err, ev.ID, "marking event failed")
		return ev
	}
	ev.Status = Failed
	ev.NextRetryAt = nil

	e.audit().record(ctx, ep.ID, ActionFailed, OutcomeError, map[string]any{
		"event_id":    ev.ID,
		"event_type":  ev.Type,
		"attempts":    attempts,
		"status_code": att.StatusCode,
		"error":       att.Error,
	})
	e.logger.Error().
		Str("event_id", ev.ID).
		Str("endpoint_id", ep.ID).
		Int("attempts", attempts).
		Msg("delivery failed permanently")
	return ev
}

// Retry performs exactly one extra attempt, whatever the event's state.
// The automatic attempts counter is not touched.
func (e *Engine) Retry(ctx context.Context, eventID string, who Identity) (Attempt, Event, error) {
	ev, err := e.Repo.GetEvent(ctx, eventID)
	if err != nil {
		return Attempt{}, Event{}, notFound("event", eventID, err)
	}

	ep, err := e.Repo.GetEndpoint(ctx, ev.EndpointID)
	if err != nil {
		return Attempt{}, Event{}, notFound("endpoint", ev.EndpointID, err)
	}
	if err := authorize(who, ep); err != nil {
		return Attempt{}, Event{}, err
	}

	release, ok, err := e.locker.Acquire(ctx, lockKey(ev.ID), e.cfg.LockTTL)
	if err != nil {
		return Attempt{}, Event{}, fmt.Errorf("acquiring delivery lock: %w", err)
	}
	if !ok {
		return Attempt{}, Event{}, ErrDeliveryInProgress
	}
	defer e.unlock(release, ev.ID)

	// The request deadline must not cut the attempt short or lose its record
	ctx = context.WithoutCancel(ctx)
	att := e.attempt(ctx, ep, ev.ID, string(ev.Type), ev.Payload, true)
	e.recordAttempt(ctx, att)

	now := e.clock.Now()
	outcome := OutcomeError
	if att.Succeeded() {
		outcome = OutcomeSuccess
		err = e.Repo.MarkDelivered(ctx, ev.ID, now)
	} else {
		err = e.Repo.TouchAttempt(ctx, ev.ID, now)
	}
	if err != nil {
		return att, ev, fmt.Errorf("updating event after manual retry: %w", err)
	}

	e.audit().record(ctx, ep.ID, ActionTriggered, outcome, map[string]any{
		"event_id":    ev.ID,
		"manual":      true,
		"status_code": att.StatusCode,
		"error":       att.Error,
	})

	updated, err := e.Repo.GetEvent(ctx, ev.ID)
	if err != nil {
		return att, ev, fmt.Errorf("reloading event: %w", err)
	}
	return att, updated, nil
}

// BulkRetry runs a manual retry for each id. Administrators only.
func (e *Engine) BulkRetry(ctx context.Context, who Identity, eventIDs []string) (BulkRetryReport, error) {
	if !who.Admin {
		return BulkRetryReport{}, &ForbiddenError{Resource: "bulk retry"}
	}
	ctx = context.WithoutCancel(ctx)

	report := BulkRetryReport{
		Requested: len(eventIDs),
		Delivered: []string{},
		Failed:    []string{},
		Errors:    map[string]string{},
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for _, id := range eventIDs {
		g.Go(func() error {
			att, _, err := e.Retry(ctx, id, who)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Errors[id] = err.Error()
			case att.Succeeded():
				report.Delivered = append(report.Delivered, id)
			default:
				report.Failed = append(report.Failed, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Info().
		Int("requested", report.Requested).
		Int("delivered", len(report.Delivered)).
		Int("failed", len(report.Failed)).
		Int("errors", len(report.Errors)).
		Msg("bulk retry finished")
	return report, nil
}

// TestDelivery sends a signed request without persisting an event or attempt
func (e *Engine) TestDelivery(ctx context.Context, endpointID string, who Identity, req TestRequest) (Attempt, error) {
	ep, err := e.Repo.GetEndpoint(ctx, endpointID)
	if err != nil {
		return Attempt{}, notFound("endpoint", endpointID, err)
	}
	if err := authorize(who, ep); err != nil {
		return Attempt{}, err
	}

	testID := uuid.New().String()
	eventType := TestEventType
	var body []byte
	if req.Payload != nil {
		body, err = payload.Encode(req.Payload)
		if err != nil {
			return Attempt{}, validationErr("payload", err.Error())
		}
		eventType = string(req.Payload.Type())
	} else {
		body, _ = json.Marshal(map[string]any{
			"type":        TestEventType,
			"id":          testID,
			"endpoint_id": ep.ID,
			"timestamp":   e.clock.Now().Format(time.RFC3339),
		})
	}

	ctx = context.WithoutCancel(ctx)
	att := e.attempt(ctx, ep, testID, eventType, body, true)

	outcome := OutcomeError
	if att.Succeeded() {
		outcome = OutcomeSuccess
	}
	e.audit().record(ctx, ep.ID, ActionTriggered, outcome, map[string]any{
		"test":        true,
		"event_type":  eventType,
		"status_code": att.StatusCode,
		"latency_ms":  att.LatencyMs,
		"error":       att.Error,
	})
	return att, nil
}

// History lists an endpoint's events, newest first
func (e *Engine) History(ctx context.Context, endpointID string, who Identity, f EventFilter) ([]Event, error) {
	ep, err := e.Repo.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, notFound("endpoint", endpointID, err)
	}
	if err := authorize(who, ep); err != nil {
		return nil, err
	}

	f.EndpointID = ep.ID
	events, err := e.Repo.ListEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	return events, nil
}

// Attempts lists an event's attempts in chronological order
func (e *Engine) Attempts(ctx context.Context, eventID string, who Identity) ([]Attempt, error) {
	ev, err := e.Repo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, notFound("event", eventID, err)
	}

	ep, err := e.Repo.GetEndpoint(ctx, ev.EndpointID)
	if err != nil {
		return nil, notFound("endpoint", ev.EndpointID, err)
	}
	if err := authorize(who, ep); err != nil {
		return nil, err
	}

	attempts, err := e.Repo.ListAttempts(ctx, AttemptFilter{EventID: ev.ID})
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	return attempts, nil
}

// attempt performs one signed POST. It never returns an error: every
// failure is described on the Attempt.
func (e *Engine) attempt(ctx context.Context, ep Endpoint, eventID, eventType string, body []byte, manual bool) Attempt {
	att := Attempt{
		ID:         uuid.New().String(),
		EventID:    eventID,
		EndpointID: ep.ID,
		Manual:     manual,
		CreatedAt:  e.clock.Now(),
	}
	defer func() { e.observer.ObserveAttempt(ep.ID, eventType, att) }()

	secret, err := e.Repo.EndpointSecret(ctx, ep.ID)
	if err != nil {
		att.Error = (&DeliveryError{Kind: KindSigning, Err: fmt.Errorf("loading secret: %w", err)}).Error()
		return att
	}
	digest, err := signature.Sign(secret, body)
	if err != nil {
		att.Error = (&DeliveryError{Kind: KindSigning, Err: err}).Error()
		return att
	}

	reqCtx, cancel := context.WithTimeout(ctx, ep.Policy.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		att.Error = (&DeliveryError{Kind: KindNetwork, Err: err}).Error()
		return att
	}

	for name, value := range ep.Headers {
		if IsReservedHeader(name) {
			continue
		}
		req.Header.Set(name, value)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set(signature.Header, digest)
	req.Header.Set(signature.IDHeader, eventID)
	req.Header.Set(signature.EventHeader, eventType)
	req.Header.Set(signature.TimestampHeader, strconv.FormatInt(att.CreatedAt.Unix(), 10))

	start := time.Now()
	resp, err := e.client.Do(req)
	att.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		kind := KindNetwork
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = KindTimeout
		}
		att.Error = (&DeliveryError{Kind: kind, Err: err}).Error()
		e.logger.Debug().Err(err).Str("event_id", eventID).Str("endpoint_id", ep.ID).Msg("delivery attempt errored")
		return att
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, int64(e.cfg.MaxResponseBytes)))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	code := resp.StatusCode
	att.StatusCode = &code
	att.ResponseBody = SanitizeString(storableText(raw, e.cfg.MaxResponseBytes))
	if !att.Succeeded() {
		att.Error = (&DeliveryError{Kind: KindStatus, StatusCode: code}).Error()
	}

	e.logger.Debug().
		Str("event_id", eventID).
		Str("endpoint_id", ep.ID).
		Int("status_code", code).
		Int64("latency_ms", att.LatencyMs).
		Bool("manual", manual).
		Msg("delivery attempt finished")
	return att
}

// recordAttempt appends to the audit trail. A failed write is loud but does
// not cause another delivery.
func (e *Engine) recordAttempt(ctx context.Context, att Attempt) {
	if err := e.Repo.CreateAttempt(ctx, att); err != nil {
		e.logger.Error().Err(err).
			Str("attempt_id", att.ID).
			Str("event_id", att.EventID).
			Str("endpoint_id", att.EndpointID).
			Interface("status_code", att.StatusCode).
			Msg("recording delivery attempt")
	}
}

// unlock frees a delivery lock. A failed release keeps the lock until its TTL.
func (e *Engine) unlock(release func() error, eventID string) {
	if err := release(); err != nil {
		e.logger.Warn().Err(err).Str("event_id", eventID).Msg("releasing delivery lock")
	}
}

func (e *Engine) transitionError(err error, eventID, doing string) {
	if errors.Is(err, ErrEventSettled) {
		e.logger.Warn().Err(err).Str("event_id", eventID).Msg(doing + ": event already settled")
		return
	}
	e.logger.Error().Err(err).Str("event_id", eventID).Msg(doing)
}

func lockKey(eventID string) string {
	return "event:" + eventID
}
