// Package event is the in-process bus that decouples business actions from
// webhook delivery. A Bus is built once by the composition root with its
// full subscriber list and injected wherever events are raised.
package event

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/rs/zerolog"
)

// Domain is a business occurrence published on the bus
type Domain struct {
	ID         string
	Payload    payload.Payload
	OccurredAt time.Time
}

// Type returns the event type of the wrapped payload
func (d Domain) Type() payload.Type {
	if d.Payload == nil {
		return ""
	}
	return d.Payload.Type()
}

// Result is what a subscriber reports back for one dispatch.
// The bus logs it; it never reaches the emitting code.
type Result struct {
	Subscriber string
	Err        error
	Duration   time.Duration
	// Detail is an optional summary for the log line (e.g. "3 endpoints")
	Detail string
}

// OK reports whether the subscriber handled the event without error
func (r Result) OK() bool {
	return r.Err == nil
}

// Subscriber handles domain events
type Subscriber interface {
	Name() string
	Handle(ctx context.Context, d Domain) Result
}

type subscriberFunc struct {
	name string
	fn   func(ctx context.Context, d Domain) error
}

// NewSubscriber adapts a plain function into a Subscriber
func NewSubscriber(name string, fn func(ctx context.Context, d Domain) error) Subscriber {
	return &subscriberFunc{name: name, fn: fn}
}

func (s *subscriberFunc) Name() string { return s.name }

func (s *subscriberFunc) Handle(ctx context.Context, d Domain) Result {
	return Result{Subscriber: s.name, Err: s.fn(ctx, d)}
}

// Emitter is what business code depends on to raise events
type Emitter interface {
	Emit(ctx context.Context, p payload.Payload)
}

// Option configures a Bus
type Option func(*Bus)

// WithSynchronous makes Emit dispatch inline instead of on goroutines
func WithSynchronous() Option {
	return func(b *Bus) { b.sync = true }
}

// WithClock overrides the time source used for OccurredAt
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// Bus fans domain events out to a fixed list of subscribers
type Bus struct {
	subscribers []Subscriber
	logger      zerolog.Logger
	now         func() time.Time
	sync        bool
	wg          sync.WaitGroup
}

// NewBus creates a bus. The subscriber list is copied and never changes afterwards.
func NewBus(logger zerolog.Logger, subscribers []Subscriber, opts ...Option) *Bus {
	subs := make([]Subscriber, len(subscribers))
	copy(subs, subscribers)

	b := &Bus{
		subscribers: subs,
		logger:      logger.With().Str("component", "event-bus").Logger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit publishes p to every subscriber. It never blocks on delivery and never
// returns subscriber failures; those are logged.
func (b *Bus) Emit(ctx context.Context, p payload.Payload) {
	if isNil(p) {
		b.logger.Error().Msg("emit called with nil payload")
		return
	}
	if err := p.Type().Validate(); err != nil {
		b.logger.Error().Err(err).Msg("emit called with unknown event type")
		return
	}

	d := Domain{
		ID:         uuid.New().String(),
		Payload:    p,
		OccurredAt: b.now().UTC(),
	}

	dispatchCtx := context.WithoutCancel(ctx)
	for _, s := range b.subscribers {
		if b.sync {
			b.log(d, b.dispatch(dispatchCtx, s, d))
			continue
		}

		b.wg.Add(1)
		go func(s Subscriber) {
			defer b.wg.Done()
			b.log(d, b.dispatch(dispatchCtx, s, d))
		}(s)
	}
}

// isNil also catches a nil pointer wrapped in the interface
func isNil(p payload.Payload) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// Wait blocks until every in-flight dispatch has finished
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Subscribers returns the names of the registered subscribers
func (b *Bus) Subscribers() []string {
	names := make([]string, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		names = append(names, s.Name())
	}
	return names
}

func (b *Bus) dispatch(ctx context.Context, s Subscriber, d Domain) (res Result) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			res = Result{
				Subscriber: s.Name(),
				Err:        fmt.Errorf("subscriber panicked: %v", rec),
				Detail:     string(debug.Stack()),
			}
		}
		if res.Subscriber == "" {
			res.Subscriber = s.Name()
		}
		res.Duration = time.Since(start)
	}()

	return s.Handle(ctx, d)
}

func (b *Bus) log(d Domain, res Result) {
	var ev *zerolog.Event
	if res.OK() {
		ev = b.logger.Info()
	} else {
		ev = b.logger.Error().Err(res.Err)
	}

	ev.Str("event_id", d.ID).
		Str("event_type", d.Type().String()).
		Str("subscriber", res.Subscriber).
		Dur("duration", res.Duration)
	if res.Detail != "" {
		ev = ev.Str("detail", res.Detail)
	}
	ev.Msg("domain event dispatched")
}
