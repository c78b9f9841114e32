package event_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook/event"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_Emit(t *testing.T) {
	ctx := context.Background()

	t.Run("every subscriber receives the typed payload", func(t *testing.T) {
		var mu sync.Mutex
		var got []event.Domain

		record := func(ctx context.Context, d event.Domain) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, d)
			return nil
		}

		bus := event.NewBus(zerolog.Nop(), []event.Subscriber{
			event.NewSubscriber("a", record),
			event.NewSubscriber("b", record),
		})

		bus.Emit(ctx, payload.PaymentSuccess{Payment: payload.Payment{ID: "pay_1", Amount: 100}})
		bus.Wait()

		require.Len(t, got, 2)
		assert.Equal(t, got[0].ID, got[1].ID)
		assert.Equal(t, payload.PaymentSuccessType, got[0].Type())

		p, ok := got[0].Payload.(payload.PaymentSuccess)
		require.True(t, ok)
		assert.Equal(t, "pay_1", p.ID)
	})

	t.Run("subscriber errors are logged, not propagated", func(t *testing.T) {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)

		var after atomic.Bool
		bus := event.NewBus(logger, []event.Subscriber{
			event.NewSubscriber("broken", func(context.Context, event.Domain) error {
				return errors.New("endpoint lookup failed")
			}),
			event.NewSubscriber("healthy", func(context.Context, event.Domain) error {
				after.Store(true)
				return nil
			}),
		}, event.WithSynchronous())

		assert.NotPanics(t, func() {
			bus.Emit(ctx, payload.BillCreated{Bill: payload.Bill{ID: "bill_1"}})
		})

		assert.True(t, after.Load())
		assert.Contains(t, buf.String(), "endpoint lookup failed")
		assert.Contains(t, buf.String(), `"subscriber":"broken"`)
	})

	t.Run("panics are recovered into a failed result", func(t *testing.T) {
		var buf bytes.Buffer
		bus := event.NewBus(zerolog.New(&buf), []event.Subscriber{
			event.NewSubscriber("panicky", func(context.Context, event.Domain) error {
				panic("boom")
			}),
		}, event.WithSynchronous())

		assert.NotPanics(t, func() {
			bus.Emit(ctx, payload.UserCreated{User: payload.User{ID: "u1"}})
		})
		assert.Contains(t, buf.String(), "subscriber panicked: boom")
	})

	t.Run("dispatch survives caller cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)

		seen := make(chan error, 1)
		bus := event.NewBus(zerolog.Nop(), []event.Subscriber{
			event.NewSubscriber("slow", func(ctx context.Context, _ event.Domain) error {
				time.Sleep(10 * time.Millisecond)
				seen <- ctx.Err()
				return nil
			}),
		})

		bus.Emit(cctx, payload.DocumentUploaded{ID: "doc_1", Name: "a.pdf"})
		cancel()
		bus.Wait()

		assert.NoError(t, <-seen)
	})

	t.Run("nil payload is ignored", func(t *testing.T) {
		var calls atomic.Int32
		bus := event.NewBus(zerolog.Nop(), []event.Subscriber{
			event.NewSubscriber("count", func(context.Context, event.Domain) error {
				calls.Add(1)
				return nil
			}),
		}, event.WithSynchronous())

		bus.Emit(ctx, nil)
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("nil pointer payload is ignored", func(t *testing.T) {
		var buf bytes.Buffer
		var calls atomic.Int32
		bus := event.NewBus(zerolog.New(&buf), []event.Subscriber{
			event.NewSubscriber("count", func(context.Context, event.Domain) error {
				calls.Add(1)
				return nil
			}),
		}, event.WithSynchronous())

		var p *payload.PaymentSuccess
		assert.NotPanics(t, func() { bus.Emit(ctx, p) })
		assert.Equal(t, int32(0), calls.Load())
		assert.Contains(t, buf.String(), "emit called with nil payload")
	})

	t.Run("occurred at comes from the clock", func(t *testing.T) {
		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

		var got time.Time
		bus := event.NewBus(zerolog.Nop(), []event.Subscriber{
			event.NewSubscriber("clock", func(_ context.Context, d event.Domain) error {
				got = d.OccurredAt
				return nil
			}),
		}, event.WithSynchronous(), event.WithClock(func() time.Time { return fixed }))

		bus.Emit(ctx, payload.ReportGenerated{ID: "r1", Kind: "monthly"})
		assert.Equal(t, fixed, got)
	})
}

func TestBus_SubscribersAreFixed(t *testing.T) {
	subs := []event.Subscriber{event.NewSubscriber("a", func(context.Context, event.Domain) error { return nil })}
	bus := event.NewBus(zerolog.Nop(), subs)

	subs[0] = event.NewSubscriber("replaced", func(context.Context, event.Domain) error { return nil })

	assert.Equal(t, []string{"a"}, bus.Subscribers())
}
