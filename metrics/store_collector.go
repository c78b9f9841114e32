package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
	whredis "github.com/marcelsud/webhook-dispatch/webhook/redis"
)

// HeartbeatSource lists live scheduler heartbeats
type HeartbeatSource interface {
	ActiveSchedulers(ctx context.Context) ([]whredis.SchedulerHeartbeat, error)
}

type storeReader interface {
	webhook.EventReader
	webhook.AttemptReader
}

// StoreCollector implements Collector on top of the delivery store
type StoreCollector struct {
	store      storeReader
	heartbeats HeartbeatSource
	clock      webhook.Clock
}

/* NewStoreCollector creates a collector reading events and attempts from store
 * heartbeats may be nil when the service runs without Redis
 */
func NewStoreCollector(store storeReader, heartbeats HeartbeatSource, clock webhook.Clock) *StoreCollector {
	if clock == nil {
		clock = webhook.SystemClock()
	}
	return &StoreCollector{store: store, heartbeats: heartbeats, clock: clock}
}

// Collect gathers all metrics
func (c *StoreCollector) Collect(ctx context.Context) (Metrics, error) {
	statusCounts, err := c.GetStatusCounts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting status counts: %w", err)
	}

	throughput, err := c.GetThroughput(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting throughput: %w", err)
	}

	schedulers, err := c.GetActiveSchedulers(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting active schedulers: %w", err)
	}

	return Metrics{
		StatusCounts: statusCounts,
		Throughput:   throughput,
		Schedulers:   schedulers,
		Timestamp:    c.clock.Now(),
	}, nil
}

// GetStatusCounts counts events in each status
func (c *StoreCollector) GetStatusCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, st := range []webhook.Status{webhook.Pending, webhook.Delivered, webhook.Failed} {
		events, err := c.store.ListEvents(ctx, webhook.EventFilter{Status: st})
		if err != nil {
			return nil, fmt.Errorf("listing %s events: %w", st, err)
		}
		counts[st.String()] = int64(len(events))
	}
	return counts, nil
}

// GetThroughput counts successful attempts in the last 1, 5 and 15 minutes
func (c *StoreCollector) GetThroughput(ctx context.Context) (ThroughputMetrics, error) {
	now := c.clock.Now()
	attempts, err := c.store.ListAttempts(ctx, webhook.AttemptFilter{From: now.Add(-15 * time.Minute)})
	if err != nil {
		return ThroughputMetrics{}, fmt.Errorf("listing recent attempts: %w", err)
	}

	var tp ThroughputMetrics
	for _, a := range attempts {
		if !a.Succeeded() {
			continue
		}
		age := now.Sub(a.CreatedAt)
		if age <= time.Minute {
			tp.LastMinute++
		}
		if age <= 5*time.Minute {
			tp.LastFiveMinutes++
		}
		tp.LastFifteenMinutes++
	}
	return tp, nil
}

// GetActiveSchedulers returns schedulers with a live heartbeat
func (c *StoreCollector) GetActiveSchedulers(ctx context.Context) ([]SchedulerInfo, error) {
	if c.heartbeats == nil {
		return []SchedulerInfo{}, nil
	}

	beats, err := c.heartbeats.ActiveSchedulers(ctx)
	if err != nil {
		return nil, err
	}

	schedulers := make([]SchedulerInfo, 0, len(beats))
	for _, hb := range beats {
		schedulers = append(schedulers, SchedulerInfo{
			SchedulerID:   hb.SchedulerID,
			Hostname:      hb.Hostname,
			Status:        hb.Status,
			LastAttempted: hb.LastAttempted,
			LastHeartbeat: hb.LastHeartbeat,
		})
	}
	return schedulers, nil
}
